// Package sqlite stores the lookup journal in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/xenking/food-explorer/db"
	"github.com/xenking/food-explorer/internal/domain/journal"
)

var _ journal.Repository = (*Journal)(nil)

// Journal is a journal.Repository backed by SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if err := migrate(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)
	return &Journal{db: sqlDB}, nil
}

func migrate(ctx context.Context, sqlDB *sql.DB) error {
	fsys, err := db.Migrations("sqlite")
	if err != nil {
		return errors.Wrap(err, "migrations")
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, sqlDB, fsys)
	if err != nil {
		return errors.Wrap(err, "create migration provider")
	}
	if _, err := provider.Up(ctx); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Record(ctx context.Context, e journal.Entry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO lookup_journal (id, code, outcome, product_name, energy_kcal, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Code, string(e.Outcome), e.ProductName, e.EnergyKcal, e.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return errors.Wrapf(err, "record %q", e.Code)
	}
	return nil
}

const selectEntry = `SELECT id, code, outcome, product_name, energy_kcal, created_at FROM lookup_journal`

func scanEntry(row interface{ Scan(dest ...any) error }) (journal.Entry, error) {
	var (
		e       journal.Entry
		id      string
		outcome string
		energy  decimal.NullDecimal
		created int64
	)
	if err := row.Scan(&id, &e.Code, &outcome, &e.ProductName, &energy, &created); err != nil {
		return e, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return e, errors.Wrapf(err, "parse id %q", id)
	}
	e.ID = parsed
	e.Outcome = journal.Outcome(outcome)
	e.EnergyKcal = energy
	e.CreatedAt = time.UnixMicro(created).UTC()
	return e, nil
}

func (j *Journal) Latest(ctx context.Context, code string) (*journal.Entry, error) {
	row := j.db.QueryRowContext(ctx,
		selectEntry+` WHERE code = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, code)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, journal.ErrNoEntry
	}
	if err != nil {
		return nil, errors.Wrapf(err, "latest %q", code)
	}
	return &e, nil
}

func (j *Journal) MissingSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT DISTINCT code FROM lookup_journal WHERE outcome = ? AND created_at >= ?`,
		string(journal.OutcomeNotFound), since.UnixMicro(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query missing")
	}
	defer func() { _ = rows.Close() }()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrap(err, "scan code")
		}
		codes = append(codes, code)
	}
	return codes, errors.Wrap(rows.Err(), "iterate missing")
}

func (j *Journal) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		selectEntry+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent")
	}
	defer func() { _ = rows.Close() }()

	var out []journal.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan entry")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate recent")
}

func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}
