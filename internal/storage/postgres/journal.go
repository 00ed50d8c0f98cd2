package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/food-explorer/internal/domain/journal"
)

var _ journal.Repository = (*JournalRepository)(nil)

// JournalRepository implements journal.Repository backed by PostgreSQL.
type JournalRepository struct {
	pool *pgxpool.Pool
}

// NewJournalRepository returns a JournalRepository that uses the given pool.
func NewJournalRepository(pool *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{pool: pool}
}

// Record inserts a journal entry.
func (r *JournalRepository) Record(ctx context.Context, e journal.Entry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO lookup_journal (id, code, outcome, product_name, energy_kcal, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Code, string(e.Outcome), e.ProductName, e.EnergyKcal, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording lookup of %q: %w", e.Code, err)
	}
	return nil
}

const selectEntry = `SELECT id, code, outcome, product_name, energy_kcal, created_at FROM lookup_journal`

func scanEntry(row pgx.Row) (journal.Entry, error) {
	var (
		e       journal.Entry
		outcome string
	)
	if err := row.Scan(&e.ID, &e.Code, &outcome, &e.ProductName, &e.EnergyKcal, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Outcome = journal.Outcome(outcome)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// Latest returns the newest entry for code. Returns journal.ErrNoEntry when
// the code was never looked up.
func (r *JournalRepository) Latest(ctx context.Context, code string) (*journal.Entry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx,
		selectEntry+` WHERE code = $1 ORDER BY created_at DESC LIMIT 1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, journal.ErrNoEntry
		}
		return nil, fmt.Errorf("finding latest lookup of %q: %w", code, err)
	}
	return &e, nil
}

// MissingSince lists codes reported unknown at or after since.
func (r *JournalRepository) MissingSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT code FROM lookup_journal WHERE outcome = $1 AND created_at >= $2`,
		string(journal.OutcomeNotFound), since,
	)
	if err != nil {
		return nil, fmt.Errorf("listing missing codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting missing codes: %w", err)
	}
	return codes, nil
}

// Recent lists the newest entries.
func (r *JournalRepository) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, selectEntry+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent lookups: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Entry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, fmt.Errorf("collecting recent lookups: %w", err)
	}
	return entries, nil
}

// Ping checks connectivity.
func (r *JournalRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
