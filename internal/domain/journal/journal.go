// Package journal defines the lookup journal: one entry per product lookup by
// code, recording whether the catalog knew the code.
package journal

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/food-explorer/internal/domain/catalog"
)

// ErrNoEntry is returned when a code has never been journaled.
var ErrNoEntry = errors.New("no journal entry")

// Outcome is the result of a lookup.
type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeFailed   Outcome = "failed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeFound, OutcomeNotFound, OutcomeFailed:
		return true
	}
	return false
}

// OutcomeOf classifies a lookup result.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeFound
	case errors.Is(err, catalog.ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeFailed
	}
}

// Entry is a single journaled lookup.
type Entry struct {
	ID          uuid.UUID
	Code        string
	Outcome     Outcome
	ProductName string
	EnergyKcal  decimal.NullDecimal
	CreatedAt   time.Time
}

// NewEntry builds an entry for a lookup of code that produced p (nil unless
// found) and err.
func NewEntry(code string, p *catalog.Product, err error, at time.Time) Entry {
	e := Entry{
		ID:        uuid.New(),
		Code:      code,
		Outcome:   OutcomeOf(err),
		CreatedAt: at.UTC(),
	}
	if p != nil && e.Outcome == OutcomeFound {
		e.ProductName = p.Name
		if p.Nutrients.HasEnergy {
			e.EnergyKcal = decimal.NewNullDecimal(p.Nutrients.EnergyKcal)
		}
	}
	return e
}

// Repository stores journal entries.
type Repository interface {
	// Record appends an entry.
	Record(ctx context.Context, e Entry) error
	// Latest returns the newest entry for code, or ErrNoEntry.
	Latest(ctx context.Context, code string) (*Entry, error)
	// MissingSince returns the distinct codes journaled as not found at or
	// after since.
	MissingSince(ctx context.Context, since time.Time) ([]string, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}
