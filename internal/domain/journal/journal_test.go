package journal

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/food-explorer/internal/domain/catalog"
)

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeFound, OutcomeOf(nil))
	assert.Equal(t, OutcomeNotFound, OutcomeOf(errors.Wrap(catalog.ErrNotFound, "lookup")))
	assert.Equal(t, OutcomeFailed, OutcomeOf(&catalog.NetworkError{Op: "lookup", Err: errors.New("reset")}))
}

func TestNewEntry(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	p := &catalog.Product{
		Code:      "3017620422003",
		Name:      "Nutella",
		Nutrients: catalog.Nutrients{EnergyKcal: decimal.NewFromInt(539), HasEnergy: true},
	}

	found := NewEntry(p.Code, p, nil, at)
	assert.Equal(t, OutcomeFound, found.Outcome)
	assert.Equal(t, "Nutella", found.ProductName)
	assert.True(t, found.EnergyKcal.Valid)
	assert.True(t, decimal.NewFromInt(539).Equal(found.EnergyKcal.Decimal))
	assert.Equal(t, time.UTC, found.CreatedAt.Location())
	assert.NotEqual(t, found.ID, NewEntry(p.Code, p, nil, at).ID)

	missing := NewEntry("0000000000000", nil, catalog.ErrNotFound, at)
	assert.Equal(t, OutcomeNotFound, missing.Outcome)
	assert.Empty(t, missing.ProductName)
	assert.False(t, missing.EnergyKcal.Valid)

	noEnergy := NewEntry("1", &catalog.Product{Name: "Crackers"}, nil, at)
	assert.False(t, noEnergy.EnergyKcal.Valid)

	water := NewEntry("2", &catalog.Product{Name: "Water", Nutrients: catalog.Nutrients{HasEnergy: true}}, nil, at)
	require.True(t, water.EnergyKcal.Valid, "zero kcal is a known value")
	assert.True(t, water.EnergyKcal.Decimal.IsZero())
}

func TestOutcomeValid(t *testing.T) {
	assert.True(t, OutcomeFailed.Valid())
	assert.False(t, Outcome("maybe").Valid())
}
