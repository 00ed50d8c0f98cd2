// Package journaltest holds the behaviour every journal.Repository must share.
package journaltest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/domain/journal"
)

// Run exercises a repository returned by newRepo. Each subtest gets a fresh,
// empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) journal.Repository) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, newRepo(t).Ping(context.Background()))
	})

	t.Run("LatestEmpty", func(t *testing.T) {
		_, err := newRepo(t).Latest(context.Background(), "123")
		assert.ErrorIs(t, err, journal.ErrNoEntry)
	})

	t.Run("LatestWins", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		p := &catalog.Product{Name: "Oat drink", Nutrients: catalog.Nutrients{EnergyKcal: decimal.RequireFromString("46.5"), HasEnergy: true}}
		require.NoError(t, repo.Record(ctx, journal.NewEntry("42", nil, catalog.ErrNotFound, base)))
		require.NoError(t, repo.Record(ctx, journal.NewEntry("42", p, nil, base.Add(time.Hour))))
		require.NoError(t, repo.Record(ctx, journal.NewEntry("7", nil, catalog.ErrNotFound, base.Add(2*time.Hour))))

		got, err := repo.Latest(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, journal.OutcomeFound, got.Outcome)
		assert.Equal(t, "Oat drink", got.ProductName)
		require.True(t, got.EnergyKcal.Valid)
		assert.True(t, decimal.RequireFromString("46.5").Equal(got.EnergyKcal.Decimal), got.EnergyKcal.Decimal.String())
		assert.True(t, base.Add(time.Hour).Equal(got.CreatedAt), got.CreatedAt.String())
	})

	t.Run("MissingSince", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		for _, e := range []journal.Entry{
			journal.NewEntry("old", nil, catalog.ErrNotFound, base.Add(-48*time.Hour)),
			journal.NewEntry("a", nil, catalog.ErrNotFound, base),
			journal.NewEntry("a", nil, catalog.ErrNotFound, base.Add(time.Minute)),
			journal.NewEntry("b", nil, catalog.ErrNotFound, base.Add(time.Hour)),
			journal.NewEntry("c", &catalog.Product{Name: "C"}, nil, base.Add(time.Hour)),
		} {
			require.NoError(t, repo.Record(ctx, e))
		}

		codes, err := repo.MissingSince(ctx, base.Add(-time.Hour))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, codes)
	})

	t.Run("Recent", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		for i := range 5 {
			e := journal.NewEntry(string(rune('a'+i)), nil, catalog.ErrNotFound, base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, repo.Record(ctx, e))
		}

		got, err := repo.Recent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "e", got[0].Code)
		assert.Equal(t, "d", got[1].Code)
		assert.Equal(t, "c", got[2].Code)
		assert.False(t, got[0].EnergyKcal.Valid)
		assert.Equal(t, journal.OutcomeNotFound, got[0].Outcome)

		all, err := repo.Recent(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}
