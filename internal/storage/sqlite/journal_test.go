package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/domain/journal"
	"github.com/xenking/food-explorer/internal/domain/journal/journaltest"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal(t *testing.T) {
	journaltest.Run(t, func(t *testing.T) journal.Repository {
		return openTemp(t)
	})
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(ctx, path)
	require.NoError(t, err)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.Record(ctx, journal.NewEntry("99", nil, catalog.ErrNotFound, at)))
	require.NoError(t, j.Close())

	// Migrations are idempotent and data survives.
	j, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	got, err := j.Latest(ctx, "99")
	require.NoError(t, err)
	assert.Equal(t, journal.OutcomeNotFound, got.Outcome)
	assert.True(t, at.Equal(got.CreatedAt))
}
