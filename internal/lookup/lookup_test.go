package lookup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/domain/journal"
	"github.com/xenking/food-explorer/internal/storage/memory"
)

// mockCatalog knows exactly the products in known.
type mockCatalog struct {
	known   map[string]catalog.Product
	fail    error
	lookups atomic.Int32
}

func (m *mockCatalog) Search(context.Context, catalog.Query) (*catalog.ResultPage, error) {
	return &catalog.ResultPage{}, nil
}

func (m *mockCatalog) ListFacets(context.Context) ([]catalog.Facet, error) {
	return []catalog.Facet{{Name: "Snacks", ProductCount: 500}}, nil
}

func (m *mockCatalog) LookupByCode(_ context.Context, code string) (*catalog.Product, error) {
	m.lookups.Add(1)
	if m.fail != nil {
		return nil, m.fail
	}
	p, ok := m.known[code]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

// countingJournal counts Latest queries and can be made to fail.
type countingJournal struct {
	journal.Repository
	latest    atomic.Int32
	recordErr error
}

func (c *countingJournal) Latest(ctx context.Context, code string) (*journal.Entry, error) {
	c.latest.Add(1)
	return c.Repository.Latest(ctx, code)
}

func (c *countingJournal) Record(ctx context.Context, e journal.Entry) error {
	if c.recordErr != nil {
		return c.recordErr
	}
	return c.Repository.Record(ctx, e)
}

type fixture struct {
	client  *Client
	catalog *mockCatalog
	journal *countingJournal
	now     time.Time
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		catalog: &mockCatalog{known: map[string]catalog.Product{
			"3017620422003": {Code: "3017620422003", Name: "Nutella"},
		}},
		journal: &countingJournal{Repository: memory.NewJournal()},
		now:     time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	c, err := New(f.catalog, f.journal, Options{NegativeTTL: ttl, BloomCapacity: 1000})
	require.NoError(t, err)
	c.now = func() time.Time { return f.now }
	f.client = c
	return f
}

func TestLookup_FoundIsJournaled(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	p, err := f.client.LookupByCode(ctx, " 3017620422003 ")
	require.NoError(t, err)
	assert.Equal(t, "Nutella", p.Name)

	// Never seen missing, so the journal is not consulted.
	assert.Zero(t, f.journal.latest.Load())

	e, err := f.journal.Latest(ctx, "3017620422003")
	require.NoError(t, err)
	assert.Equal(t, journal.OutcomeFound, e.Outcome)
	assert.Equal(t, "Nutella", e.ProductName)
}

func TestLookup_NegativeCache(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.client.LookupByCode(ctx, "0000000000000")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.Equal(t, int32(1), f.catalog.lookups.Load())

	f.now = f.now.Add(30 * time.Minute)
	_, err = f.client.LookupByCode(ctx, "0000000000000")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, int32(1), f.catalog.lookups.Load(), "answered from the journal")

	f.now = f.now.Add(time.Hour)
	_, err = f.client.LookupByCode(ctx, "0000000000000")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, int32(2), f.catalog.lookups.Load(), "expired entries ask again")
}

func TestLookup_FoundAfterMissing(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.client.LookupByCode(ctx, "123")
	require.ErrorIs(t, err, catalog.ErrNotFound)

	// The product gets added upstream and someone looks it up directly.
	f.catalog.known["123"] = catalog.Product{Code: "123", Name: "New"}
	f.now = f.now.Add(2 * time.Hour)
	_, err = f.client.LookupByCode(ctx, "123")
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	p, err := f.client.LookupByCode(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, "New", p.Name)
}

func TestLookup_DisabledTTL(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	for range 3 {
		_, err := f.client.LookupByCode(ctx, "404")
		require.ErrorIs(t, err, catalog.ErrNotFound)
	}
	assert.Equal(t, int32(3), f.catalog.lookups.Load())
	assert.Zero(t, f.journal.latest.Load())

	entries, err := f.client.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestLookup_NetworkFailureIsNotCached(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.catalog.fail = &catalog.NetworkError{Op: "lookup", Err: errors.New("timeout")}
	ctx := context.Background()

	_, err := f.client.LookupByCode(ctx, "3017620422003")
	require.True(t, catalog.IsNetwork(err))

	f.catalog.fail = nil
	p, err := f.client.LookupByCode(ctx, "3017620422003")
	require.NoError(t, err)
	assert.Equal(t, "Nutella", p.Name)

	entries, err := f.client.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.ElementsMatch(t,
		[]journal.Outcome{journal.OutcomeFailed, journal.OutcomeFound},
		[]journal.Outcome{entries[0].Outcome, entries[1].Outcome},
	)
}

func TestLookup_JournalFailureDoesNotFailLookup(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.journal.recordErr = errors.New("disk full")

	p, err := f.client.LookupByCode(context.Background(), "3017620422003")
	require.NoError(t, err)
	assert.Equal(t, "Nutella", p.Name)
}

func TestLookup_BlankCode(t *testing.T) {
	f := newFixture(t, time.Hour)

	_, err := f.client.LookupByCode(context.Background(), "  ")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Zero(t, f.catalog.lookups.Load())
}

func TestLookup_Warm(t *testing.T) {
	ctx := context.Background()
	shared := memory.NewJournal()
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, shared.Record(ctx, journal.NewEntry("777", nil, catalog.ErrNotFound, at.Add(-10*time.Minute))))

	cat := &mockCatalog{known: map[string]catalog.Product{}}
	c, err := New(cat, shared, Options{NegativeTTL: time.Hour})
	require.NoError(t, err)
	c.now = func() time.Time { return at }

	// A fresh process has an empty filter until warmed.
	_, err = c.LookupByCode(ctx, "777")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, int32(1), cat.lookups.Load())

	c2, err := New(cat, shared, Options{NegativeTTL: time.Hour})
	require.NoError(t, err)
	c2.now = func() time.Time { return at }
	require.NoError(t, c2.Warm(ctx))

	_, err = c2.LookupByCode(ctx, "777")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, int32(1), cat.lookups.Load())
}

func TestLookup_PassThrough(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	facets, err := f.client.ListFacets(ctx)
	require.NoError(t, err)
	assert.Len(t, facets, 1)

	page, err := f.client.Search(ctx, catalog.DefaultQuery())
	require.NoError(t, err)
	assert.Empty(t, page.Products)
}
