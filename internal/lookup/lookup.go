// Package lookup journals product lookups and answers recently missing codes
// without asking the catalog again.
package lookup

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/domain/journal"
)

var _ catalog.Client = (*Client)(nil)

// Options configures a Client.
type Options struct {
	// NegativeTTL is how long a not-found answer is reused. Zero disables the
	// negative cache; lookups are still journaled.
	NegativeTTL time.Duration
	// BloomCapacity and BloomFPR size the filter of codes seen missing.
	BloomCapacity uint
	BloomFPR      float64

	MeterProvider metric.MeterProvider
	Logger        *zap.Logger
}

func (o *Options) setDefaults() {
	if o.BloomCapacity == 0 {
		o.BloomCapacity = 100_000
	}
	if o.BloomFPR <= 0 || o.BloomFPR >= 1 {
		o.BloomFPR = 0.01
	}
	if o.MeterProvider == nil {
		o.MeterProvider = noop.NewMeterProvider()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Client decorates a catalog.Client. Searches and facets pass through.
type Client struct {
	next catalog.Client
	repo journal.Repository
	ttl  time.Duration
	now  func() time.Time
	lg   *zap.Logger

	// missing holds every code ever journaled as not found in this process
	// (or warmed from storage). A negative test skips the journal query.
	mu      sync.RWMutex
	missing *bloom.BloomFilter

	lookups metric.Int64Counter
}

// New wraps next.
func New(next catalog.Client, repo journal.Repository, opts Options) (*Client, error) {
	opts.setDefaults()

	lookups, err := opts.MeterProvider.Meter("lookup").Int64Counter("explorer.lookups",
		metric.WithDescription("Product lookups by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "lookups counter")
	}

	return &Client{
		next:    next,
		repo:    repo,
		ttl:     opts.NegativeTTL,
		now:     time.Now,
		lg:      opts.Logger,
		missing: bloom.NewWithEstimates(opts.BloomCapacity, opts.BloomFPR),
		lookups: lookups,
	}, nil
}

// Warm loads the codes reported missing within the TTL into the filter.
func (c *Client) Warm(ctx context.Context) error {
	if c.ttl <= 0 {
		return nil
	}
	codes, err := c.repo.MissingSince(ctx, c.now().Add(-c.ttl))
	if err != nil {
		return errors.Wrap(err, "load missing codes")
	}

	c.mu.Lock()
	for _, code := range codes {
		c.missing.AddString(code)
	}
	c.mu.Unlock()

	c.lg.Info("Negative cache warmed", zap.Int("codes", len(codes)))
	return nil
}

func (c *Client) Search(ctx context.Context, q catalog.Query) (*catalog.ResultPage, error) {
	return c.next.Search(ctx, q)
}

func (c *Client) ListFacets(ctx context.Context) ([]catalog.Facet, error) {
	return c.next.ListFacets(ctx)
}

// LookupByCode answers from the journal when code was reported missing less
// than the TTL ago, otherwise asks the wrapped client and journals the result.
func (c *Client) LookupByCode(ctx context.Context, code string) (*catalog.Product, error) {
	code = catalog.NormalizeCode(code)
	if code == "" {
		return nil, catalog.ErrNotFound
	}

	if c.recentlyMissing(ctx, code) {
		c.count(ctx, "cached_not_found")
		return nil, catalog.ErrNotFound
	}

	p, err := c.next.LookupByCode(ctx, code)
	if err != nil && ctx.Err() != nil {
		// Abandoned by the caller; nothing was learned about the code.
		return nil, err
	}

	entry := journal.NewEntry(code, p, err, c.now())
	if entry.Outcome == journal.OutcomeNotFound {
		c.mu.Lock()
		c.missing.AddString(code)
		c.mu.Unlock()
	}
	if rerr := c.repo.Record(context.WithoutCancel(ctx), entry); rerr != nil {
		c.lg.Warn("Failed to journal lookup",
			zap.String("code", code),
			zap.String("outcome", string(entry.Outcome)),
			zap.Error(rerr),
		)
	}
	c.count(ctx, string(entry.Outcome))

	return p, err
}

func (c *Client) recentlyMissing(ctx context.Context, code string) bool {
	if c.ttl <= 0 {
		return false
	}

	c.mu.RLock()
	maybe := c.missing.TestString(code)
	c.mu.RUnlock()
	if !maybe {
		return false
	}

	e, err := c.repo.Latest(ctx, code)
	switch {
	case errors.Is(err, journal.ErrNoEntry):
		return false
	case err != nil:
		c.lg.Warn("Journal unavailable, asking catalog", zap.String("code", code), zap.Error(err))
		return false
	}
	return e.Outcome == journal.OutcomeNotFound && c.now().Sub(e.CreatedAt) < c.ttl
}

func (c *Client) count(ctx context.Context, outcome string) {
	c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// History returns the newest journal entries.
func (c *Client) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	return c.repo.Recent(ctx, limit)
}
