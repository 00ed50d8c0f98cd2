// Package explorer owns the query state of one browsing session.
//
// A Controller turns user events into catalog queries, runs at most one
// catalog request at a time, and applies only the response of the newest
// request. Superseded requests are cancelled and their late results dropped.
package explorer

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/ordering"
)

// Options configures a Controller.
type Options struct {
	// Ordering orders the merged visible set. Defaults to the root collation.
	Ordering *ordering.Engine
	Logger   *zap.Logger
	// OnChange receives every published snapshot, in order. It runs on the
	// controller's goroutines and must not call Dispatch.
	OnChange func(State)
	// ReloadConcurrency bounds parallel page fetches when reloading.
	ReloadConcurrency int
}

// Controller is safe for concurrent use.
type Controller struct {
	client      catalog.Client
	order       *ordering.Engine
	lg          *zap.Logger
	onChange    func(State)
	reloadLimit int

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// notifyMu is taken before mu is released so that snapshots reach
	// OnChange in version order.
	notifyMu sync.Mutex

	mu          sync.Mutex
	state       State
	gen         uint64
	cancel      context.CancelFunc
	listPending bool
	closed      bool
}

type job struct {
	gen    uint64
	mode   FetchMode
	query  catalog.Query
	code   string
	event  Event
	resume bool
}

// New returns an idle Controller. Call Start to load the first page.
func New(client catalog.Client, opts Options) *Controller {
	if opts.Ordering == nil {
		opts.Ordering = ordering.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReloadConcurrency <= 0 {
		opts.ReloadConcurrency = 4
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Controller{
		client:      client,
		order:       opts.Ordering,
		lg:          opts.Logger,
		onChange:    opts.OnChange,
		reloadLimit: opts.ReloadConcurrency,
		ctx:         ctx,
		stop:        stop,
		state:       initialState(),
	}
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Start loads the category facets and the first result page.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	go c.loadFacets()
	c.begin(job{mode: FetchReplace, query: c.state.Query})
	c.commitLocked()
}

// Dispatch applies ev and starts the fetch it calls for, cancelling any
// fetch still in flight. It never blocks on the network.
func (c *Controller) Dispatch(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if _, ok := ev.(PageAdvanced); ok && !c.canAdvance() {
		status := c.state.Status
		c.mu.Unlock()
		c.lg.Debug("Ignoring page advance", zap.String("status", string(status)))
		return
	}

	q, mode := Reduce(c.state.Query, ev)
	if mode == FetchNone {
		c.mu.Unlock()
		c.lg.Debug("Ignoring event", zap.String("event", fmt.Sprintf("%T", ev)))
		return
	}

	c.state.Query = q
	c.state.Error = ""
	c.state.Notice = ""

	j := job{mode: mode, query: q, event: ev}
	switch ev := ev.(type) {
	case BarcodeSubmitted:
		j.code = catalog.NormalizeCode(ev.Code)
	case ProductOpened:
		j.code = catalog.NormalizeCode(ev.Code)
	case BackToList:
		c.state.View = ViewList
		c.state.DetailCode = ""
		c.state.Detail = nil
	}
	if mode == FetchLookup {
		// The lookup cancels an unfinished list fetch; resume it afterwards.
		j.resume = c.listPending
	}

	c.begin(j)
	c.commitLocked()
}

// canAdvance reports whether "load more" makes sense now. Advancing while a
// fetch is in flight could skip a page that never arrived.
func (c *Controller) canAdvance() bool {
	return c.state.Status == StatusReady && c.state.HasMore && c.state.View == ViewList && !c.listPending
}

// Wait blocks until no fetch is in flight.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight fetches and waits for them. No snapshot is
// published after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()
}

// begin starts j as the newest generation. Must hold mu.
func (c *Controller) begin(j job) {
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	j.gen = c.gen

	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel

	if j.mode == FetchLookup {
		c.state.LookingUp = j.code
	} else {
		c.state.LookingUp = ""
		c.state.Status = StatusLoading
		c.listPending = true
	}

	c.lg.Debug("Fetch started",
		zap.Uint64("gen", j.gen),
		zap.Stringer("mode", j.mode),
		zap.String("text", j.query.Text),
		zap.String("category", j.query.Category),
		zap.Int("page", j.query.Page),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.run(ctx, j)
	}()
}

func (c *Controller) run(ctx context.Context, j job) {
	switch j.mode {
	case FetchReplace:
		page, err := c.client.Search(ctx, j.query)
		var products []catalog.Product
		if page != nil {
			products = page.Products
		}
		c.finishList(j, products, page, err)
	case FetchReload:
		products, last, err := c.fetchPages(ctx, j.query)
		c.finishList(j, products, last, err)
	case FetchAppend:
		page, err := c.client.Search(ctx, j.query)
		c.finishAppend(j, page, err)
	case FetchLookup:
		p, err := c.client.LookupByCode(ctx, j.code)
		c.finishLookup(j, p, err)
	}
}

// fetchPages loads pages 1..q.Page concurrently and concatenates them in page
// order. The last page decides whether more exist.
func (c *Controller) fetchPages(ctx context.Context, q catalog.Query) ([]catalog.Product, *catalog.ResultPage, error) {
	pages := make([]*catalog.ResultPage, q.Page)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.reloadLimit)
	for i := range pages {
		pq := q
		pq.Page = i + 1
		g.Go(func() error {
			page, err := c.client.Search(gctx, pq)
			if err != nil {
				return errors.Wrapf(err, "page %d", pq.Page)
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var products []catalog.Product
	for _, p := range pages {
		products = merge(products, p.Products)
	}
	return products, pages[len(pages)-1], nil
}

// current reports whether j may still mutate state. Must hold mu.
func (c *Controller) current(j job) bool {
	if c.closed || j.gen != c.gen {
		c.lg.Debug("Discarding superseded result", zap.Uint64("gen", j.gen), zap.Uint64("current", c.gen))
		return false
	}
	return true
}

func (c *Controller) finishList(j job, products []catalog.Product, last *catalog.ResultPage, err error) {
	c.mu.Lock()
	if !c.current(j) {
		c.mu.Unlock()
		return
	}
	c.listPending = false

	if err != nil {
		c.lg.Warn("Search failed", zap.Stringer("mode", j.mode), zap.Error(err))
		c.state.Products = nil
		c.state.Total = 0
		c.state.HasTotal = false
		c.state.HasMore = false
		c.state.Status = StatusFailed
		c.state.Error = failureMessage(err)
		c.commitLocked()
		return
	}

	c.state.Products = c.order.Order(merge(nil, products), j.query.SortField, j.query.SortDirection)
	c.setTotals(last)
	c.state.Status = StatusReady
	if len(c.state.Products) == 0 {
		c.state.Status = StatusEmpty
	}
	c.commitLocked()
}

func (c *Controller) finishAppend(j job, page *catalog.ResultPage, err error) {
	c.mu.Lock()
	if !c.current(j) {
		c.mu.Unlock()
		return
	}
	c.listPending = false

	if err != nil {
		c.lg.Warn("Loading more failed", zap.Int("page", j.query.Page), zap.Error(err))
		// Keep what is visible and allow another attempt at the same page.
		c.state.Query.Page = j.query.Page - 1
		c.state.Status = StatusReady
		c.state.Error = failureMessage(err)
		c.commitLocked()
		return
	}

	merged := merge(c.state.Products, page.Products)
	c.state.Products = c.order.Order(merged, j.query.SortField, j.query.SortDirection)
	c.setTotals(page)
	c.state.Status = StatusReady
	if len(c.state.Products) == 0 {
		c.state.Status = StatusEmpty
	}
	c.commitLocked()
}

// setTotals derives totals from the last fetched page. Must hold mu.
func (c *Controller) setTotals(last *catalog.ResultPage) {
	c.state.Total, c.state.HasTotal = 0, false
	c.state.HasMore = false
	if last == nil {
		return
	}
	c.state.Total, c.state.HasTotal = last.Total, last.HasTotal
	c.state.HasMore = len(last.Products) >= catalog.PageSize &&
		(!last.HasTotal || len(c.state.Products) < last.Total)
}

func (c *Controller) finishLookup(j job, p *catalog.Product, err error) {
	c.mu.Lock()
	if !c.current(j) {
		c.mu.Unlock()
		return
	}
	c.state.LookingUp = ""

	switch {
	case err == nil:
		c.state.View = ViewDetail
		c.state.DetailCode = p.Code
		if c.state.DetailCode == "" {
			c.state.DetailCode = j.code
		}
		c.state.Detail = p
	case errors.Is(err, catalog.ErrNotFound):
		c.lg.Info("Product not found", zap.String("code", j.code))
		c.state.Notice = notFoundNotice(j)
	default:
		c.lg.Warn("Lookup failed", zap.String("code", j.code), zap.Error(err))
		c.state.Error = fmt.Sprintf("Unable to look up product %s. Please try again.", j.code)
	}

	if j.resume {
		c.begin(job{mode: FetchReload, query: c.state.Query})
	}
	c.commitLocked()
}

func (c *Controller) loadFacets() {
	defer c.wg.Done()

	facets, err := c.client.ListFacets(c.ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.lg.Warn("Loading categories failed", zap.Error(err))
		c.state.FacetError = "Categories are unavailable right now."
	} else {
		c.state.Facets = facets
		c.state.FacetError = ""
	}
	c.commitLocked()
}

// commitLocked publishes the state and releases mu.
func (c *Controller) commitLocked() {
	c.state.Version++
	snap := c.state.clone()

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	if c.onChange != nil {
		c.onChange(snap)
	}
}

func failureMessage(err error) string {
	if catalog.IsNetwork(err) {
		return "Unable to reach the product catalog. Please try again."
	}
	return "Something went wrong while loading products. Please try again."
}

func notFoundNotice(j job) string {
	if _, ok := j.event.(ProductOpened); ok {
		return fmt.Sprintf("Product %s is no longer available.", j.code)
	}
	if j.code == "" {
		return "Enter a barcode to look up."
	}
	return fmt.Sprintf("No product found for barcode %s.", j.code)
}
