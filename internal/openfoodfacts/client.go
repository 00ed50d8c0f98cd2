// Package openfoodfacts implements catalog.Client against the Open Food Facts
// public API.
package openfoodfacts

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/food-explorer/internal/domain/catalog"
	"github.com/xenking/food-explorer/internal/ordering"
)

const (
	searchPath     = "/cgi/search.pl"
	categoriesPath = "/categories.json"
)

func productPath(code string) string {
	return "/api/v0/product/" + url.PathEscape(code) + ".json"
}

var _ catalog.Client = (*Client)(nil)

// Client is the catalog client. It is safe for concurrent use.
type Client struct {
	fetcher Fetcher
	order   *ordering.Engine
	tracer  trace.Tracer
	lg      *zap.Logger
}

// Option configures a Client.
type Option func(c *Client)

// WithOrdering sets the engine used to re-order result pages.
func WithOrdering(e *ordering.Engine) Option {
	return func(c *Client) { c.order = e }
}

// WithTracerProvider sets the provider for catalog operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer("openfoodfacts") }
}

// WithLogger sets the client logger.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Client) { c.lg = lg }
}

// NewClient returns a Client reading documents through f.
func NewClient(f Fetcher, opts ...Option) *Client {
	c := &Client{
		fetcher: f,
		order:   ordering.Default(),
		tracer:  otel.GetTracerProvider().Tracer("openfoodfacts"),
		lg:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SearchValues renders q as catalog search parameters.
func SearchValues(q catalog.Query) url.Values {
	v := url.Values{}
	v.Set("action", "process")
	v.Set("json", "true")
	v.Set("page_size", strconv.Itoa(catalog.PageSize))
	v.Set("page", strconv.Itoa(q.Page))
	if q.Text != "" {
		v.Set("search_terms", q.Text)
	}
	if q.Category != "" {
		v.Set("tagtype_0", "categories")
		v.Set("tag_contains_0", "contains")
		v.Set("tag_0", q.Category)
	}
	if q.SortField != "" {
		v.Set("sort_by", string(q.SortField))
		v.Set("sort_order", string(q.SortDirection))
	}
	return v
}

// Search fetches one page of results and re-orders it by the query's sort.
func (c *Client) Search(ctx context.Context, q catalog.Query) (_ *catalog.ResultPage, rerr error) {
	if err := q.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid query")
	}

	ctx, span := c.tracer.Start(ctx, "openfoodfacts.Search", trace.WithAttributes(
		attribute.String("catalog.query.text", q.Text),
		attribute.String("catalog.query.category", q.Category),
		attribute.String("catalog.query.sort", string(q.SortField)+" "+string(q.SortDirection)),
		attribute.Int("catalog.query.page", q.Page),
	))
	defer func() { endSpan(span, rerr) }()

	body, err := c.fetcher.Fetch(ctx, searchPath, SearchValues(q))
	if err != nil {
		return nil, &catalog.NetworkError{Op: "search", Err: err}
	}
	resp, err := decodeSearch(body)
	if err != nil {
		return nil, &catalog.NetworkError{Op: "search", Err: err}
	}

	page := &catalog.ResultPage{
		Products: resp.Products,
		Total:    resp.Count,
		HasTotal: resp.HasCount,
	}
	if len(page.Products) > 0 {
		page.Products = c.order.Order(page.Products, q.SortField, q.SortDirection)
	}
	span.SetAttributes(attribute.Int("catalog.result.count", len(page.Products)))

	c.lg.Debug("Search",
		zap.String("text", q.Text),
		zap.String("category", q.Category),
		zap.Int("page", q.Page),
		zap.Int("products", len(page.Products)),
		zap.Int("total", page.Total),
	)
	return page, nil
}

// LookupByCode fetches a single product. A code the catalog does not know
// yields catalog.ErrNotFound.
func (c *Client) LookupByCode(ctx context.Context, code string) (_ *catalog.Product, rerr error) {
	code = catalog.NormalizeCode(code)
	if code == "" {
		return nil, catalog.ErrNotFound
	}

	ctx, span := c.tracer.Start(ctx, "openfoodfacts.LookupByCode",
		trace.WithAttributes(attribute.String("catalog.code", code)),
	)
	defer func() { endSpan(span, rerr) }()

	body, err := c.fetcher.Fetch(ctx, productPath(code), nil)
	if err != nil {
		if se := new(StatusError); errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, catalog.ErrNotFound
		}
		return nil, &catalog.NetworkError{Op: "lookup", Err: err}
	}
	resp, err := decodeLookup(body)
	if err != nil {
		return nil, &catalog.NetworkError{Op: "lookup", Err: err}
	}
	if resp.Status != 1 || resp.Product == nil {
		return nil, catalog.ErrNotFound
	}

	p := *resp.Product
	if p.Code == "" {
		p.Code = code
	}
	return &p, nil
}

// ListFacets returns the categories worth offering as filters.
func (c *Client) ListFacets(ctx context.Context) (_ []catalog.Facet, rerr error) {
	ctx, span := c.tracer.Start(ctx, "openfoodfacts.ListFacets")
	defer func() { endSpan(span, rerr) }()

	body, err := c.fetcher.Fetch(ctx, categoriesPath, nil)
	if err != nil {
		return nil, &catalog.NetworkError{Op: "categories", Err: err}
	}
	facets, err := decodeFacets(body)
	if err != nil {
		return nil, &catalog.NetworkError{Op: "categories", Err: err}
	}
	return catalog.SelectFacets(facets), nil
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
