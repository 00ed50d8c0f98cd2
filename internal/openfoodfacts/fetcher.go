package openfoodfacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/food-explorer/pkg/ratelimit"
)

// DefaultBaseURL is the public Open Food Facts instance.
const DefaultBaseURL = "https://world.openfoodfacts.org"

const maxBodySize = 16 << 20

// ErrResponseTooLarge is returned for bodies over the size limit.
var ErrResponseTooLarge = errors.New("response too large")

// Fetcher retrieves a raw JSON document from the catalog.
type Fetcher interface {
	Fetch(ctx context.Context, path string, query url.Values) ([]byte, error)
}

// StatusError is a non-200 answer from the catalog.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.Path, e.Code)
}

// Retryable reports whether another attempt may succeed.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// HTTPFetcher talks to a live catalog over HTTP.
type HTTPFetcher struct {
	base      *url.URL
	client    *http.Client
	userAgent string
	maxTries  uint
	initial   time.Duration

	search *ratelimit.Window
	read   *ratelimit.Window

	tp trace.TracerProvider
	mp metric.MeterProvider
	lg *zap.Logger
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(f *HTTPFetcher)

// WithTimeout bounds every single attempt.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) { f.client.Timeout = d }
}

// WithRetry sets the attempt budget and the first backoff interval.
func WithRetry(maxTries uint, initial time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		if maxTries > 0 {
			f.maxTries = maxTries
		}
		if initial > 0 {
			f.initial = initial
		}
	}
}

// WithUserAgent sets the User-Agent header. The catalog asks API users to
// identify their application.
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

// WithBudgets limits requests per minute to the search endpoint and to the
// read endpoints (lookups, facets). Zero disables a budget.
func WithBudgets(searchPerMinute, readPerMinute int) FetcherOption {
	return func(f *HTTPFetcher) {
		f.search, f.read = nil, nil
		if searchPerMinute > 0 {
			f.search = ratelimit.NewWindow(searchPerMinute, time.Minute)
		}
		if readPerMinute > 0 {
			f.read = ratelimit.NewWindow(readPerMinute, time.Minute)
		}
	}
}

// WithTelemetry instruments the transport with the given providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) FetcherOption {
	return func(f *HTTPFetcher) {
		f.tp = tp
		f.mp = mp
	}
}

// WithFetcherLogger sets the logger used for retry notices.
func WithFetcherLogger(lg *zap.Logger) FetcherOption {
	return func(f *HTTPFetcher) { f.lg = lg }
}

// WithHTTPClient replaces the underlying client. Its transport is still
// wrapped with otelhttp.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		cp := *c
		f.client = &cp
	}
}

// NewHTTPFetcher returns a fetcher for the catalog at baseURL.
func NewHTTPFetcher(baseURL string, opts ...FetcherOption) (*HTTPFetcher, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute", baseURL)
	}

	f := &HTTPFetcher{
		base:      base,
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: "food-explorer/1.0",
		maxTries:  3,
		initial:   200 * time.Millisecond,
		lg:        zap.NewNop(),
	}
	for _, o := range opts {
		o(f)
	}

	transport := f.client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if f.tp != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(f.tp))
	}
	if f.mp != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(f.mp))
	}
	f.client.Transport = otelhttp.NewTransport(transport, otelOpts...)

	return f, nil
}

// budget returns the window limiting path and the key it is counted under.
// All requests of one class share a single key.
func (f *HTTPFetcher) budget(path string) (*ratelimit.Window, string) {
	if path == searchPath {
		return f.search, "search"
	}
	return f.read, "read"
}

// Fetch performs a GET with retries. Transport errors, 429 and 5xx are
// retried with exponential backoff; other statuses fail immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := f.base.JoinPath(path)
	u.RawQuery = query.Encode()
	target := u.String()

	w, key := f.budget(path)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initial

	return backoff.Retry(ctx, func() ([]byte, error) {
		// Every attempt counts against the budget, retries included.
		if w != nil {
			if err := w.Wait(ctx, key); err != nil {
				return nil, backoff.Permanent(errors.Wrap(err, "wait for upstream budget"))
			}
		}
		return f.get(ctx, path, target)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(f.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.lg.Debug("Retrying catalog request",
				zap.String("path", path),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
}

func (f *HTTPFetcher) get(ctx context.Context, path, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(errors.Wrap(err, "create request"))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		se := &StatusError{Code: resp.StatusCode, Path: path}
		if se.Retryable() {
			return nil, se
		}
		return nil, backoff.Permanent(se)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(body) > maxBodySize {
		return nil, backoff.Permanent(errors.Wrapf(ErrResponseTooLarge, "GET %s: over %d bytes", path, maxBodySize))
	}
	return body, nil
}

// Ping checks that the catalog host answers at all.
func (f *HTTPFetcher) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, f.base.String(), nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return &StatusError{Code: resp.StatusCode, Path: "/"}
	}
	return nil
}
