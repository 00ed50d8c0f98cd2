package app

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/food-explorer/internal/domain/journal"
	"github.com/xenking/food-explorer/internal/fixture"
	"github.com/xenking/food-explorer/internal/openfoodfacts"
	"github.com/xenking/food-explorer/internal/storage/memory"
	"github.com/xenking/food-explorer/internal/storage/postgres"
	"github.com/xenking/food-explorer/internal/storage/sqlite"
	"github.com/xenking/food-explorer/pkg/health"
)

// source is the catalog transport chosen by configuration.
type source struct {
	fetcher openfoodfacts.Fetcher
	pinger  health.Pinger
	close   func()
}

func newSource(cfg *Config, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*source, error) {
	fx := cfg.Fixtures
	if fx.Path != "" && !fx.Record {
		store, err := fixture.Load(fx.Path)
		if err != nil {
			return nil, errors.Wrap(err, "load fixtures")
		}
		lg.Info("Replaying recorded catalog", zap.String("path", fx.Path), zap.Int("responses", store.Len()))
		f := fixture.NewFetcher(store)
		return &source{fetcher: f, pinger: f, close: func() {}}, nil
	}

	live, err := openfoodfacts.NewHTTPFetcher(cfg.Catalog.BaseURL,
		openfoodfacts.WithTimeout(cfg.Catalog.Timeout),
		openfoodfacts.WithRetry(cfg.Catalog.MaxRetries, cfg.Catalog.RetryInitial),
		openfoodfacts.WithUserAgent(cfg.Catalog.UserAgent),
		openfoodfacts.WithBudgets(cfg.Catalog.SearchPerMinute, cfg.Catalog.ReadPerMinute),
		openfoodfacts.WithTelemetry(tp, mp),
		openfoodfacts.WithFetcherLogger(lg.Named("fetcher")),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create catalog fetcher")
	}
	if !fx.Record {
		return &source{fetcher: live, pinger: live, close: func() {}}, nil
	}

	rec := fixture.NewRecorder(live, fixture.NewStore(), lg.Named("recorder"))
	return &source{
		fetcher: rec,
		pinger:  live,
		close: func() {
			if err := rec.Store().Save(fx.Path); err != nil {
				lg.Error("Save fixtures", zap.Error(err))
				return
			}
			lg.Info("Fixtures saved", zap.String("path", fx.Path), zap.Int("responses", rec.Store().Len()))
		},
	}, nil
}

// openJournal opens the configured journal storage and returns a function
// releasing it.
func openJournal(ctx context.Context, cfg StorageConfig, lg *zap.Logger) (journal.Repository, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		return memory.NewJournal(), func() {}, nil
	case "sqlite":
		j, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open sqlite journal")
		}
		return j, func() {
			if err := j.Close(); err != nil {
				lg.Warn("Close sqlite journal", zap.Error(err))
			}
		}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return postgres.NewJournalRepository(pool), pool.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// originChecker admits websocket upgrades from the configured CORS origins.
// Requests without an Origin header come from non-browser clients.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}
