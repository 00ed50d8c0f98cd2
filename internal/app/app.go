package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/language"

	"github.com/xenking/food-explorer/internal/barcode"
	"github.com/xenking/food-explorer/internal/capture"
	"github.com/xenking/food-explorer/internal/handler"
	"github.com/xenking/food-explorer/internal/lookup"
	"github.com/xenking/food-explorer/internal/openfoodfacts"
	"github.com/xenking/food-explorer/internal/ordering"
	"github.com/xenking/food-explorer/internal/session"
	"github.com/xenking/food-explorer/pkg/health"
	"github.com/xenking/food-explorer/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("catalog", cfg.Catalog.BaseURL),
		zap.String("storage", cfg.Storage.Driver),
	)

	srv, err := newServer(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer srv.close()

	srv.health.Start(ctx, 10*time.Second)
	srv.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		// Hijacked websocket connections are invisible to server.Shutdown.
		if err := srv.sessions.Shutdown(shutdownCtx); err != nil {
			lg.Error("Session shutdown error", zap.Error(err))
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		srv.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// server is everything Run serves, built before listening.
type server struct {
	handler  http.Handler
	health   *health.Health
	sessions *session.Server
	closers  []func()
}

// close releases resources in reverse order of acquisition.
func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newServer(
	ctx context.Context,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	cfg *Config,
) (_ *server, rerr error) {
	s := &server{health: health.New()}
	defer func() {
		if rerr != nil {
			s.close()
		}
	}()

	tag, err := language.Parse(cfg.Locale)
	if err != nil {
		return nil, errors.Wrapf(err, "parse locale %q", cfg.Locale)
	}
	order := ordering.New(tag)

	// Catalog transport: live, replayed or recorded.
	src, err := newSource(cfg, lg, tp, mp)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, src.close)

	catalogClient := openfoodfacts.NewClient(src.fetcher,
		openfoodfacts.WithOrdering(order),
		openfoodfacts.WithTracerProvider(tp),
		openfoodfacts.WithLogger(lg.Named("catalog")),
	)

	// Lookup journal.
	repo, closeRepo, err := openJournal(ctx, cfg.Storage, lg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeRepo)

	lookups, err := lookup.New(catalogClient, repo, lookup.Options{
		NegativeTTL:   cfg.Lookup.NegativeTTL,
		BloomCapacity: cfg.Lookup.BloomCapacity,
		BloomFPR:      cfg.Lookup.BloomFPR,
		MeterProvider: mp,
		Logger:        lg.Named("lookup"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create lookup client")
	}
	if err := lookups.Warm(ctx); err != nil {
		// A cold filter only costs journal queries.
		lg.Warn("Negative cache not warmed", zap.Error(err))
	}

	s.health.AddReadinessCheck("catalog", 5*time.Second, health.PingCheck("catalog", src.pinger),
		health.WithThresholds(3, 1),
	)
	s.health.AddReadinessCheck("storage", 5*time.Second, health.PingCheck("storage", repo))
	s.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Presentation sessions.
	s.sessions, err = session.NewServer(session.Config{
		Catalog:  lookups,
		Ordering: order,
		Decoder:  barcode.New(),
		Capture: capture.Options{
			FrameWidth:    cfg.Capture.FrameWidth,
			FrameHeight:   cfg.Capture.FrameHeight,
			JPEGQuality:   cfg.Capture.JPEGQuality,
			DecodeTimeout: cfg.Capture.DecodeTimeout,
			Slots:         semaphore.NewWeighted(cfg.Capture.MaxConcurrentDecodes),
		},
		CheckOrigin:   originChecker(cfg.CORS.Origins),
		MeterProvider: mp,
		Logger:        lg.Named("session"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create session server")
	}

	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests())
	r.Get("/livez", s.health.LiveEndpoint)
	r.Get("/readyz", s.health.ReadyEndpoint)
	r.Mount("/api", handler.New(lookups, lookups).Routes())
	r.Handle("/ws", s.sessions)
	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	s.handler = httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowMethods:     []string{http.MethodGet, http.MethodOptions},
			AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("food-explorer", tp, mp),
	)
	return s, nil
}
