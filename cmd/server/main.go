// Package main is the entrypoint for the textpulse API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kiranshivaraju/textpulse/internal/ai/providers"
	"github.com/kiranshivaraju/textpulse/internal/analysis"
	"github.com/kiranshivaraju/textpulse/internal/api"
	"github.com/kiranshivaraju/textpulse/internal/api/handler"
	mw "github.com/kiranshivaraju/textpulse/internal/api/middleware"
	"github.com/kiranshivaraju/textpulse/internal/cache"
	"github.com/kiranshivaraju/textpulse/internal/config"
	"github.com/kiranshivaraju/textpulse/internal/metrics"
	"github.com/kiranshivaraju/textpulse/internal/queue"
	"github.com/kiranshivaraju/textpulse/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	// Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"env", cfg.Server.Env,
		"store", cfg.Backends.Store,
		"queue", cfg.Backends.Queue,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	a.start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "tls", cfg.Server.TLSEnabled())
		var err error
		if cfg.Server.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	if serveErr != nil {
		return serveErr
	}

	slog.Info("server stopped gracefully")
	return nil
}

// app owns every long-lived component of the server.
type app struct {
	handler http.Handler
	pool    *analysis.Pool
	reapers []*store.Reaper

	cancel context.CancelFunc
	done   chan struct{}
	// closers run in reverse order at shutdown.
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// newApp connects the configured backends and wires the HTTP surface.
// On error every component opened so far is closed again.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{done: make(chan struct{})}
	defer func() {
		if err != nil {
			_ = a.closeAll()
		}
	}()

	var counters cache.Cache
	var redisCache *cache.RedisCache
	if !cfg.Backends.UsesRedis() {
		counters = a.memoryCache(cfg)
	} else {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		a.closers = append(a.closers, namedCloser{"redis", redisCache.Close})
		if err := redisCache.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		counters = redisCache
		slog.Info("redis connected")
	}

	st, err := a.openStore(ctx, cfg, redisCache)
	if err != nil {
		return nil, err
	}

	var q queue.Queue
	switch cfg.Backends.Queue {
	case config.BackendRedis:
		q = queue.NewRedisQueue(redisCache.Client(), cfg.Jobs.TTL)
	default:
		q = queue.NewMemoryQueue()
	}
	a.closers = append(a.closers, namedCloser{"queue", q.Close})

	provider, err := providers.New(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", provider.Name())

	collector := metrics.NewCollector()
	svc := analysis.NewService(st, q,
		analysis.NewValidator(cfg.Jobs.MinTextLength, cfg.Jobs.MaxTextLength, cfg.Jobs.Models),
		cfg.Jobs.TTL,
		analysis.WithRecorder(collector),
	)
	a.pool = analysis.NewPool(q, st, provider, cfg.Jobs.TTL,
		analysis.WithWorkers(cfg.Jobs.WorkerConcurrency),
		analysis.WithInferenceTimeout(cfg.AI.InferenceTimeout),
		analysis.WithPoolRecorder(collector),
	)

	a.handler = api.NewRouter(api.Dependencies{
		AnalysisLimit: mw.NewRateLimit(counters, mw.ClassAnalysis, cfg.RateLimit.AnalysisPerMinute).WithObserver(collector),
		StatusLimit:   mw.NewRateLimit(counters, mw.ClassStatus, cfg.RateLimit.StatusPerMinute).WithObserver(collector),
		AllowedOrigin: cfg.Server.AllowedOrigin,
		Observer:      collector,
		Metrics:       collector.Handler(),

		HealthHandler: handler.NewHealthHandler(healthChecks(st, q, counters)...),
		SubmitHandler: handler.NewSubmitHandler(svc),
		StatusHandler: handler.NewStatusHandler(svc),
		CancelHandler: handler.NewCancelHandler(svc),
	})
	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg *config.Config, redisCache *cache.RedisCache) (store.Store, error) {
	switch cfg.Backends.Store {
	case config.BackendRedis:
		return store.NewCacheStore(redisCache), nil
	case config.BackendPostgres:
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, namedCloser{"database", func() error { pool.Close(); return nil }})
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")

		pg := store.NewPostgresStore(pool)
		a.reapers = append(a.reapers, store.NewReaper(pg, cfg.Jobs.ReaperInterval))
		return pg, nil
	default:
		return store.NewCacheStore(a.memoryCache(cfg)), nil
	}
}

// memoryCache returns an in-process cache swept by its own reaper.
func (a *app) memoryCache(cfg *config.Config) *cache.MemoryCache {
	mc := cache.NewMemoryCache()
	a.reapers = append(a.reapers, store.NewReaper(mc, cfg.Jobs.ReaperInterval))
	return mc
}

func healthChecks(st store.Store, q queue.Queue, counters cache.Cache) []handler.HealthCheck {
	return []handler.HealthCheck{
		{Name: "store", Pinger: st},
		{Name: "queue", Pinger: handler.PingFunc(func(ctx context.Context) error {
			_, err := q.Size(ctx)
			return err
		})},
		{Name: "rate_limiter", Pinger: counters},
	}
}

// start launches the worker pool and the expiry reapers.
func (a *app) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.pool.Start(ctx)

	var wg sync.WaitGroup
	for _, r := range a.reapers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(a.done)
	}()
}

// shutdown drains the worker pool and then closes backends in reverse order.
func (a *app) shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	var errs []error
	if err := a.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool shutdown: %w", err))
	} else {
		slog.Info("worker pool drained")
	}

	select {
	case <-a.done:
	case <-ctx.Done():
	}

	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
