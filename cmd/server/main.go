// Package main is the entrypoint for the scrapejobs API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/scrapejobs/internal/api"
	"github.com/kiranshivaraju/scrapejobs/internal/api/handler"
	mw "github.com/kiranshivaraju/scrapejobs/internal/api/middleware"
	"github.com/kiranshivaraju/scrapejobs/internal/api/response"
	"github.com/kiranshivaraju/scrapejobs/internal/cache"
	"github.com/kiranshivaraju/scrapejobs/internal/config"
	"github.com/kiranshivaraju/scrapejobs/internal/dispatch"
	"github.com/kiranshivaraju/scrapejobs/internal/reaper"
	"github.com/kiranshivaraju/scrapejobs/internal/registry"
	"github.com/kiranshivaraju/scrapejobs/internal/scraper"
	"github.com/kiranshivaraju/scrapejobs/internal/store"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

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
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"job_ttl", cfg.Jobs.TTL.String(),
		"sweep_interval", cfg.Reaper.Interval.String(),
		"archive", cfg.ArchiveEnabled(),
		"rate_limit", cfg.RateLimitEnabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Optional archive database
	var (
		archiver dispatch.Archiver
		history  handler.ArchiveLister
		db       pinger
	)
	if cfg.ArchiveEnabled() {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database connected, migrations applied")

		pgStore := store.NewPostgresStore(pool)
		archiver, history, db = pgStore, pgStore, pgStore
	}

	// 3. Optional Redis rate limiting
	var (
		rateLimit *mw.RateLimit
		counter   pinger
	)
	if cfg.RateLimitEnabled() {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected", "requests_per_minute", cfg.Redis.RateLimitPerMinute)

		rateLimit = mw.NewRateLimit(redisCache, cfg.Redis.RateLimitPerMinute)
		counter = redisCache
	}

	// 4. Job registry, worker, dispatcher and reaper
	reg := registry.New()

	worker := scraper.New(scraper.Config{
		BaseURL:           cfg.Scraper.BaseURL,
		Timeout:           cfg.Scraper.Timeout,
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		Burst:             cfg.Scraper.Burst,
	}, slog.Default())

	dispatcher, err := dispatch.New(dispatch.Options{
		Registry:      reg,
		Worker:        worker,
		TTL:           cfg.Jobs.TTL,
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		Archiver:      archiver,
		Logger:        slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	sweeper, err := reaper.New(reaper.Options{
		Registry: reg,
		Interval: cfg.Reaper.Interval,
		Schedule: cfg.Reaper.Schedule,
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("create reaper: %w", err)
	}

	// 5. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: rateLimit,

		LiveHandler:   handler.NewLiveHandler(),
		HealthHandler: healthHandler(db, counter),
		SubmitHandler: handler.NewSubmitHandler(dispatcher),
		PollHandler:   handler.NewPollHandler(dispatcher),
		ResultHandler: handler.NewResultHandler(dispatcher),
		DeleteHandler: handler.NewDeleteHandler(dispatcher),
		StatusHandler: handler.NewStatusHandler(dispatcher),
	}
	if history != nil {
		deps.HistoryHandler = handler.NewHistoryHandler(history)
	}

	router := api.NewRouter(deps)

	// 6. Start HTTP server and reaper
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	// Wait for shutdown signal or a failing component, then drain
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks connectivity of the optional archive database and
// rate limit cache. A nil pinger is reported as disabled.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": check(r.Context(), db),
			"cache":    check(r.Context(), c),
		}

		degraded := checks["database"] == "degraded" || checks["cache"] == "degraded"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

func check(ctx context.Context, p pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "degraded"
	}
	return "ok"
}
