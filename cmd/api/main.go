package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadhopper_backend/internal/hopper"
	apphttp "leadhopper_backend/internal/http"
	"leadhopper_backend/internal/http/router"
	"leadhopper_backend/internal/scheduler"
	"leadhopper_backend/migrations"
	"leadhopper_backend/platform/cache"
	"leadhopper_backend/platform/config"
	"leadhopper_backend/platform/db"
	"leadhopper_backend/platform/events"
	"leadhopper_backend/platform/logger"
	"leadhopper_backend/platform/metrics"
	"leadhopper_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	var m *metrics.Metrics
	if cfg.IsMetricsEnabled() {
		m = metrics.New()
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	hopperModule, err := hopper.NewModule(pool, eventBus, val, cfg, log, m)
	if err != nil {
		log.Error("failed to initialize hopper module", "error", err)
		panic("failed to initialize hopper module: " + err.Error())
	}
	hopperModule.RegisterHandlers(eventBus)

	closeRedis := initRedis(ctx, cfg, log, hopperModule)
	defer closeRedis()

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  pool,
		Metrics: m,
		Modules: []apphttp.Module{
			hopperModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initRedis wires the optional redis-backed pieces: the stats cache and the
// async replenish queue. Without REDIS_URL both stay disabled.
func initRedis(ctx context.Context, cfg *config.Config, log *logger.Logger, hopperModule *hopper.Module) func() {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; stats cache and async replenishment disabled")
		return func() {}
	}

	closers := make([]func() error, 0, 2)

	statsCache, err := cache.NewClient(ctx, cfg.GetRedisURL(), cfg.GetRedisTLSInsecure(), "hopper")
	if err != nil {
		log.Warn("stats cache unavailable", "error", err)
	} else {
		hopperModule.SetStatsCache(statsCache, cfg.GetStatsCacheTTL())
		closers = append(closers, statsCache.Close)
	}

	queue, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize replenish queue", "error", err)
	} else {
		hopperModule.SetReplenishQueue(queue)
		closers = append(closers, queue.Close)
	}

	return func() {
		for _, c := range closers {
			_ = c()
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
