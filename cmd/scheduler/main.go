package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadhopper_backend/internal/hopper"
	"leadhopper_backend/internal/scheduler"
	"leadhopper_backend/platform/cache"
	"leadhopper_backend/platform/config"
	"leadhopper_backend/platform/db"
	"leadhopper_backend/platform/events"
	"leadhopper_backend/platform/logger"
	"leadhopper_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	// Worker-side hopper wiring (no HTTP handlers required).
	hopperModule, err := hopper.NewModule(pool, eventBus, validator.New(), cfg, log, nil)
	if err != nil {
		log.Error("failed to initialize hopper module", "error", err)
		panic("failed to initialize hopper module: " + err.Error())
	}
	hopperModule.RegisterHandlers(eventBus)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; running reclaim schedule in-process")
		cronReclaimer, err := scheduler.NewCronReclaimer(cfg, hopperModule.Reclaimer(), log)
		if err != nil {
			log.Error("failed to initialize reclaim schedule", "error", err)
			panic("failed to initialize reclaim schedule: " + err.Error())
		}
		g.Go(func() error {
			cronReclaimer.Run(gctx)
			return nil
		})
	} else {
		if statsCache, err := cache.NewClient(ctx, cfg.GetRedisURL(), cfg.GetRedisTLSInsecure(), "hopper"); err != nil {
			log.Warn("stats cache unavailable", "error", err)
		} else {
			hopperModule.SetStatsCache(statsCache, cfg.GetStatsCacheTTL())
			defer func() { _ = statsCache.Close() }()
		}

		periodic, err := scheduler.NewPeriodicScheduler(cfg, log)
		if err != nil {
			log.Error("failed to initialize periodic scheduler", "error", err)
			panic("failed to initialize periodic scheduler: " + err.Error())
		}
		worker, err := scheduler.NewWorker(cfg, hopperModule.Reclaimer(), hopperModule.Allocator(), log)
		if err != nil {
			log.Error("failed to initialize scheduler worker", "error", err)
			panic("failed to initialize scheduler worker: " + err.Error())
		}

		g.Go(func() error { return periodic.Run(gctx) })
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped", "error", err)
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
