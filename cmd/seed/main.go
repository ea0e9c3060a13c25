package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"leadhopper_backend/internal/hopper"
	"leadhopper_backend/internal/seed"
	"leadhopper_backend/migrations"
	"leadhopper_backend/platform/config"
	"leadhopper_backend/platform/db"
	"leadhopper_backend/platform/events"
	"leadhopper_backend/platform/logger"
	"leadhopper_backend/platform/validator"
)

func main() {
	path := flag.String("file", "fixtures/dev.yaml", "YAML fixture with agents and leads")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)

	// run owns every deferred cleanup, so the pool is closed and the event
	// bus drained before the process exits.
	if err := run(cfg, log, *path); err != nil {
		log.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger, path string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fixture, err := seed.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrations.FS); err != nil {
		return fmt.Errorf("run database migrations: %w", err)
	}

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	hopperModule, err := hopper.NewModule(pool, eventBus, validator.New(), cfg, log, nil)
	if err != nil {
		return fmt.Errorf("initialize hopper module: %w", err)
	}

	summary, err := fixture.Apply(ctx, hopperModule.Registry())
	if err != nil {
		return fmt.Errorf("apply fixture: %w", err)
	}

	log.Info("seed complete",
		"file", path,
		"leads_inserted", summary.LeadsInserted,
		"agents_registered", summary.AgentsRegistered,
		"leads_allocated", summary.LeadsAllocated,
	)
	return nil
}
