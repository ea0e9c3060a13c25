// Package db opens the Postgres pool and applies migrations.
package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"leadhopper_backend/platform/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens a pool and pings it once so a bad DATABASE_URL fails at startup.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// buildPoolConfig sizes the pool and sets lock_timeout on every session.
// Hopper writes lock agent and lead rows; a bounded wait surfaces as SQLSTATE
// 55P03, which the repository reports as contention for the caller to retry.
func buildPoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}

	maxConns := cfg.GetDBMaxConns()
	if maxConns < 1 {
		maxConns = 25
	}
	poolConfig.MaxConns = int32(min(maxConns, 1000))
	poolConfig.MinConns = min(poolConfig.MaxConns, 5)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	if timeout := cfg.GetDBLockTimeout(); timeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["lock_timeout"] = strconv.FormatInt(timeout.Milliseconds(), 10)
	}
	return poolConfig, nil
}
