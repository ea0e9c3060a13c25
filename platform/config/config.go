// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDBMaxConns() int
	// GetDBLockTimeout bounds how long a statement waits on a row lock.
	GetDBLockTimeout() time.Duration
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq scheduler and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetReclaimInterval() time.Duration
	GetReclaimCron() string
}

// CacheConfig provides settings for the redis-backed read cache.
type CacheConfig interface {
	GetRedisURL() string
	GetStatsCacheTTL() time.Duration
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig interface {
	IsMetricsEnabled() bool
}

// HopperConfig provides the allocation and reclamation policy of the lead hopper.
type HopperConfig interface {
	GetIdleThreshold() time.Duration
	GetMaxHoldThreshold() time.Duration
	GetDefaultCapacity() int
	GetRetryAttempts() int
	GetReclaimBatchSize() int
	GetRecyclePolicy() string
	GetPhoneRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	DBMaxConns       int
	DBLockTimeout    time.Duration
	JWTAccessSecret  string
	CORSAllowAll     bool
	CORSOrigins      []string
	CORSAllowCreds   bool
	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int
	ReclaimInterval  time.Duration
	ReclaimCron      string
	StatsCacheTTL    time.Duration
	MetricsEnabled   bool
	IdleThreshold    time.Duration
	MaxHoldThreshold time.Duration
	DefaultCapacity  int
	RetryAttempts    int
	ReclaimBatchSize int
	RecyclePolicy    string
	PhoneRegion      string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string          { return c.DatabaseURL }
func (c *Config) GetDBMaxConns() int              { return c.DBMaxConns }
func (c *Config) GetDBLockTimeout() time.Duration { return c.DBLockTimeout }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string               { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool         { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string         { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int          { return c.AsynqConcurrency }
func (c *Config) GetReclaimInterval() time.Duration { return c.ReclaimInterval }
func (c *Config) GetReclaimCron() string            { return c.ReclaimCron }

// CacheConfig implementation
func (c *Config) GetStatsCacheTTL() time.Duration { return c.StatsCacheTTL }

// MetricsConfig implementation
func (c *Config) IsMetricsEnabled() bool { return c.MetricsEnabled }

// HopperConfig implementation
func (c *Config) GetIdleThreshold() time.Duration    { return c.IdleThreshold }
func (c *Config) GetMaxHoldThreshold() time.Duration { return c.MaxHoldThreshold }
func (c *Config) GetDefaultCapacity() int            { return c.DefaultCapacity }
func (c *Config) GetRetryAttempts() int              { return c.RetryAttempts }
func (c *Config) GetReclaimBatchSize() int           { return c.ReclaimBatchSize }
func (c *Config) GetRecyclePolicy() string           { return c.RecyclePolicy }
func (c *Config) GetPhoneRegion() string             { return c.PhoneRegion }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DBMaxConns:       mustInt(getEnv("DB_MAX_CONNS", "25")),
		DBLockTimeout:    mustDuration(getEnv("DB_LOCK_TIMEOUT", "2s")),
		JWTAccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:     corsAllowAll,
		CORSOrigins:      corsOrigins,
		CORSAllowCreds:   strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "hopper"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		ReclaimInterval:  mustDuration(getEnv("RECLAIM_INTERVAL", "1h")),
		ReclaimCron:      strings.TrimSpace(getEnv("RECLAIM_CRON", "")),
		StatsCacheTTL:    mustDuration(getEnv("STATS_CACHE_TTL", "15s")),
		MetricsEnabled:   strings.EqualFold(getEnv("METRICS_ENABLED", "true"), "true"),
		IdleThreshold:    mustDuration(getEnv("HOPPER_IDLE_THRESHOLD", "24h")),
		MaxHoldThreshold: mustDuration(getEnv("HOPPER_MAX_HOLD", "168h")),
		DefaultCapacity:  mustInt(getEnv("HOPPER_DEFAULT_CAPACITY", "20")),
		RetryAttempts:    mustInt(getEnv("HOPPER_RETRY_ATTEMPTS", "3")),
		ReclaimBatchSize: mustInt(getEnv("HOPPER_RECLAIM_BATCH", "500")),
		RecyclePolicy:    strings.ToLower(strings.TrimSpace(getEnv("HOPPER_RECYCLE_POLICY", "deprioritize"))),
		PhoneRegion:      strings.ToUpper(strings.TrimSpace(getEnv("PHONE_DEFAULT_REGION", "US"))),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1")
	}
	if c.DBLockTimeout <= 0 {
		return fmt.Errorf("DB_LOCK_TIMEOUT must be a positive duration")
	}
	if c.JWTAccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if c.IdleThreshold <= 0 || c.MaxHoldThreshold <= 0 {
		return fmt.Errorf("HOPPER_IDLE_THRESHOLD and HOPPER_MAX_HOLD must be positive durations")
	}
	if c.IdleThreshold > c.MaxHoldThreshold {
		return fmt.Errorf("HOPPER_IDLE_THRESHOLD cannot exceed HOPPER_MAX_HOLD")
	}
	if c.DefaultCapacity < 1 {
		return fmt.Errorf("HOPPER_DEFAULT_CAPACITY must be at least 1")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("HOPPER_RETRY_ATTEMPTS must be at least 1")
	}
	if c.ReclaimBatchSize < 1 {
		return fmt.Errorf("HOPPER_RECLAIM_BATCH must be at least 1")
	}
	if c.ReclaimInterval <= 0 && c.ReclaimCron == "" {
		return fmt.Errorf("RECLAIM_INTERVAL must be positive when RECLAIM_CRON is not set")
	}
	switch c.RecyclePolicy {
	case "deprioritize", "exclude", "ignore":
	default:
		return fmt.Errorf("HOPPER_RECYCLE_POLICY must be one of deprioritize, exclude, ignore")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
