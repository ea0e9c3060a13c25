// Package hopper provides the lead hopper domain module: allocation,
// reclamation, dispositions and the agent registry.
package hopper

import (
	"context"
	"time"

	"leadhopper_backend/internal/events"
	"leadhopper_backend/internal/hopper/handler"
	"leadhopper_backend/internal/hopper/repository"
	"leadhopper_backend/internal/hopper/service"
	"leadhopper_backend/internal/hopper/transport"
	apphttp "leadhopper_backend/internal/http"
	"leadhopper_backend/platform/config"
	"leadhopper_backend/platform/logger"
	"leadhopper_backend/platform/metrics"
	"leadhopper_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the hopper domain module
type Module struct {
	handler     *handler.Handler
	allocator   *service.Allocator
	reclaimer   *service.Reclaimer
	disposition *service.DispositionHandler
	registry    *service.Registry
	stats       *service.StatsService
}

// NewModule creates a new hopper module with all dependencies wired.
// m may be nil when metrics are disabled.
func NewModule(pool *pgxpool.Pool, bus events.Bus, val *validator.Validator, cfg config.HopperConfig, log *logger.Logger, m *metrics.Metrics) (*Module, error) {
	opts, err := service.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := transport.RegisterValidations(val); err != nil {
		return nil, err
	}

	repo := repository.New(pool)
	allocator := service.NewAllocator(repo, bus, log, m, opts)
	reclaimer := service.NewReclaimer(repo, repo, bus, log, m, opts)
	disposition := service.NewDispositionHandler(repo, allocator, nil, bus, log, m, opts)
	registry := service.NewRegistry(repo, allocator, reclaimer, log, opts)
	stats := service.NewStatsService(repo, nil, 0, log, m)

	h := handler.New(handler.Services{
		Allocator:    allocator,
		Dispositions: disposition,
		Registry:     registry,
		Reclaimer:    reclaimer,
		Stats:        stats,
	}, val)

	return &Module{
		handler:     h,
		allocator:   allocator,
		reclaimer:   reclaimer,
		disposition: disposition,
		registry:    registry,
		stats:       stats,
	}, nil
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "hopper"
}

// Allocator returns the allocator for background replenishment.
func (m *Module) Allocator() *service.Allocator { return m.allocator }

// Reclaimer returns the reclaimer for the scheduled reclaim task.
func (m *Module) Reclaimer() *service.Reclaimer { return m.reclaimer }

// Registry returns the agent registry and ingestion service.
func (m *Module) Registry() *service.Registry { return m.registry }

// SetStatsCache puts a read-through cache in front of the stats queries.
func (m *Module) SetStatsCache(cache service.StatsCache, ttl time.Duration) {
	m.stats.SetCache(cache, ttl)
}

// SetReplenishQueue enables async retry of failed replenishments.
func (m *Module) SetReplenishQueue(q service.ReplenishQueue) {
	m.disposition.SetReplenishQueue(q)
}

// RegisterHandlers subscribes to events that make cached stats stale.
// Bulk releases drop the cache; single assignments age out with the TTL.
func (m *Module) RegisterHandlers(bus events.Bus) {
	invalidate := events.HandlerFunc(func(ctx context.Context, _ events.Event) error {
		m.stats.Invalidate(ctx)
		return nil
	})
	bus.Subscribe(events.LeadsReclaimed{}.EventName(), invalidate)
	bus.Subscribe(events.AgentDeactivated{}.EventName(), invalidate)
}

// RegisterRoutes registers agent routes under /api/v1/hopper and operator
// routes under /api/v1/admin/hopper.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/hopper"))
	m.handler.RegisterAdminRoutes(ctx.Admin.Group("/hopper"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
