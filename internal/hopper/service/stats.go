package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/internal/hopper/repository"
	"leadhopper_backend/platform/cache"
	"leadhopper_backend/platform/logger"
	"leadhopper_backend/platform/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const statsCacheKey = "stats:v2"

// AgentLoad is one agent's utilization. Utilization is CurrentCount/Capacity,
// zero for an agent with no capacity.
type AgentLoad struct {
	AgentID      uuid.UUID `json:"agentId"`
	DisplayName  string    `json:"displayName"`
	Capacity     int       `json:"capacity"`
	CurrentCount int       `json:"currentCount"`
	Utilization  float64   `json:"utilization"`
}

// Stats is the operator overview of the pool. Closed sums closed_won and
// closed_lost; ByStatus keeps them apart.
type Stats struct {
	Total       int                       `json:"total"`
	Unassigned  int                       `json:"unassigned"`
	Assigned    int                       `json:"assigned"`
	Protected   int                       `json:"protected"`
	Closed      int                       `json:"closed"`
	ByStatus    map[domain.LeadStatus]int `json:"byStatus"`
	Agents      []AgentLoad               `json:"agents"`
	GeneratedAt time.Time                 `json:"generatedAt"`
}

// StatsCache is the read-through cache in front of the aggregate queries.
type StatsCache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// StatsService serves pool statistics, cached for a short TTL when a cache is configured.
type StatsService struct {
	store   repository.StatsReader
	cache   StatsCache
	ttl     time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics
	now     Clock
}

// NewStatsService creates a StatsService. cache may be nil.
func NewStatsService(store repository.StatsReader, cache StatsCache, ttl time.Duration, log *logger.Logger, m *metrics.Metrics) *StatsService {
	return &StatsService{store: store, cache: cache, ttl: ttl, log: log, metrics: m, now: systemClock}
}

// SetCache installs a read-through cache. A zero ttl disables caching.
func (s *StatsService) SetCache(cache StatsCache, ttl time.Duration) {
	s.cache = cache
	s.ttl = ttl
}

// Stats returns counts by status and per-agent load.
func (s *StatsService) Stats(ctx context.Context) (Stats, error) {
	if s.cache != nil && s.ttl > 0 {
		var cached Stats
		err := s.cache.GetJSON(ctx, statsCacheKey, &cached)
		switch {
		case err == nil:
			s.metrics.ObserveCache("stats", true)
			return cached, nil
		case errors.Is(err, cache.ErrMiss):
			s.metrics.ObserveCache("stats", false)
		default:
			s.log.WithContext(ctx).Warn("stats cache read failed", slog.String("error", err.Error()))
		}
	}

	stats, err := s.load(ctx)
	if err != nil {
		return Stats{}, toAppError("stats", err)
	}

	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.SetJSON(ctx, statsCacheKey, stats, s.ttl); err != nil {
			s.log.WithContext(ctx).Warn("stats cache write failed", slog.String("error", err.Error()))
		}
	}
	return stats, nil
}

// Invalidate drops the cached stats so the next read is fresh.
func (s *StatsService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		s.log.WithContext(ctx).Warn("stats cache invalidate failed", slog.String("error", err.Error()))
	}
}

func (s *StatsService) load(ctx context.Context) (Stats, error) {
	var (
		counts map[domain.LeadStatus]int
		agents []domain.Agent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.store.CountByStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		agents, err = s.store.ListAgentLoads(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	loads := make([]AgentLoad, len(agents))
	for i, a := range agents {
		load := AgentLoad{AgentID: a.ID, DisplayName: a.DisplayName, Capacity: a.Capacity, CurrentCount: a.CurrentCount}
		if a.Capacity > 0 {
			load.Utilization = float64(a.CurrentCount) / float64(a.Capacity)
		}
		loads[i] = load
	}

	stats := Stats{
		Unassigned:  counts[domain.StatusUnassigned],
		Assigned:    counts[domain.StatusAssigned],
		Protected:   counts[domain.StatusProtected],
		Closed:      counts[domain.StatusClosedWon] + counts[domain.StatusClosedLost],
		ByStatus:    counts,
		Agents:      loads,
		GeneratedAt: s.now(),
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}
