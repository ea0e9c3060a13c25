// Package metrics exposes Prometheus instrumentation for the HTTP layer and
// the hopper services. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Hopper metrics
	AllocationRuns      *prometheus.CounterVec
	LeadsAllocated      prometheus.Counter
	LeadsReclaimed      *prometheus.CounterVec
	ReclaimSkipped      prometheus.Counter
	Dispositions        *prometheus.CounterVec
	ContentionRetries   *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	ReplenishmentFailed prometheus.Counter

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New registers every collector on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AllocationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_allocation_runs_total",
				Help: "Allocator invocations by outcome",
			},
			[]string{"outcome"}, // filled, partial, full, contention, error
		),
		LeadsAllocated: factory.NewCounter(prometheus.CounterOpts{
			Name: "hopper_leads_allocated_total",
			Help: "Leads moved from the pool into an agent hopper",
		}),
		LeadsReclaimed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_leads_reclaimed_total",
				Help: "Leads returned to the pool by reason",
			},
			[]string{"reason"}, // idle, max_hold, agent_deactivated
		),
		ReclaimSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "hopper_reclaim_skipped_total",
			Help: "Reclaim candidates skipped because a concurrent write won",
		}),
		Dispositions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_dispositions_total",
				Help: "Applied dispositions by outcome",
			},
			[]string{"disposition"},
		),
		ContentionRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_contention_retries_total",
				Help: "Optimistic write retries by operation",
			},
			[]string{"operation"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hopper_operation_duration_seconds",
				Help:    "Latency of hopper operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		ReplenishmentFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "hopper_replenishment_failed_total",
			Help: "Terminal dispositions whose follow-up refill failed",
		}),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request count and latency keyed by the route pattern.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// ObserveAllocation records one allocator run.
func (m *Metrics) ObserveAllocation(outcome string, assigned int) {
	if m == nil {
		return
	}
	m.AllocationRuns.WithLabelValues(outcome).Inc()
	m.LeadsAllocated.Add(float64(assigned))
}

// ObserveReclaim records leads reclaimed for reason and candidates skipped.
func (m *Metrics) ObserveReclaim(reason string, reclaimed, skipped int) {
	if m == nil {
		return
	}
	if reclaimed > 0 {
		m.LeadsReclaimed.WithLabelValues(reason).Add(float64(reclaimed))
	}
	if skipped > 0 {
		m.ReclaimSkipped.Add(float64(skipped))
	}
}

// ObserveDisposition records an applied disposition.
func (m *Metrics) ObserveDisposition(disposition string) {
	if m == nil {
		return
	}
	m.Dispositions.WithLabelValues(disposition).Inc()
}

// ObserveRetry records an optimistic-write retry for operation.
func (m *Metrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.ContentionRetries.WithLabelValues(operation).Inc()
}

// ObserveReplenishmentFailure records a refill that failed after a terminal disposition.
func (m *Metrics) ObserveReplenishmentFailure() {
	if m == nil {
		return
	}
	m.ReplenishmentFailed.Inc()
}

// ObserveCache records a cache lookup result.
func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMisses.WithLabelValues(cache).Inc()
}

// Timer starts a latency measurement for operation. Call the returned func when done.
func (m *Metrics) Timer(operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
