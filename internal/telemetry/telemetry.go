// Package telemetry owns the process-wide Prometheus collectors: cache
// hit rate, rate-limit rejections, and SSH session counts. It is a leaf
// package — every other package that wants
// to record a measurement imports this one, never the other way around —
// so it carries no dependency on the metrics engine, the rate limiter, or
// the remote supervisor it instruments.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheHits and CacheMisses mirror the GET /api/metrics/cache/stats
	// counters so they are also visible to a Prometheus scraper.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "runicorn",
		Subsystem: "metrics_cache",
		Name:      "hits_total",
		Help:      "Incremental metrics cache lookups that hit an existing entry.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "runicorn",
		Subsystem: "metrics_cache",
		Name:      "misses_total",
		Help:      "Incremental metrics cache lookups that required a fresh parse.",
	})
	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "runicorn",
		Subsystem: "metrics_cache",
		Name:      "entries",
		Help:      "Current number of entries held in the incremental metrics cache.",
	})
	CacheIncrementalUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "runicorn",
		Subsystem: "metrics_cache",
		Name:      "incremental_updates_total",
		Help:      "Cache stores that extended a prior entry instead of parsing from scratch.",
	})

	// RateLimitRejections counts 429s issued by the token-bucket limiter,
	// labeled by the chi route pattern that rejected the request.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runicorn",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Requests rejected with 429 by the rate limiter, by endpoint.",
	}, []string{"endpoint"})

	// RemoteSessions tracks the live remote-supervisor session count by
	// lifecycle status (starting/running/error/stopped).
	RemoteSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "runicorn",
		Subsystem: "remote",
		Name:      "sessions",
		Help:      "Current number of supervised remote Viewer sessions, by status.",
	}, []string{"status"})

	// SSHConnections tracks live pooled SSH control connections.
	SSHConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "runicorn",
		Subsystem: "remote",
		Name:      "ssh_connections",
		Help:      "Current number of pooled SSH control connections.",
	})
)

// CacheStats is the subset of metrics.Cache.Stats() this package records,
// expressed without importing internal/metrics to keep telemetry a leaf.
type CacheStats struct {
	Entries            int
	Hits               int64
	Misses             int64
	IncrementalUpdates int64
}

// lastHits/lastMisses/lastIncremental let SetCacheStats publish Prometheus
// counters (monotonically increasing) from a Stats snapshot that itself
// only ever grows, by recording deltas since the previous sample.
var lastHits, lastMisses, lastIncremental int64

// SetCacheStats publishes one sampled snapshot of the metrics cache's
// counters. Call it periodically (the run watcher's reconciliation tick
// is a natural cadence) rather than on every request.
func SetCacheStats(s CacheStats) {
	CacheEntries.Set(float64(s.Entries))
	if d := s.Hits - lastHits; d > 0 {
		CacheHits.Add(float64(d))
	}
	if d := s.Misses - lastMisses; d > 0 {
		CacheMisses.Add(float64(d))
	}
	if d := s.IncrementalUpdates - lastIncremental; d > 0 {
		CacheIncrementalUpdates.Add(float64(d))
	}
	lastHits, lastMisses, lastIncremental = s.Hits, s.Misses, s.IncrementalUpdates
}

// Handler returns the standard Prometheus scrape handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
