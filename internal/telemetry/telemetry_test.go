package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetCacheStatsPublishesDeltas(t *testing.T) {
	lastHits, lastMisses, lastIncremental = 0, 0, 0
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "test_cache_hits_total"})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{Name: "test_cache_misses_total"})
	CacheIncrementalUpdates = prometheus.NewCounter(prometheus.CounterOpts{Name: "test_cache_incremental_updates_total"})

	SetCacheStats(CacheStats{Entries: 3, Hits: 5, Misses: 2, IncrementalUpdates: 1})
	if got := testutil.ToFloat64(CacheHits); got != 5 {
		t.Fatalf("hits after first sample = %v, want 5", got)
	}
	if got := testutil.ToFloat64(CacheMisses); got != 2 {
		t.Fatalf("misses after first sample = %v, want 2", got)
	}

	SetCacheStats(CacheStats{Entries: 3, Hits: 9, Misses: 2, IncrementalUpdates: 3})
	if got := testutil.ToFloat64(CacheHits); got != 9 {
		t.Fatalf("hits after second sample = %v, want 9 (cumulative, not delta)", got)
	}
	if got := testutil.ToFloat64(CacheIncrementalUpdates); got != 3 {
		t.Fatalf("incremental updates = %v, want 3", got)
	}
}

func TestSetCacheStatsIgnoresCounterReset(t *testing.T) {
	lastHits, lastMisses, lastIncremental = 0, 0, 0
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "test_cache_hits_total"})

	SetCacheStats(CacheStats{Hits: 100})
	SetCacheStats(CacheStats{Hits: 10}) // engine restarted, cache rebuilt from zero

	if got := testutil.ToFloat64(CacheHits); got != 100 {
		t.Fatalf("hits after apparent counter reset = %v, want 100 (must not go backwards)", got)
	}
}
