// Package metrics implements the incremental, cached read path over a
// run's events.jsonl: parse once, cache the parsed result keyed by
// file size, and only re-parse the appended tail on subsequent reads.
package metrics

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Series holds every observed point for one metric name within a run,
// kept in append order (which is also timestamp order for well-behaved
// writers, though callers must not rely on that — query.go sorts
// explicitly before downsampling).
type Series struct {
	Name   string
	Points []Point
}

// Point is a single metric observation as stored for query purposes.
type Point struct {
	Timestamp float64
	Step      int64
	Value     float64
	Stage     string
}

// cacheKey embeds file_size so a truncated-then-rewritten file can never
// collide with a stale cache entry for its old, larger size.
type cacheKey struct {
	RunID    string
	FileSize int64
}

// parsedRun is the cached, parsed state of one run's events.jsonl as of
// FileSize bytes.
type parsedRun struct {
	FileSize    int64
	NextIndex   int64 // line ordinal to resume ScanEvents from
	Series      map[string]*Series
	LastStep    int64
	ParseErrors int64
}

// Cache is the process-wide incremental metrics cache.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[cacheKey, *parsedRun]
	lastKey map[string]cacheKey // most recent cache key seen per run_id
	stats   Stats
}

// Stats mirrors the GET /api/metrics/cache/stats response body.
type Stats struct {
	Entries            int
	Hits               int64
	Misses             int64
	IncrementalUpdates int64
}

// NewCache builds a cache with the given LRU capacity (default 1000
// entries ).
func NewCache(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	inner, err := lru.New[cacheKey, *parsedRun](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: inner, lastKey: make(map[string]cacheKey)}, nil
}

// Stats returns a point-in-time snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	return s
}

// lookup returns the parsed state usable as a starting point for fileSize:
//   - exact: an entry cached for exactly fileSize — a pure hit, no parsing
//     needed.
//   - resumeFrom: a smaller cached entry for the same run — the file grew,
//     so the caller parses only the tail beyond resumeFrom.FileSize.
// A cached entry larger than fileSize means the file was truncated; it is
// evicted and lookup reports a full miss.
func (c *Cache) lookup(runID string, fileSize int64) (exact *parsedRun, resumeFrom *parsedRun) {
	if v, ok := c.lru.Get(cacheKey{RunID: runID, FileSize: fileSize}); ok {
		c.mu.Lock()
		c.stats.Hits++
		c.mu.Unlock()
		return v, nil
	}

	c.mu.Lock()
	prevKey, ok := c.lastKey[runID]
	c.mu.Unlock()
	if !ok {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, nil
	}

	prev, ok := c.lru.Get(prevKey)
	if !ok {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, nil
	}
	if prev.FileSize < fileSize {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, prev
	}
	if prev.FileSize == fileSize {
		c.mu.Lock()
		c.stats.Hits++
		c.mu.Unlock()
		return prev, nil
	}
	// prev.FileSize > fileSize: the file shrank since it was cached.
	c.lru.Remove(prevKey)
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	return nil, nil
}

// store records a freshly parsed (or extended) run and remembers it as
// the run's most recent cache key, incrementing IncrementalUpdates when
// this call extended a prior entry rather than parsing from scratch.
func (c *Cache) store(runID string, pr *parsedRun, incremental bool) {
	key := cacheKey{RunID: runID, FileSize: pr.FileSize}
	c.lru.Add(key, pr)
	c.mu.Lock()
	c.lastKey[runID] = key
	if incremental {
		c.stats.IncrementalUpdates++
	}
	c.mu.Unlock()
}
