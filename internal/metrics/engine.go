package metrics

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
)

// Engine is the process-wide metrics engine singleton: it owns the
// incremental cache and the best-metric write-through path back into
// status.json, "no implicit module-level state" rule — a
// Engine instance is the explicit handle callers thread through.
type Engine struct {
	cache *Cache
	log   *zap.Logger
}

func NewEngine(cache *Cache, log *zap.Logger) *Engine {
	return &Engine{cache: cache, log: log.Named("metrics")}
}

// Cache exposes the engine's backing cache for callers that only need
// its counters (GET /api/metrics/cache/stats) without loading a run.
func (e *Engine) Cache() *Cache { return e.cache }

// RunMetrics is the parsed, queryable state of a single run's time series
// as of the moment it was read.
type RunMetrics struct {
	RunID       string
	Series      map[string]*Series
	LastStep    int64
	ParseErrors int64
	FileSize    int64
}

// Load returns a run's parsed metric series, using the incremental cache
// when possible: an exact (run_id, file_size) hit needs no I/O at all; a
// smaller cached entry for the same run means only the appended tail is
// re-parsed; anything else is a full parse from byte 0.
func (e *Engine) Load(runID, eventsPath string) (*RunMetrics, error) {
	f, err := os.Open(eventsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &RunMetrics{RunID: runID, Series: map[string]*Series{}}, nil
		}
		return nil, fmt.Errorf("metrics: open events: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("metrics: stat events: %w", err)
	}
	fileSize := info.Size()

	exact, resumeFrom := e.cache.lookup(runID, fileSize)
	if exact != nil {
		return toRunMetrics(runID, exact), nil
	}

	var pr *parsedRun
	incremental := false
	if resumeFrom != nil {
		if _, err := f.Seek(resumeFrom.FileSize, 0); err != nil {
			return nil, fmt.Errorf("metrics: seek to cached offset: %w", err)
		}
		pr = clonePR(resumeFrom)
		incremental = true
	} else {
		pr = &parsedRun{Series: map[string]*Series{}}
	}

	res, err := runfs.ScanEvents(f, pr.NextIndex, runfs.EventVisitor{
		Metric: func(_ int64, ev runfs.MetricEvent) {
			if ev.Value == nil {
				return
			}
			s, ok := pr.Series[ev.Name]
			if !ok {
				s = &Series{Name: ev.Name}
				pr.Series[ev.Name] = s
			}
			s.Points = append(s.Points, Point{
				Timestamp: ev.Ts,
				Step:      ev.Step,
				Value:     *ev.Value,
				Stage:     ev.Stage,
			})
			if ev.Step > pr.LastStep {
				pr.LastStep = ev.Step
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("metrics: scan events: %w", err)
	}

	pr.FileSize = fileSize
	pr.NextIndex += res.LinesSeen
	pr.ParseErrors += res.ParseErrors

	e.cache.store(runID, pr, incremental)
	return toRunMetrics(runID, pr), nil
}

func clonePR(src *parsedRun) *parsedRun {
	cp := &parsedRun{
		FileSize:    src.FileSize,
		NextIndex:   src.NextIndex,
		LastStep:    src.LastStep,
		ParseErrors: src.ParseErrors,
		Series:      make(map[string]*Series, len(src.Series)),
	}
	for name, s := range src.Series {
		points := make([]Point, len(s.Points))
		copy(points, s.Points)
		cp.Series[name] = &Series{Name: name, Points: points}
	}
	return cp
}

func toRunMetrics(runID string, pr *parsedRun) *RunMetrics {
	return &RunMetrics{
		RunID:       runID,
		Series:      pr.Series,
		LastStep:    pr.LastStep,
		ParseErrors: pr.ParseErrors,
		FileSize:    pr.FileSize,
	}
}

// BestMetricUpdate recomputes the best observed value for name (per mode,
// "max" or "min") across rm's series and returns it along with whether any
// point was observed at all.
func BestMetricUpdate(rm *RunMetrics, name, mode string) (runfs.BestMetric, bool) {
	s, ok := rm.Series[name]
	if !ok || len(s.Points) == 0 {
		return runfs.BestMetric{}, false
	}
	best := s.Points[0]
	for _, p := range s.Points[1:] {
		if mode == "min" {
			if p.Value < best.Value {
				best = p
			}
		} else {
			if p.Value > best.Value {
				best = p
			}
		}
	}
	return runfs.BestMetric{Name: name, Value: best.Value, Step: best.Step, Mode: mode}, true
}

// WriteThroughBestMetric recomputes the best metric and, if it changed,
// atomically rewrites status.json so readers that only look at
// status.json (rather than re-scanning events.jsonl) stay current.
func WriteThroughBestMetric(rm *RunMetrics, statusPath, metricName, mode string) error {
	best, ok := BestMetricUpdate(rm, metricName, mode)
	if !ok {
		return nil
	}
	status, err := runfs.ReadStatus(statusPath)
	if err != nil {
		status = &runfs.Status{}
	}
	if status.BestMetric != nil && *status.BestMetric == best {
		return nil
	}
	status.BestMetric = &best
	return runfs.WriteStatus(statusPath, status)
}

// SortedNames returns a run's metric names in a stable, deterministic
// order for responses whose default `keys` is "all metrics seen".
func (rm *RunMetrics) SortedNames() []string {
	names := make([]string, 0, len(rm.Series))
	for name := range rm.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
