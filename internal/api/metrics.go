package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/metrics"
	"github.com/runicorn/runicorn/internal/store"
)

func (s *Server) loadRunMetrics(w http.ResponseWriter, r *http.Request) (*metrics.RunMetrics, *store.Experiment, bool) {
	runID := chi.URLParam(r, "id")
	if !validRunID(runID) {
		ErrBadRequest(w, "invalid run_id")
		return nil, nil, false
	}

	exp, err := s.Experiments.Get(r.Context(), runID)
	if err != nil {
		if err == store.ErrNotFound {
			ErrNotFound(w, "run not found")
			return nil, nil, false
		}
		s.Log.Error("metrics: get run failed", zap.Error(err))
		ErrInternal(w)
		return nil, nil, false
	}

	layout := s.runLayout(exp)
	rm, err := s.Engine.Load(runID, layout.Events())
	if err != nil {
		s.Log.Error("metrics: load failed", zap.Error(err))
		ErrInternal(w)
		return nil, nil, false
	}
	return rm, exp, true
}

func parseQueryRequest(w http.ResponseWriter, r *http.Request, axis metrics.Axis) (metrics.QueryRequest, bool) {
	q := r.URL.Query()
	var keys []string
	if raw := q.Get("keys"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			k = strings.TrimSpace(k)
			if k != "" {
				keys = append(keys, k)
			}
		}
	}
	downsample := 0
	if raw := q.Get("downsample"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ErrBadRequest(w, "downsample must be a positive integer")
			return metrics.QueryRequest{}, false
		}
		downsample = n
	}
	return metrics.QueryRequest{Keys: keys, Downsample: downsample, Axis: axis}, true
}

type metricRow struct {
	Timestamp float64    `json:"timestamp,omitempty"`
	Step      int64      `json:"step,omitempty"`
	Values    []*float64 `json:"values"`
}

func writeQueryResult(w http.ResponseWriter, res metrics.QueryResult) {
	rows := make([]metricRow, len(res.Rows))
	for i, row := range res.Rows {
		rows[i] = metricRow{Timestamp: row.Timestamp, Step: row.Step, Values: row.Values}
	}
	Ok(w, map[string]any{
		"columns":   res.Columns,
		"rows":      rows,
		"total":     res.Total,
		"sampled":   res.Sampled,
		"last_step": res.LastStep,
	})
}

// GetMetrics answers GET /api/runs/{id}/metrics?keys=&downsample=, sorted
// by timestamp ascending.
func (s *Server) GetMetrics(w http.ResponseWriter, r *http.Request) {
	rm, _, ok := s.loadRunMetrics(w, r)
	if !ok {
		return
	}
	req, ok := parseQueryRequest(w, r, metrics.AxisTimestamp)
	if !ok {
		return
	}
	writeQueryResult(w, metrics.Query(rm, req))
}

// GetMetricsByStep answers GET /api/runs/{id}/metrics_step?..., identical
// to GetMetrics but sorted by step ascending. Rows are keyed by step, so
// points of one series that share a step fill a single row, and which of
// them supplies the value is not defined.
func (s *Server) GetMetricsByStep(w http.ResponseWriter, r *http.Request) {
	rm, _, ok := s.loadRunMetrics(w, r)
	if !ok {
		return
	}
	req, ok := parseQueryRequest(w, r, metrics.AxisStep)
	if !ok {
		return
	}
	writeQueryResult(w, metrics.Query(rm, req))
}

// MetricsCacheStats answers GET /api/metrics/cache/stats.
func (s *Server) MetricsCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.Engine.Cache().Stats()
	hitRate := 0.0
	if total := stats.Hits + stats.Misses; total > 0 {
		hitRate = float64(stats.Hits) / float64(total)
	}
	Ok(w, map[string]any{
		"entries":             stats.Entries,
		"hits":                stats.Hits,
		"misses":              stats.Misses,
		"incremental_updates": stats.IncrementalUpdates,
		"hit_rate":            hitRate,
	})
}
