package api

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
	"github.com/runicorn/runicorn/internal/store"
)

type eventLine struct {
	Index int64           `json:"index"`
	Type  string          `json:"type"`
	Raw   json.RawMessage `json:"raw"`
}

// GetEvents answers GET /api/runs/{id}/events?after=N, the debug surface
// for the tagged-union event model: every line from index
// N onward, including unknown types verbatim as raw JSON.
func (s *Server) GetEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !validRunID(runID) {
		ErrBadRequest(w, "invalid run_id")
		return
	}
	after := int64(atoiDefault(r.URL.Query().Get("after"), 0))
	if after < 0 {
		after = 0
	}

	exp, err := s.Experiments.Get(r.Context(), runID)
	if err != nil {
		if err == store.ErrNotFound {
			ErrNotFound(w, "run not found")
			return
		}
		s.Log.Error("events: get run failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	layout := s.runLayout(exp)
	f, err := os.Open(layout.Events())
	if err != nil {
		if os.IsNotExist(err) {
			Ok(w, map[string]any{"events": []eventLine{}})
			return
		}
		s.Log.Error("events: open failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	defer f.Close()

	var lines []eventLine
	var index int64
	_, err = runfs.ScanEvents(f, 0, runfs.EventVisitor{
		Metric: func(i int64, e runfs.MetricEvent) { appendEvent(&lines, &index, i, after, "metric", e) },
		Log: func(i int64, e runfs.LogEvent) { appendEvent(&lines, &index, i, after, "log", e) },
		Image: func(i int64, e runfs.ImageEvent) { appendEvent(&lines, &index, i, after, "image", e) },
		Summary: func(i int64, e runfs.SummaryEvent) { appendEvent(&lines, &index, i, after, "summary", e) },
		Status: func(i int64, e runfs.StatusEvent) { appendEvent(&lines, &index, i, after, "status", e) },
		PrimaryMetric: func(i int64, e runfs.PrimaryMetricEvent) {
			appendEvent(&lines, &index, i, after, "primary_metric", e)
		},
		Unknown: func(i int64, eventType string, raw json.RawMessage) {
			if i < after {
				return
			}
			lines = append(lines, eventLine{Index: i, Type: eventType, Raw: raw})
		},
	})
	if err != nil {
		s.Log.Error("events: scan failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, map[string]any{"events": lines})
}

// appendEvent re-marshals a typed event and splices its discriminator
// back in, since the concrete event structs (MetricEvent, LogEvent, ...)
// intentionally carry no "type" field of their own — ScanEvents dispatches
// on it but doesn't thread it back through each struct.
func appendEvent(lines *[]eventLine, _ *int64, index, after int64, eventType string, payload any) {
	if index < after {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil || len(raw) < 2 {
		return
	}
	merged := append([]byte(`{"type":"`+eventType+`",`), raw[1:]...)
	*lines = append(*lines, eventLine{Index: index, Type: eventType, Raw: json.RawMessage(merged)})
}
