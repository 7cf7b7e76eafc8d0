package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/logstream"
	"github.com/runicorn/runicorn/internal/store"
)

// StreamLogs answers WS /api/runs/{id}/logs/ws: tails the run's logs.txt
// over a websocket connection.
func (s *Server) StreamLogs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !validRunID(runID) {
		ErrBadRequest(w, "invalid run_id")
		return
	}

	exp, err := s.Experiments.Get(r.Context(), runID)
	if err != nil {
		if err == store.ErrNotFound {
			ErrNotFound(w, "run not found")
			return
		}
		s.Log.Error("logs ws: lookup run failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	layout := s.runLayout(exp)
	if err := logstream.Stream(r.Context(), w, r, layout.Logs(), s.Log); err != nil {
		s.Log.Debug("logs ws: stream ended", zap.String("run_id", runID), zap.Error(err))
	}
}
