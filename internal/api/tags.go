package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/store"
)

// ListTags answers GET /api/runs/{id}/tags.
func (s *Server) ListTags(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !validRunID(runID) {
		ErrBadRequest(w, "invalid run_id")
		return
	}
	if _, err := s.Experiments.Get(r.Context(), runID); err != nil {
		if err == store.ErrNotFound {
			ErrNotFound(w, "run not found")
			return
		}
		s.Log.Error("get run failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	tags, err := s.Tags.ListForRun(r.Context(), runID)
	if err != nil {
		s.Log.Error("list tags failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"tags": tags})
}

type addTagRequest struct {
	Tag string `json:"tag"`
}

// AddTag answers POST /api/runs/{id}/tags.
func (s *Server) AddTag(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !validRunID(runID) {
		ErrBadRequest(w, "invalid run_id")
		return
	}
	var req addTagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Tag == "" || len(req.Tag) > 200 {
		ErrBadRequest(w, "tag must be 1-200 characters")
		return
	}
	if _, err := s.Experiments.Get(r.Context(), runID); err != nil {
		if err == store.ErrNotFound {
			ErrNotFound(w, "run not found")
			return
		}
		s.Log.Error("get run failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	if err := s.Tags.Add(r.Context(), runID, req.Tag); err != nil {
		s.Log.Error("add tag failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Created(w, map[string]any{"run_id": runID, "tag": req.Tag})
}

// RemoveTag answers DELETE /api/runs/{id}/tags/{tag}.
func (s *Server) RemoveTag(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	tag := chi.URLParam(r, "tag")
	if !validRunID(runID) {
		ErrBadRequest(w, "invalid run_id")
		return
	}
	if tag == "" {
		ErrBadRequest(w, "tag is required")
		return
	}

	if err := s.Tags.Remove(r.Context(), runID, tag); err != nil {
		s.Log.Error("remove tag failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}
