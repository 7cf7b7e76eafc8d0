package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/store"
)

// DownloadFile answers GET /api/runs/{id}/files/*: serves a file from
// inside the run directory (media images, the code snapshot, raw logs).
// File downloads require the resolved canonical path to be a strict
// prefix match against the run directory's canonical form, in addition
// to the component-wise path validation every other handler applies —
// this is the one handler that actually touches arbitrary file bytes,
// so both checks are enforced here.
func (s *Server) DownloadFile(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !validRunID(runID) {
		ErrBadRequest(w, "invalid run_id")
		return
	}

	rel := chi.URLParam(r, "*")
	if rel == "" || strings.Contains(rel, "..") || strings.ContainsRune(rel, '\\') {
		ErrBadRequest(w, "invalid file path")
		return
	}

	exp, err := s.Experiments.Get(r.Context(), runID)
	if err != nil {
		if err == store.ErrNotFound {
			ErrNotFound(w, "run not found")
			return
		}
		s.Log.Error("download: lookup run failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	layout := s.runLayout(exp)
	runDir, err := filepath.Abs(layout.Dir)
	if err != nil {
		ErrInternal(w)
		return
	}
	runDir = filepath.Clean(runDir)

	target := filepath.Join(runDir, filepath.FromSlash(rel))
	target = filepath.Clean(target)

	if target != runDir && !strings.HasPrefix(target, runDir+string(filepath.Separator)) {
		ErrBadRequest(w, "resolved path escapes run directory")
		return
	}

	http.ServeFile(w, r, target)
}
