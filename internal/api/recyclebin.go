package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/assets"
	"github.com/runicorn/runicorn/internal/store"
)

// ListRecycleBin answers GET /api/recycle-bin: every tombstone currently
// sitting under recycle_bin/.
func (s *Server) ListRecycleBin(w http.ResponseWriter, r *http.Request) {
	entries, err := s.RecycleBin.List()
	if err != nil {
		s.Log.Error("list recycle bin failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"entries": entries})
}

type recycleBinRestoreRequest struct {
	RunID string `json:"run_id"`
}

// RestoreFromRecycleBin answers POST /api/recycle-bin/restore: moves a
// run directory back to its recorded origin and clears the soft-delete
// marker on its row.
func (s *Server) RestoreFromRecycleBin(w http.ResponseWriter, r *http.Request) {
	var req recycleBinRestoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validRunID(req.RunID) {
		ErrBadRequest(w, "invalid run_id")
		return
	}
	if err := s.RecycleBin.Restore(r.Context(), req.RunID); err != nil {
		s.Log.Error("restore from recycle bin failed", zap.String("run_id", req.RunID), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"restored": req.RunID})
}

// EmptyRecycleBin answers POST /api/recycle-bin/empty: permanently
// deletes every entry in the recycle bin, hard-deletes their rows, then
// runs blob GC against the live set of remaining (non-recycled) runs,
// since none of the purged runs' assets are referenced anywhere else.
func (s *Server) EmptyRecycleBin(w http.ResponseWriter, r *http.Request) {
	entries, err := s.RecycleBin.List()
	if err != nil {
		s.Log.Error("empty recycle bin: list failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	purged := 0
	for _, ts := range entries {
		if err := s.RecycleBin.Purge(r.Context(), ts.RunID); err != nil {
			s.Log.Warn("empty recycle bin: purge failed", zap.String("run_id", ts.RunID), zap.Error(err))
			continue
		}
		purged++
	}

	rows, _, err := s.Experiments.List(r.Context(), store.ListOptions{})
	if err != nil {
		s.Log.Error("empty recycle bin: list active runs failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	runDirs := make([]string, 0, len(rows))
	dirByManifest := map[string]string{}
	for _, exp := range rows {
		layout := s.runLayout(&exp)
		runDirs = append(runDirs, layout.Dir)
		dirByManifest[layout.Dir] = layout.AssetsManifest()
	}
	live, err := assets.LiveDigests(runDirs, func(dir string) string { return dirByManifest[dir] })
	if err != nil {
		s.Log.Error("empty recycle bin: live digest scan failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	removed, freedBytes, err := s.Blobs.GC(live)
	if err != nil {
		s.Log.Error("empty recycle bin: blob gc failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, map[string]any{
		"purged_runs":   purged,
		"blobs_removed": removed,
		"bytes_freed":   freedBytes,
	})
}
