package api

import "net/http"

// Version is overridden at build time via -ldflags.
var Version = "dev"

// Health answers GET /api/health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	Ok(w, map[string]any{"ok": true, "version": Version})
}
