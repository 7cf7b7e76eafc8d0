package api

import (
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
	"github.com/runicorn/runicorn/internal/store"
)

// ListPaths answers GET /api/paths: per-path aggregate counts from
// v_path_stats, used by the path-hierarchy browser's flat listing.
func (s *Server) ListPaths(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Experiments.PathStats(r.Context())
	if err != nil {
		s.Log.Error("list paths failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"paths": rows})
}

// pathNode is one node of the prefix trie over path values.
type pathNode struct {
	Name     string               `json:"name"`
	FullPath string               `json:"full_path"`
	RunCount int64                `json:"run_count"`
	Children map[string]*pathNode `json:"children,omitempty"`
}

// PathTree answers GET /api/paths/tree: the prefix trie over every
// distinct path value, each segment delimited by '/'.
func (s *Server) PathTree(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Experiments.PathStats(r.Context())
	if err != nil {
		s.Log.Error("path tree failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	root := &pathNode{Name: "", Children: map[string]*pathNode{}}
	for _, stat := range stats {
		segments := strings.Split(stat.Path, "/")
		cur := root
		full := ""
		for _, seg := range segments {
			if seg == "" {
				continue
			}
			if full == "" {
				full = seg
			} else {
				full = full + "/" + seg
			}
			child, ok := cur.Children[seg]
			if !ok {
				child = &pathNode{Name: seg, FullPath: full, Children: map[string]*pathNode{}}
				cur.Children[seg] = child
			}
			cur = child
		}
		cur.RunCount = stat.RunCount
	}

	Ok(w, map[string]any{"tree": root})
}

// PathRuns answers GET /api/paths/runs?path=: every run under a path
// prefix, delegating to the same listing logic as ListRuns.
func (s *Server) PathRuns(w http.ResponseWriter, r *http.Request) {
	s.ListRuns(w, r)
}

type pathSoftDeleteRequest struct {
	Path   string `json:"path"`
	Reason string `json:"reason,omitempty"`
}

// PathSoftDelete answers POST /api/paths/soft-delete: soft-deletes every
// run whose path equals or is nested under the given prefix.
func (s *Server) PathSoftDelete(w http.ResponseWriter, r *http.Request) {
	var req pathSoftDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" || !validPath(req.Path) {
		ErrBadRequest(w, "invalid path")
		return
	}

	rows, _, err := s.Experiments.ListByPath(r.Context(), req.Path, store.ListOptions{})
	if err != nil {
		s.Log.Error("path soft delete: list failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	deleted := 0
	for _, exp := range rows {
		if err := s.Experiments.SoftDelete(r.Context(), exp.RunID, req.Reason); err == nil {
			deleted++
		}
	}
	Ok(w, map[string]any{"deleted": deleted})
}

// PathExport answers GET /api/paths/export?path=: a JSON document
// describing every run under a path, including its summary, for
// offline inspection (the CLI's `export`/`import` commands handle the
// full storage-root tarball round trip; this is the lighter per-path
// browser export).
func (s *Server) PathExport(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if !validPath(path) {
		ErrBadRequest(w, "invalid path")
		return
	}

	var rows []store.Experiment
	var err error
	if path != "" {
		rows, _, err = s.Experiments.ListByPath(r.Context(), path, store.ListOptions{IncludeDeleted: true})
	} else {
		rows, _, err = s.Experiments.List(r.Context(), store.ListOptions{IncludeDeleted: true})
	}
	if err != nil {
		s.Log.Error("path export failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RunID < rows[j].RunID })

	out := make([]map[string]any, 0, len(rows))
	for _, exp := range rows {
		layout := s.runLayout(&exp)
		summary, _ := runfs.ReadSummary(layout.Summary())
		out = append(out, map[string]any{
			"run":     toRunSummary(exp),
			"summary": summary,
		})
	}

	w.Header().Set("Content-Disposition", `attachment; filename="export.json"`)
	Ok(w, map[string]any{"path": path, "runs": out})
}
