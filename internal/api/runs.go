package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
	"github.com/runicorn/runicorn/internal/store"
)

type runSummary struct {
	RunID           string   `json:"run_id"`
	Path            string   `json:"path"`
	Alias           string   `json:"alias,omitempty"`
	Status          string   `json:"status"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
	BestMetricName  string   `json:"best_metric_name,omitempty"`
	BestMetricValue *float64 `json:"best_metric_value,omitempty"`
	Deleted         bool     `json:"deleted"`
}

func toRunSummary(exp store.Experiment) runSummary {
	return runSummary{
		RunID:           exp.RunID,
		Path:            exp.Path,
		Alias:           exp.Alias,
		Status:          exp.Status,
		CreatedAt:       exp.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt:       exp.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		BestMetricName:  exp.BestMetricName,
		BestMetricValue: exp.BestMetricValue,
		Deleted:         exp.DeletedAt != nil,
	}
}

// ListRuns answers GET /api/runs with filters path, status, deleted,
// search, page, per_page. Filtering beyond path is applied in
// memory over the full (optionally path-scoped) result set — the
// expected scale for a single-node experiment tracker never requires
// pushing status/search predicates into SQL.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	if !validPath(path) {
		ErrBadRequest(w, "invalid path")
		return
	}
	statusFilter := q.Get("status")
	deletedFilter := q.Get("deleted")
	search := strings.ToLower(q.Get("search"))

	page := atoiDefault(q.Get("page"), 1)
	perPage := atoiDefault(q.Get("per_page"), 50)
	if perPage > 1000 {
		perPage = 1000
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}

	opts := store.ListOptions{IncludeDeleted: deletedFilter == "1" || deletedFilter == "all" || deletedFilter == "true"}
	var rows []store.Experiment
	var err error
	if path != "" {
		rows, _, err = s.Experiments.ListByPath(r.Context(), path, opts)
	} else {
		rows, _, err = s.Experiments.List(r.Context(), opts)
	}
	if err != nil {
		s.Log.Error("list runs failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	filtered := rows[:0]
	for _, exp := range rows {
		if deletedFilter == "0" && exp.DeletedAt != nil {
			continue
		}
		if deletedFilter == "1" && exp.DeletedAt == nil {
			continue
		}
		if statusFilter != "" && exp.Status != statusFilter {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(exp.Path), search) &&
			!strings.Contains(strings.ToLower(exp.RunID), search) &&
			!strings.Contains(strings.ToLower(exp.Alias), search) {
			continue
		}
		filtered = append(filtered, exp)
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.After(filtered[j].CreatedAt) })

	total := len(filtered)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	page1 := filtered[start:end]

	out := make([]runSummary, len(page1))
	for i, exp := range page1 {
		out[i] = toRunSummary(exp)
	}

	Ok(w, map[string]any{
		"runs":     out,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

type runDetail struct {
	runSummary
	Hostname        string         `json:"hostname"`
	PID             int            `json:"pid"`
	PythonVersion   string         `json:"python_version"`
	Platform        string         `json:"platform"`
	DurationSeconds *float64       `json:"duration_seconds,omitempty"`
	MetricCount     int64          `json:"metric_count"`
	Summary         map[string]any `json:"summary"`
	AssetsCount     int            `json:"assets_count"`
}

// GetRun answers GET /api/runs/{id}.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
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
		s.Log.Error("get run failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	layout := s.runLayout(exp)
	summary, _ := runfs.ReadSummary(layout.Summary())
	manifest, _ := runfs.ReadAssetsManifest(layout.AssetsManifest())

	detail := runDetail{
		runSummary:      toRunSummary(*exp),
		Hostname:        exp.Hostname,
		PID:             exp.PID,
		PythonVersion:   exp.PythonVersion,
		Platform:        exp.Platform,
		DurationSeconds: exp.DurationSeconds,
		MetricCount:     exp.MetricCount,
		Summary:         summary,
		AssetsCount:     len(manifest.Entries),
	}
	Ok(w, detail)
}

type softDeleteRequest struct {
	RunIDs []string `json:"run_ids"`
	Reason string   `json:"reason,omitempty"`
}

// SoftDeleteRuns answers POST /api/runs/soft-delete: sets deleted_at on the
// SQLite row without touching anything on disk. Moving the
// directory into the recycle bin is a separate, explicit action.
func (s *Server) SoftDeleteRuns(w http.ResponseWriter, r *http.Request) {
	var req softDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.RunIDs) == 0 {
		ErrBadRequest(w, "run_ids must not be empty")
		return
	}

	var failed []string
	for _, id := range req.RunIDs {
		if !validRunID(id) {
			failed = append(failed, id)
			continue
		}
		if err := s.Experiments.SoftDelete(r.Context(), id, req.Reason); err != nil && err != store.ErrNotFound {
			s.Log.Warn("soft delete failed", zap.Error(err))
			failed = append(failed, id)
		}
	}
	Ok(w, map[string]any{"deleted": len(req.RunIDs) - len(failed), "failed": failed})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
