package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/store"
)

type fakeExperimentRepo struct {
	byID map[string]*store.Experiment
}

func (f *fakeExperimentRepo) Upsert(ctx context.Context, exp *store.Experiment) error { return nil }
func (f *fakeExperimentRepo) Get(ctx context.Context, runID string) (*store.Experiment, error) {
	exp, ok := f.byID[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return exp, nil
}
func (f *fakeExperimentRepo) List(ctx context.Context, opts store.ListOptions) ([]store.Experiment, int64, error) {
	return nil, 0, nil
}
func (f *fakeExperimentRepo) ListByPath(ctx context.Context, p string, opts store.ListOptions) ([]store.Experiment, int64, error) {
	return nil, 0, nil
}
func (f *fakeExperimentRepo) SoftDelete(ctx context.Context, runID, reason string) error { return nil }
func (f *fakeExperimentRepo) Restore(ctx context.Context, runID string) error            { return nil }
func (f *fakeExperimentRepo) HardDelete(ctx context.Context, runID string) error         { return nil }
func (f *fakeExperimentRepo) DeleteMissing(ctx context.Context, liveRunIDs []string) (int64, error) {
	return 0, nil
}
func (f *fakeExperimentRepo) PathStats(ctx context.Context) ([]store.PathStat, error) { return nil, nil }
func (f *fakeExperimentRepo) BestExperiments(ctx context.Context, path string) ([]store.BestExperiment, error) {
	return nil, nil
}
func (f *fakeExperimentRepo) RecentActivity(ctx context.Context, limit int) ([]store.RecentActivity, error) {
	return nil, nil
}

func newTestServer(t *testing.T, runID, runDir string) *Server {
	t.Helper()
	repo := &fakeExperimentRepo{byID: map[string]*store.Experiment{
		runID: {RunID: runID, RunDir: runDir},
	}}
	return &Server{Experiments: repo, Log: zap.NewNop()}
}

func serveDownload(s *Server, runID, rel string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/files/"+rel, nil)
	rr := httptest.NewRecorder()

	r := chi.NewRouter()
	r.Get("/api/runs/{id}/files/*", s.DownloadFile)
	r.ServeHTTP(rr, req)
	return rr
}

func TestDownloadFileServesFileInsideRunDir(t *testing.T) {
	runDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(runDir, "logs.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, "20260101_000000_abcdef", runDir)

	rr := serveDownload(s, "20260101_000000_abcdef", "logs.txt")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "hello" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestDownloadFileRejectsPathEscape(t *testing.T) {
	runDir := t.TempDir()
	parent := filepath.Dir(runDir)
	secret := filepath.Join(parent, "secret.txt")
	if err := os.WriteFile(secret, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(secret)

	s := newTestServer(t, "20260101_000000_abcdef", runDir)

	rr := serveDownload(s, "20260101_000000_abcdef", "../secret.txt")
	if rr.Code == http.StatusOK {
		t.Fatalf("escape was served: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestDownloadFileRejectsInvalidRunID(t *testing.T) {
	s := newTestServer(t, "20260101_000000_abcdef", t.TempDir())

	rr := serveDownload(s, "not-a-run-id", "logs.txt")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestDownloadFileUnknownRun(t *testing.T) {
	s := newTestServer(t, "20260101_000000_abcdef", t.TempDir())

	rr := serveDownload(s, "20260102_000000_abcdef", "logs.txt")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
