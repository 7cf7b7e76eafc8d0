package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
)

type fakeExpRepo struct {
	byID map[string]*Experiment
}

func newFakeExpRepo() *fakeExpRepo { return &fakeExpRepo{byID: map[string]*Experiment{}} }

func (f *fakeExpRepo) Upsert(ctx context.Context, exp *Experiment) error {
	cp := *exp
	f.byID[exp.RunID] = &cp
	return nil
}
func (f *fakeExpRepo) Get(ctx context.Context, runID string) (*Experiment, error) {
	exp, ok := f.byID[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return exp, nil
}
func (f *fakeExpRepo) List(ctx context.Context, opts ListOptions) ([]Experiment, int64, error) {
	return nil, 0, nil
}
func (f *fakeExpRepo) ListByPath(ctx context.Context, p string, opts ListOptions) ([]Experiment, int64, error) {
	return nil, 0, nil
}
func (f *fakeExpRepo) SoftDelete(ctx context.Context, runID, reason string) error { return nil }
func (f *fakeExpRepo) Restore(ctx context.Context, runID string) error           { return nil }
func (f *fakeExpRepo) HardDelete(ctx context.Context, runID string) error        { return nil }
func (f *fakeExpRepo) DeleteMissing(ctx context.Context, liveRunIDs []string) (int64, error) {
	return 0, nil
}
func (f *fakeExpRepo) PathStats(ctx context.Context) ([]PathStat, error) { return nil, nil }
func (f *fakeExpRepo) BestExperiments(ctx context.Context, path string) ([]BestExperiment, error) {
	return nil, nil
}
func (f *fakeExpRepo) RecentActivity(ctx context.Context, limit int) ([]RecentActivity, error) {
	return nil, nil
}

type fakeMetricRepo struct {
	rows []Metric
}

func (f *fakeMetricRepo) BulkUpsert(ctx context.Context, rows []Metric) error {
	f.rows = append(f.rows, rows...)
	return nil
}
func (f *fakeMetricRepo) CountForRun(ctx context.Context, runID string) (int64, error) {
	var n int64
	for _, r := range f.rows {
		if r.RunID == runID {
			n++
		}
	}
	return n, nil
}
func (f *fakeMetricRepo) DeleteForRun(ctx context.Context, runID string) error { return nil }

type fakeEnvRepo struct {
	byRun map[string]*Environment
}

func newFakeEnvRepo() *fakeEnvRepo { return &fakeEnvRepo{byRun: map[string]*Environment{}} }

func (f *fakeEnvRepo) Upsert(ctx context.Context, env *Environment) error {
	cp := *env
	f.byRun[env.RunID] = &cp
	return nil
}
func (f *fakeEnvRepo) Get(ctx context.Context, runID string) (*Environment, error) {
	env, ok := f.byRun[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return env, nil
}

type fakeFileRepo struct {
	rows []ExperimentFile
}

func (f *fakeFileRepo) BulkUpsert(ctx context.Context, rows []ExperimentFile) error {
	f.rows = append(f.rows, rows...)
	return nil
}
func (f *fakeFileRepo) ListForRun(ctx context.Context, runID string) ([]ExperimentFile, error) {
	var out []ExperimentFile
	for _, r := range f.rows {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeFileRepo) DeleteForRun(ctx context.Context, runID string) error { return nil }

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTickDerivesUpdatedAtFromStatusHeartbeat(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "default", "20260101_000000_abcdef")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	layout := runfs.New(runDir)

	writeJSON(t, layout.Meta(), runfs.Meta{
		RunID:     "20260101_000000_abcdef",
		Path:      "default",
		CreatedAt: float64(time.Now().Add(-80 * time.Hour).Unix()),
	})
	staleHeartbeat := time.Now().Add(-72 * time.Hour)
	writeJSON(t, layout.Status(), runfs.Status{
		Status:    "running",
		UpdatedAt: float64(staleHeartbeat.Unix()),
	})

	exps := newFakeExpRepo()
	rc := NewReconciler(runfs.NewStorageRoot(root), exps, &fakeMetricRepo{}, newFakeEnvRepo(), &fakeFileRepo{}, zap.NewNop())

	if err := rc.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	exp, err := exps.Get(context.Background(), "20260101_000000_abcdef")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if exp.UpdatedAt.Unix() != staleHeartbeat.Unix() {
		t.Fatalf("UpdatedAt = %v, want %v (derived from status.json heartbeat)", exp.UpdatedAt, staleHeartbeat)
	}
}

func TestTickSyncsMetricsEnvironmentAndFiles(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "default", "20260101_000000_abcdef")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	layout := runfs.New(runDir)

	writeJSON(t, layout.Meta(), runfs.Meta{
		RunID:     "20260101_000000_abcdef",
		Path:      "default",
		CreatedAt: float64(time.Now().Unix()),
	})
	writeJSON(t, layout.Status(), runfs.Status{Status: "running", UpdatedAt: float64(time.Now().Unix())})

	events := `{"type":"metric","ts":1.0,"step":1,"name":"loss","value":0.5}` + "\n" +
		`{"type":"metric","ts":2.0,"step":2,"name":"loss","value":0.4}` + "\n"
	if err := os.WriteFile(layout.Events(), []byte(events), 0o644); err != nil {
		t.Fatal(err)
	}

	writeJSON(t, layout.Environment(), runfs.Environment{
		GitCommit:  "abc123",
		CPUCount:   8,
		CapturedAt: float64(time.Now().Unix()),
	})

	writeJSON(t, layout.AssetsManifest(), runfs.AssetsManifest{
		Entries: []runfs.AssetEntry{
			{Path: "train.py", Digest: "deadbeef", Size: 10},
			{Path: "media/sample.png", Digest: "cafef00d", Size: 20},
		},
	})

	exps := newFakeExpRepo()
	metrics := &fakeMetricRepo{}
	envs := newFakeEnvRepo()
	files := &fakeFileRepo{}
	rc := NewReconciler(runfs.NewStorageRoot(root), exps, metrics, envs, files, zap.NewNop())

	if err := rc.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	if len(metrics.rows) != 2 {
		t.Fatalf("metric rows = %d, want 2", len(metrics.rows))
	}

	env, err := envs.Get(context.Background(), "20260101_000000_abcdef")
	if err != nil {
		t.Fatalf("get environment: %v", err)
	}
	if env.GitCommit != "abc123" || env.CPUCount != 8 {
		t.Fatalf("environment row = %+v", env)
	}

	fileRows, err := files.ListForRun(context.Background(), "20260101_000000_abcdef")
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(fileRows) != 2 {
		t.Fatalf("file rows = %d, want 2", len(fileRows))
	}
	byPath := map[string]string{}
	for _, r := range fileRows {
		byPath[r.FilePath] = r.FileType
	}
	if byPath["train.py"] != "snapshot" {
		t.Fatalf("train.py classified as %q, want snapshot", byPath["train.py"])
	}
	if byPath["media/sample.png"] != "media" {
		t.Fatalf("media/sample.png classified as %q, want media", byPath["media/sample.png"])
	}
}
