package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
	"github.com/runicorn/runicorn/internal/store"
)

type fakeExperimentRepo struct {
	softDeleted map[string]string
	restored    map[string]bool
	hardDeleted map[string]bool
}

func newFakeRepo() *fakeExperimentRepo {
	return &fakeExperimentRepo{
		softDeleted: map[string]string{},
		restored:    map[string]bool{},
		hardDeleted: map[string]bool{},
	}
}

func (f *fakeExperimentRepo) Upsert(ctx context.Context, exp *store.Experiment) error { return nil }
func (f *fakeExperimentRepo) Get(ctx context.Context, runID string) (*store.Experiment, error) {
	return nil, store.ErrNotFound
}
func (f *fakeExperimentRepo) List(ctx context.Context, opts store.ListOptions) ([]store.Experiment, int64, error) {
	return nil, 0, nil
}
func (f *fakeExperimentRepo) ListByPath(ctx context.Context, p string, opts store.ListOptions) ([]store.Experiment, int64, error) {
	return nil, 0, nil
}
func (f *fakeExperimentRepo) SoftDelete(ctx context.Context, runID, reason string) error {
	f.softDeleted[runID] = reason
	return nil
}
func (f *fakeExperimentRepo) Restore(ctx context.Context, runID string) error {
	f.restored[runID] = true
	return nil
}
func (f *fakeExperimentRepo) HardDelete(ctx context.Context, runID string) error {
	f.hardDeleted[runID] = true
	return nil
}
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

func TestRecycleBinMoveAndRestore(t *testing.T) {
	storageRoot := runfs.NewStorageRoot(t.TempDir())
	runDir := filepath.Join(storageRoot.Dir, "myproj", "20260101_000000_abcdef")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "meta.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := newFakeRepo()
	bin := NewRecycleBin(storageRoot, repo, zap.NewNop())

	if err := bin.Move(context.Background(), runDir, "20260101_000000_abcdef", "user requested"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := os.Stat(runDir); !os.IsNotExist(err) {
		t.Fatal("expected original run dir to be gone after move")
	}
	if repo.softDeleted["20260101_000000_abcdef"] != "user requested" {
		t.Fatal("expected soft delete to be recorded")
	}

	if err := bin.Restore(context.Background(), "20260101_000000_abcdef"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runDir, "meta.json")); err != nil {
		t.Fatalf("expected run dir restored: %v", err)
	}
	if !repo.restored["20260101_000000_abcdef"] {
		t.Fatal("expected restore to be recorded")
	}
}

func TestRecycleBinSweepExpired(t *testing.T) {
	storageRoot := runfs.NewStorageRoot(t.TempDir())
	runDir := filepath.Join(storageRoot.Dir, "myproj", "20260101_000000_abcdef")
	os.MkdirAll(runDir, 0o755)
	os.WriteFile(filepath.Join(runDir, "meta.json"), []byte("{}"), 0o644)

	repo := newFakeRepo()
	bin := NewRecycleBin(storageRoot, repo, zap.NewNop())
	if err := bin.Move(context.Background(), runDir, "20260101_000000_abcdef", "expired test"); err != nil {
		t.Fatal(err)
	}

	purged, err := bin.SweepExpired(context.Background(), -1*time.Second)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if !repo.hardDeleted["20260101_000000_abcdef"] {
		t.Fatal("expected hard delete after purge")
	}
}
