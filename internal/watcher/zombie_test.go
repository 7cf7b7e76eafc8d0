package watcher

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/store"
)

type fakeZombieRepo struct {
	rows []store.Experiment
}

func (f *fakeZombieRepo) Upsert(ctx context.Context, exp *store.Experiment) error {
	for i := range f.rows {
		if f.rows[i].RunID == exp.RunID {
			f.rows[i] = *exp
			return nil
		}
	}
	f.rows = append(f.rows, *exp)
	return nil
}
func (f *fakeZombieRepo) Get(ctx context.Context, runID string) (*store.Experiment, error) {
	for i := range f.rows {
		if f.rows[i].RunID == runID {
			return &f.rows[i], nil
		}
	}
	return nil, store.ErrNotFound
}
func (f *fakeZombieRepo) List(ctx context.Context, opts store.ListOptions) ([]store.Experiment, int64, error) {
	return f.rows, int64(len(f.rows)), nil
}
func (f *fakeZombieRepo) ListByPath(ctx context.Context, p string, opts store.ListOptions) ([]store.Experiment, int64, error) {
	return f.rows, int64(len(f.rows)), nil
}
func (f *fakeZombieRepo) SoftDelete(ctx context.Context, runID, reason string) error { return nil }
func (f *fakeZombieRepo) Restore(ctx context.Context, runID string) error            { return nil }
func (f *fakeZombieRepo) HardDelete(ctx context.Context, runID string) error         { return nil }
func (f *fakeZombieRepo) DeleteMissing(ctx context.Context, liveRunIDs []string) (int64, error) {
	return 0, nil
}
func (f *fakeZombieRepo) PathStats(ctx context.Context) ([]store.PathStat, error) { return nil, nil }
func (f *fakeZombieRepo) BestExperiments(ctx context.Context, path string) ([]store.BestExperiment, error) {
	return nil, nil
}
func (f *fakeZombieRepo) RecentActivity(ctx context.Context, limit int) ([]store.RecentActivity, error) {
	return nil, nil
}

func TestSweepZombiesTransitionsStaleHeartbeat(t *testing.T) {
	repo := &fakeZombieRepo{rows: []store.Experiment{
		{RunID: "stale", Status: "running", UpdatedAt: time.Now().Add(-72 * time.Hour)},
		{RunID: "fresh", Status: "running", UpdatedAt: time.Now()},
	}}

	n, err := SweepZombies(context.Background(), repo, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("transitioned = %d, want 1", n)
	}

	stale, _ := repo.Get(context.Background(), "stale")
	if stale.Status != "interrupted" {
		t.Fatalf("stale run status = %q, want interrupted", stale.Status)
	}
	fresh, _ := repo.Get(context.Background(), "fresh")
	if fresh.Status != "running" {
		t.Fatalf("fresh run status = %q, want running", fresh.Status)
	}
}

func TestSweepZombiesTransitionsDeadPID(t *testing.T) {
	hostname, err := os.Hostname()
	if err != nil {
		t.Skip("cannot determine hostname")
	}
	repo := &fakeZombieRepo{rows: []store.Experiment{
		{RunID: "dead-pid", Status: "running", Hostname: hostname, PID: 999999999, UpdatedAt: time.Now()},
	}}

	n, err := SweepZombies(context.Background(), repo, 24*time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("transitioned = %d, want 1", n)
	}
}

func TestSweepZombiesIgnoresNonRunning(t *testing.T) {
	repo := &fakeZombieRepo{rows: []store.Experiment{
		{RunID: "finished", Status: "finished", UpdatedAt: time.Now().Add(-72 * time.Hour)},
	}}

	n, err := SweepZombies(context.Background(), repo, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("transitioned = %d, want 0", n)
	}
}
