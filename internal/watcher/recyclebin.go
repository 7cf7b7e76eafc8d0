package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
	"github.com/runicorn/runicorn/internal/store"
)

// tombstone records when and why a run directory was moved into the
// recycle bin, written alongside the moved directory so a restore or
// retention sweep does not need the SQLite row to know what to do.
type tombstone struct {
	RunID      string    `json:"run_id"`
	OriginPath string    `json:"origin_path"` // original run_dir, relative to storage root
	DeletedAt  time.Time `json:"deleted_at"`
	Reason     string    `json:"reason"`
}

// RecycleBin implements the soft-delete → recycle bin → permanent delete
// lifecycle: a soft-deleted run's directory is moved (not copied) under
// recycle_bin/, preserving its blobs for as long as it sits there,
// since GC's live set includes recycle-bin manifests.
type RecycleBin struct {
	root runfs.StorageRoot
	exps store.ExperimentRepository
	log  *zap.Logger
}

func NewRecycleBin(root runfs.StorageRoot, exps store.ExperimentRepository, log *zap.Logger) *RecycleBin {
	return &RecycleBin{root: root, exps: exps, log: log.Named("recyclebin")}
}

func (b *RecycleBin) entryDir(runID string) string {
	return filepath.Join(b.root.RecycleBin(), runID)
}

func (b *RecycleBin) tombstonePath(runID string) string {
	return filepath.Join(b.entryDir(runID), ".tombstone.json")
}

// Move relocates a run directory into the recycle bin and records a
// tombstone, then soft-deletes the SQLite row. It does not touch the blob
// store — GC's live-set scan covers recycle-bin manifests separately.
func (b *RecycleBin) Move(ctx context.Context, runDir, runID, reason string) error {
	dest := b.entryDir(runID)
	if err := os.MkdirAll(b.root.RecycleBin(), 0o755); err != nil {
		return fmt.Errorf("recyclebin: mkdir: %w", err)
	}
	if err := os.Rename(runDir, dest); err != nil {
		return fmt.Errorf("recyclebin: move run dir: %w", err)
	}

	ts := tombstone{RunID: runID, OriginPath: runDir, DeletedAt: time.Now(), Reason: reason}
	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return fmt.Errorf("recyclebin: marshal tombstone: %w", err)
	}
	if err := os.WriteFile(b.tombstonePath(runID), data, 0o644); err != nil {
		return fmt.Errorf("recyclebin: write tombstone: %w", err)
	}

	if err := b.exps.SoftDelete(ctx, runID, reason); err != nil {
		b.log.Warn("soft delete db row failed after directory move", zap.String("run_id", runID), zap.Error(err))
	}
	return nil
}

// Restore moves a run directory back to its recorded origin and clears
// the SQLite row's soft-delete marker.
func (b *RecycleBin) Restore(ctx context.Context, runID string) error {
	tsPath := b.tombstonePath(runID)
	data, err := os.ReadFile(tsPath)
	if err != nil {
		return fmt.Errorf("recyclebin: read tombstone: %w", err)
	}
	var ts tombstone
	if err := json.Unmarshal(data, &ts); err != nil {
		return fmt.Errorf("recyclebin: parse tombstone: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(ts.OriginPath), 0o755); err != nil {
		return fmt.Errorf("recyclebin: mkdir origin parent: %w", err)
	}
	if err := os.Rename(b.entryDir(runID), ts.OriginPath); err != nil {
		return fmt.Errorf("recyclebin: move back: %w", err)
	}
	if err := os.Remove(filepath.Join(ts.OriginPath, ".tombstone.json")); err != nil && !os.IsNotExist(err) {
		b.log.Warn("failed to remove tombstone after restore", zap.String("run_id", runID), zap.Error(err))
	}

	if err := b.exps.Restore(ctx, runID); err != nil {
		return fmt.Errorf("recyclebin: restore db row: %w", err)
	}
	return nil
}

// Purge permanently deletes a recycle-bin entry's directory and its
// SQLite row. Blob GC is the caller's responsibility afterward, since it
// needs a fresh live-set scan across all remaining manifests.
func (b *RecycleBin) Purge(ctx context.Context, runID string) error {
	if err := os.RemoveAll(b.entryDir(runID)); err != nil {
		return fmt.Errorf("recyclebin: remove dir: %w", err)
	}
	if err := b.exps.HardDelete(ctx, runID); err != nil && err != store.ErrNotFound {
		return fmt.Errorf("recyclebin: hard delete db row: %w", err)
	}
	return nil
}

// SweepExpired purges every recycle-bin entry whose tombstone is older
// than retention, returning the count purged.
func (b *RecycleBin) SweepExpired(ctx context.Context, retention time.Duration) (int, error) {
	entries, err := os.ReadDir(b.root.RecycleBin())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("recyclebin: read dir: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	purged := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		runID := e.Name()
		data, err := os.ReadFile(b.tombstonePath(runID))
		if err != nil {
			continue
		}
		var ts tombstone
		if err := json.Unmarshal(data, &ts); err != nil {
			continue
		}
		if ts.DeletedAt.After(cutoff) {
			continue
		}
		if err := b.Purge(ctx, runID); err != nil {
			b.log.Warn("failed to purge expired recycle bin entry", zap.String("run_id", runID), zap.Error(err))
			continue
		}
		purged++
	}
	return purged, nil
}

// List returns the tombstones of every entry currently in the recycle bin.
func (b *RecycleBin) List() ([]tombstone, error) {
	entries, err := os.ReadDir(b.root.RecycleBin())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("recyclebin: read dir: %w", err)
	}
	var tombstones []tombstone
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(b.tombstonePath(e.Name()))
		if err != nil {
			continue
		}
		var ts tombstone
		if json.Unmarshal(data, &ts) == nil {
			tombstones = append(tombstones, ts)
		}
	}
	return tombstones, nil
}
