package assets

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/runicorn/runicorn/internal/blobstore"
	"github.com/runicorn/runicorn/internal/runfs"
)

// RestoreOptions controls how a manifest is replayed onto a target
// directory.
type RestoreOptions struct {
	// Force allows overwriting files that already exist at the target
	// path. Without it, an existing file is left untouched and reported
	// as skipped rather than erroring the whole restore.
	Force bool
}

// RestoreResult reports what happened to each manifest entry.
type RestoreResult struct {
	Restored []string
	Skipped  []string
}

// Restore replays manifest onto targetRoot: for each entry, it hardlinks
// from the blob store when possible (falling back to a byte copy inside
// Link itself) and enforces the entry's mode bits where the OS permits.
// An existing file is left alone unless opts.Force is set.
func Restore(store *blobstore.Store, manifest *runfs.AssetsManifest, targetRoot string, opts RestoreOptions) (*RestoreResult, error) {
	res := &RestoreResult{}
	for _, entry := range manifest.Entries {
		dst := filepath.Join(targetRoot, filepath.FromSlash(entry.Path))

		if _, err := os.Lstat(dst); err == nil && !opts.Force {
			res.Skipped = append(res.Skipped, entry.Path)
			continue
		} else if err == nil && opts.Force {
			if err := os.Remove(dst); err != nil {
				return res, fmt.Errorf("assets: remove existing %s: %w", entry.Path, err)
			}
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return res, fmt.Errorf("assets: mkdir for %s: %w", entry.Path, err)
		}
		if err := store.Link(entry.Digest, dst); err != nil {
			return res, fmt.Errorf("assets: restore %s: %w", entry.Path, err)
		}
		if entry.Mode != 0 {
			if err := os.Chmod(dst, os.FileMode(entry.Mode)); err != nil {
				// Mode enforcement is best-effort: some filesystems
				// (FAT, some network mounts) silently ignore chmod.
				_ = err
			}
		}
		res.Restored = append(res.Restored, entry.Path)
	}
	return res, nil
}
