package assets

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/runicorn/runicorn/internal/blobstore"
	"github.com/runicorn/runicorn/internal/runfs"
)

// SnapshotResult is the outcome of snapshotting a workspace: the manifest
// describing every included file and the path of the ZIP archive written.
type SnapshotResult struct {
	Manifest runfs.AssetsManifest
	ZipPath  string
}

// SnapshotWorkspace walks workspaceRoot, skipping paths matched by ignore
// and any path whose resolved absolute target escapes workspaceRoot
// (symlink-escape defense ), and writes a ZIP of canonical
// forward-slash paths to zipPath. Every included file's content is also
// put into the blob store so later restores can hardlink rather than
// re-copy.
func SnapshotWorkspace(workspaceRoot, zipPath string, ignore *IgnoreMatcher, store *blobstore.Store, maxSizeBytes int64) (*SnapshotResult, error) {
	absRoot, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("assets: resolve workspace root: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("assets: resolve workspace symlinks: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(zipPath), 0o755); err != nil {
		return nil, fmt.Errorf("assets: mkdir zip parent: %w", err)
	}
	zipFile, err := os.Create(zipPath)
	if err != nil {
		return nil, fmt.Errorf("assets: create zip: %w", err)
	}
	defer zipFile.Close()
	zw := zip.NewWriter(zipFile)
	defer zw.Close()

	var entries []runfs.AssetEntry
	var totalSize int64

	walkErr := filepath.WalkDir(resolvedRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == resolvedRoot {
			return nil
		}
		rel, err := filepath.Rel(resolvedRoot, p)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)

		if d.IsDir() {
			if ignore.Match(relSlash, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore.Match(relSlash, false) {
			return nil
		}

		// Symlink escape defense: resolve this entry's real path and
		// refuse anything that lands outside the workspace root.
		realPath, err := filepath.EvalSymlinks(p)
		if err != nil {
			return nil // broken symlink or permission issue: skip silently
		}
		if !withinRoot(resolvedRoot, realPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		totalSize += info.Size()
		if maxSizeBytes > 0 && totalSize > maxSizeBytes {
			return fmt.Errorf("assets: snapshot exceeds max size of %d bytes", maxSizeBytes)
		}

		digest, _, err := store.Put(realPath)
		if err != nil {
			return fmt.Errorf("assets: put %s: %w", relSlash, err)
		}

		hdr := &zip.FileHeader{Name: relSlash, Method: zip.Deflate}
		hdr.SetMode(info.Mode())
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(realPath)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(w, src)
		src.Close()
		if copyErr != nil {
			return copyErr
		}

		entries = append(entries, runfs.AssetEntry{
			Path:   relSlash,
			Digest: digest,
			Size:   info.Size(),
			Mode:   uint32(info.Mode().Perm()),
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("assets: walk workspace: %w", walkErr)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("assets: finalize zip: %w", err)
	}

	manifest := runfs.AssetsManifest{Entries: entries}
	return &SnapshotResult{Manifest: manifest, ZipPath: zipPath}, nil
}

// withinRoot reports whether target is root itself or a descendant of it.
func withinRoot(root, target string) bool {
	if target == root {
		return true
	}
	return strings.HasPrefix(target, root+string(filepath.Separator))
}
