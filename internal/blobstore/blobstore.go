// Package blobstore implements a SHA-256 content-addressed archive:
// deduplicated storage shared across runs and assets, with
// hardlink-first promotion into a run directory and a quarantine area
// for content that fails its own hash check.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Open when no blob exists for the given digest.
var ErrNotFound = errors.New("blobstore: blob not found")

// Store is the content-addressed archive rooted at a directory. The zero
// value is not usable — create instances with New.
type Store struct {
	root   string // <storage_root>/archive
	logger *zap.Logger
}

// New opens (creating if necessary) a Store rooted at root, and sweeps any
// leftover temp files from a previous unclean shutdown.
func New(root string, logger *zap.Logger) (*Store, error) {
	s := &Store{root: root, logger: logger.Named("blobstore")}
	for _, dir := range []string{s.root, s.tmpDir(), s.quarantineDir(), filepath.Join(s.root, "sha256")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("blobstore: mkdir %s: %w", dir, err)
		}
	}
	if err := s.sweepTmp(); err != nil {
		return nil, fmt.Errorf("blobstore: startup sweep: %w", err)
	}
	return s, nil
}

func (s *Store) tmpDir() string         { return filepath.Join(s.root, "tmp") }
func (s *Store) quarantineDir() string  { return filepath.Join(s.root, "quarantine") }

// path returns the sharded on-disk path archive/sha256/<aa>/<bb>/<rest>
// for a lowercase hex digest.
func (s *Store) path(digest string) (string, error) {
	if len(digest) != 64 {
		return "", fmt.Errorf("blobstore: invalid digest length %d", len(digest))
	}
	return filepath.Join(s.root, "sha256", digest[:2], digest[2:4], digest[4:]), nil
}

// sweepTmp removes any temp files left over from a put that did not
// complete (crash between creation and rename).
func (s *Store) sweepTmp() error {
	entries, err := os.ReadDir(s.tmpDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		_ = os.Remove(filepath.Join(s.tmpDir(), e.Name()))
	}
	return nil
}

// Put streams sourcePath's bytes into the store, hashing as it goes, and
// returns the digest and size. If a blob with that digest already exists
// the source is discarded without rewriting (still hashed in full, since
// the digest is the point). The write uses write-to-temp-then-rename on
// the same filesystem so the rename is atomic.
func (s *Store) Put(sourcePath string) (digest string, size int64, err error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: open source: %w", err)
	}
	defer src.Close()
	return s.PutReader(src)
}

// PutReader is the streaming core of Put, usable directly when the caller
// already has an io.Reader (e.g. an in-flight upload or an asset archive
// stream) rather than a path on disk.
func (s *Store) PutReader(r io.Reader) (digest string, size int64, err error) {
	tmp, err := os.CreateTemp(s.tmpDir(), "put-*")
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath) // no-op once renamed away
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, fmt.Errorf("blobstore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("blobstore: close temp: %w", err)
	}

	digest = hex.EncodeToString(h.Sum(nil))
	dst, err := s.path(digest)
	if err != nil {
		return "", 0, err
	}

	if _, err := os.Stat(dst); err == nil {
		// Already present — discard the temp copy we just wrote.
		return digest, n, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, fmt.Errorf("blobstore: mkdir target: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, fmt.Errorf("blobstore: rename into place: %w", err)
	}
	return digest, n, nil
}

// Has reports whether a blob with the given digest exists.
func (s *Store) Has(digest string) bool {
	p, err := s.path(digest)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Open returns a read-only handle on the blob's bytes.
func (s *Store) Open(digest string) (*os.File, error) {
	p, err := s.path(digest)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: open %s: %w", digest, err)
	}
	return f, nil
}

// Link promotes the blob at digest into dstPath inside a run directory.
// It tries a hardlink first; on any failure (cross-device, filesystem
// without hardlink support, ACL denial) it falls back to a byte copy.
// Callers must not assume the hardlink path was taken.
func (s *Store) Link(digest, dstPath string) error {
	src, err := s.path(digest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("blobstore: mkdir dst: %w", err)
	}
	if err := os.Link(src, dstPath); err == nil {
		return nil
	}
	return s.copyFile(src, dstPath)
}

func (s *Store) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("blobstore: open for copy: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("blobstore: create copy target: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("blobstore: copy: %w", err)
	}
	return out.Sync()
}

// Verify re-hashes the blob at digest and reports whether its content
// still matches its filename. Corrupt blobs should be quarantined via
// Quarantine, not silently served.
func (s *Store) Verify(digest string) (bool, error) {
	f, err := s.Open(digest)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("blobstore: verify read: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)) == digest, nil
}

// Quarantine moves a corrupt blob out of the content-addressed tree into
// archive/quarantine/<digest> so it stops being served but is kept for
// forensic inspection.
func (s *Store) Quarantine(digest string) error {
	src, err := s.path(digest)
	if err != nil {
		return err
	}
	dst := filepath.Join(s.quarantineDir(), digest)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("blobstore: quarantine %s: %w", digest, err)
	}
	s.logger.Warn("quarantined corrupt blob", zap.String("digest", digest))
	return nil
}

// LiveSet is the set of digests referenced by at least one asset manifest,
// built by the caller (internal/runfs + internal/assets scan every run's
// assets.json, including soft-deleted runs). GC only needs a membership
// test, not the provenance of each digest.
type LiveSet map[string]struct{}

// GC walks the store and deletes every blob whose digest is absent from
// live. It returns the number of blobs removed and their total size.
func (s *Store) GC(live LiveSet) (removed int, freedBytes int64, err error) {
	shaRoot := filepath.Join(s.root, "sha256")
	err = filepath.WalkDir(shaRoot, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(shaRoot, p)
		if err != nil {
			return nil
		}
		digest := pathToDigest(rel)
		if digest == "" {
			return nil
		}
		if _, ok := live[digest]; ok {
			return nil
		}
		info, statErr := d.Info()
		if statErr == nil {
			freedBytes += info.Size()
		}
		if rmErr := os.Remove(p); rmErr != nil {
			return rmErr
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, freedBytes, fmt.Errorf("blobstore: gc walk: %w", err)
	}
	s.logger.Info("blob gc complete", zap.Int("removed", removed), zap.Int64("freed_bytes", freedBytes))
	return removed, freedBytes, nil
}

// pathToDigest reverses the archive/sha256/<aa>/<bb>/<rest> sharding back
// into a flat 64-char hex digest. Returns "" for anything that doesn't
// look like a sharded blob path (defensive against stray files).
func pathToDigest(rel string) string {
	segs := splitSlash(filepath.ToSlash(rel))
	if len(segs) != 3 || len(segs[0]) != 2 || len(segs[1]) != 2 {
		return ""
	}
	digest := segs[0] + segs[1] + segs[2]
	if len(digest) != 64 {
		return ""
	}
	return digest
}

func splitSlash(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
