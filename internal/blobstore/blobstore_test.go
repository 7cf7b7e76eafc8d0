package blobstore

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPutDeduplicates(t *testing.T) {
	s := newTestStore(t)

	src := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(src, []byte("hello runicorn"), 0o644); err != nil {
		t.Fatal(err)
	}

	d1, n1, err := s.Put(src)
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	if n1 != int64(len("hello runicorn")) {
		t.Fatalf("size = %d", n1)
	}

	d2, _, err := s.Put(src)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("digest mismatch across identical puts: %s vs %s", d1, d2)
	}

	count := 0
	filepath.WalkDir(filepath.Join(s.root, "sha256"), func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			count++
		}
		return nil
	})
	if count != 1 {
		t.Fatalf("expected exactly one blob file, found %d", count)
	}
}

func TestLinkMaterializesBlobContent(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(t.TempDir(), "f.bin")
	os.WriteFile(src, []byte("data"), 0o644)

	digest, _, err := s.Put(src)
	if err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "run", "media", "f.bin")
	if err := s.Link(digest, dst); err != nil {
		t.Fatalf("Link: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "data" {
		t.Fatalf("linked content mismatch: %q", got)
	}
}

func TestGCRemovesOrphans(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(t.TempDir(), "f.bin")
	os.WriteFile(src, []byte("orphaned"), 0o644)
	digest, _, err := s.Put(src)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Has(digest) {
		t.Fatal("expected blob to exist before gc")
	}

	removed, _, err := s.GC(LiveSet{})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if s.Has(digest) {
		t.Fatal("expected blob to be gone after gc with empty live set")
	}
}

func TestGCKeepsLive(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(t.TempDir(), "f.bin")
	os.WriteFile(src, []byte("kept"), 0o644)
	digest, _, err := s.Put(src)
	if err != nil {
		t.Fatal(err)
	}

	removed, _, err := s.GC(LiveSet{digest: {}})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
	if !s.Has(digest) {
		t.Fatal("expected live blob to survive gc")
	}
}
