package assets

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/blobstore"
)

func TestIgnoreMatcherBasics(t *testing.T) {
	dir := t.TempDir()
	ignorePath := filepath.Join(dir, ".rnignore")
	os.WriteFile(ignorePath, []byte("# comment\n*.pyc\n/build/\ndata/\n"), 0o644)

	m, err := LoadIgnoreFile(ignorePath)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match("foo.pyc", false) {
		t.Fatal("expected *.pyc to match")
	}
	if !m.Match("build", true) {
		t.Fatal("expected anchored /build/ to match build dir")
	}
	if m.Match("nested/build", true) {
		t.Fatal("anchored pattern should not match nested build dir")
	}
	if !m.Match("data", true) {
		t.Fatal("expected unanchored data/ to match at any depth")
	}
	if !m.Match("src/data", true) {
		t.Fatal("expected unanchored data/ to match nested dir")
	}
	if m.Match("main.go", false) {
		t.Fatal("main.go should not be ignored")
	}
}

func TestSnapshotWorkspaceAndRestore(t *testing.T) {
	ws := t.TempDir()
	os.MkdirAll(filepath.Join(ws, "src"), 0o755)
	os.WriteFile(filepath.Join(ws, "src", "main.go"), []byte("package main"), 0o644)
	os.WriteFile(filepath.Join(ws, "README.md"), []byte("hello"), 0o644)
	os.WriteFile(filepath.Join(ws, "ignored.pyc"), []byte("junk"), 0o644)
	os.WriteFile(filepath.Join(ws, ".rnignore"), []byte("*.pyc\n"), 0o644)

	ignore, err := LoadIgnoreFile(filepath.Join(ws, ".rnignore"))
	if err != nil {
		t.Fatal(err)
	}

	store, err := blobstore.New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	zipPath := filepath.Join(t.TempDir(), "snapshot.zip")
	result, err := SnapshotWorkspace(ws, zipPath, ignore, store, 0)
	if err != nil {
		t.Fatalf("SnapshotWorkspace: %v", err)
	}

	foundMain, foundPyc := false, false
	for _, e := range result.Manifest.Entries {
		if e.Path == "src/main.go" {
			foundMain = true
		}
		if e.Path == "ignored.pyc" {
			foundPyc = true
		}
	}
	if !foundMain {
		t.Fatal("expected src/main.go in manifest")
	}
	if foundPyc {
		t.Fatal("ignored.pyc should not be in manifest")
	}

	restoreTarget := t.TempDir()
	res, err := Restore(store, &result.Manifest, restoreTarget, RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(res.Restored) != len(result.Manifest.Entries) {
		t.Fatalf("restored %d, want %d", len(res.Restored), len(result.Manifest.Entries))
	}

	got, err := os.ReadFile(filepath.Join(restoreTarget, "src", "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "package main" {
		t.Fatalf("restored content mismatch: %q", got)
	}
}

func TestRestoreSkipsExistingWithoutForce(t *testing.T) {
	ws := t.TempDir()
	os.WriteFile(filepath.Join(ws, "a.txt"), []byte("v1"), 0o644)

	store, err := blobstore.New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ignore := &IgnoreMatcher{}
	zipPath := filepath.Join(t.TempDir(), "s.zip")
	result, err := SnapshotWorkspace(ws, zipPath, ignore, store, 0)
	if err != nil {
		t.Fatal(err)
	}

	target := t.TempDir()
	os.WriteFile(filepath.Join(target, "a.txt"), []byte("pre-existing"), 0o644)

	res, err := Restore(store, &result.Manifest, target, RestoreOptions{Force: false})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("expected 1 skipped entry, got %d", len(res.Skipped))
	}
	got, _ := os.ReadFile(filepath.Join(target, "a.txt"))
	if string(got) != "pre-existing" {
		t.Fatal("existing file should not have been overwritten without force")
	}
}
