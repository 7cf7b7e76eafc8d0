package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/runfs"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	c, err := NewCache(1000)
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(c, zap.NewNop())
}

func writeEvents(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEngineLoadParsesMetrics(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeEvents(t, path, strings.Join([]string{
		`{"type":"metric","ts":1.0,"step":1,"name":"loss","value":0.9}`,
		`{"type":"metric","ts":2.0,"step":2,"name":"loss","value":0.5}`,
	}, "\n")+"\n")

	rm, err := e.Load("run1", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rm.Series["loss"].Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(rm.Series["loss"].Points))
	}
}

func TestEngineIncrementalAppend(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeEvents(t, path, `{"type":"metric","ts":1.0,"step":1,"name":"loss","value":0.9}`+"\n")

	rm1, err := e.Load("run1", path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rm1.Series["loss"].Points) != 1 {
		t.Fatalf("expected 1 point initially, got %d", len(rm1.Series["loss"].Points))
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"type":"metric","ts":2.0,"step":2,"name":"loss","value":0.5}` + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	rm2, err := e.Load("run1", path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rm2.Series["loss"].Points) != 2 {
		t.Fatalf("expected 2 points after append, got %d", len(rm2.Series["loss"].Points))
	}
	if e.cache.Stats().IncrementalUpdates != 1 {
		t.Fatalf("expected 1 incremental update, got %d", e.cache.Stats().IncrementalUpdates)
	}
}

func TestEngineTruncationInvalidatesCache(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeEvents(t, path, strings.Join([]string{
		`{"type":"metric","ts":1.0,"step":1,"name":"loss","value":0.9}`,
		`{"type":"metric","ts":2.0,"step":2,"name":"loss","value":0.5}`,
	}, "\n")+"\n")

	if _, err := e.Load("run1", path); err != nil {
		t.Fatal(err)
	}

	writeEvents(t, path, `{"type":"metric","ts":5.0,"step":5,"name":"loss","value":0.1}`+"\n")

	rm, err := e.Load("run1", path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rm.Series["loss"].Points) != 1 {
		t.Fatalf("expected cache invalidation after truncation, got %d points", len(rm.Series["loss"].Points))
	}
}

func TestWriteThroughBestMetric(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.jsonl")
	statusPath := filepath.Join(dir, "status.json")
	writeEvents(t, eventsPath, strings.Join([]string{
		`{"type":"metric","ts":1.0,"step":1,"name":"acc","value":0.7}`,
		`{"type":"metric","ts":2.0,"step":2,"name":"acc","value":0.95}`,
		`{"type":"metric","ts":3.0,"step":3,"name":"acc","value":0.8}`,
	}, "\n")+"\n")
	writeEvents(t, statusPath, `{"status":"running","updated_at":3.0}`)

	rm, err := e.Load("run1", eventsPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteThroughBestMetric(rm, statusPath, "acc", "max"); err != nil {
		t.Fatalf("WriteThroughBestMetric: %v", err)
	}

	status, err := runfs.ReadStatus(statusPath)
	if err != nil {
		t.Fatal(err)
	}
	if status.BestMetric == nil || status.BestMetric.Value != 0.95 || status.BestMetric.Step != 2 {
		t.Fatalf("unexpected best metric: %#v", status.BestMetric)
	}
}
