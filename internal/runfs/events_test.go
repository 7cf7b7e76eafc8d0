package runfs

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestScanEventsDispatchesKnownTypes(t *testing.T) {
	data := strings.Join([]string{
		`{"type":"metric","ts":1.0,"step":1,"name":"loss","value":0.5}`,
		`{"type":"log","ts":1.1,"text":"starting"}`,
		`{"type":"summary","ts":1.2,"update":{"best_loss":0.5}}`,
		`{"type":"status","ts":1.3,"status":"running"}`,
		`{"type":"primary_metric","name":"loss","mode":"min"}`,
		`{"type":"image","ts":1.4,"step":1,"key":"sample","path":"media/a.png"}`,
	}, "\n") + "\n"

	var metrics, logs, summaries, statuses, primaries, images int
	res, err := ScanEvents(strings.NewReader(data), 0, EventVisitor{
		Metric:        func(i int64, e MetricEvent) { metrics++ },
		Log:           func(i int64, e LogEvent) { logs++ },
		Summary:       func(i int64, e SummaryEvent) { summaries++ },
		Status:        func(i int64, e StatusEvent) { statuses++ },
		PrimaryMetric: func(i int64, e PrimaryMetricEvent) { primaries++ },
		Image:         func(i int64, e ImageEvent) { images++ },
	})
	if err != nil {
		t.Fatalf("ScanEvents: %v", err)
	}
	if res.LinesSeen != 6 {
		t.Fatalf("LinesSeen = %d, want 6", res.LinesSeen)
	}
	if res.ParseErrors != 0 {
		t.Fatalf("ParseErrors = %d, want 0", res.ParseErrors)
	}
	if metrics != 1 || logs != 1 || summaries != 1 || statuses != 1 || primaries != 1 || images != 1 {
		t.Fatalf("unexpected dispatch counts: metrics=%d logs=%d summaries=%d statuses=%d primaries=%d images=%d",
			metrics, logs, summaries, statuses, primaries, images)
	}
}

func TestScanEventsUnknownTypePassthrough(t *testing.T) {
	data := `{"type":"future_thing","foo":"bar"}` + "\n"

	var gotType string
	var gotRaw json.RawMessage
	_, err := ScanEvents(strings.NewReader(data), 0, EventVisitor{
		Unknown: func(i int64, eventType string, raw json.RawMessage) {
			gotType = eventType
			gotRaw = raw
		},
	})
	if err != nil {
		t.Fatalf("ScanEvents: %v", err)
	}
	if gotType != "future_thing" {
		t.Fatalf("gotType = %q", gotType)
	}
	var roundTrip map[string]any
	if err := json.Unmarshal(gotRaw, &roundTrip); err != nil {
		t.Fatalf("raw passthrough did not round-trip: %v", err)
	}
	if roundTrip["foo"] != "bar" {
		t.Fatalf("unexpected roundTrip: %#v", roundTrip)
	}
}

func TestScanEventsDropsPartialTrailingLine(t *testing.T) {
	data := `{"type":"log","ts":1.0,"text":"ok"}` + "\n" + `{"type":"log","ts":2.0,"tex`

	var seen int
	res, err := ScanEvents(strings.NewReader(data), 0, EventVisitor{
		Log: func(i int64, e LogEvent) { seen++ },
	})
	if err != nil {
		t.Fatalf("ScanEvents: %v", err)
	}
	if seen != 1 {
		t.Fatalf("seen = %d, want 1 (partial trailing line must not dispatch)", seen)
	}
	if res.LinesSeen != 1 {
		t.Fatalf("LinesSeen = %d, want 1", res.LinesSeen)
	}
}

func TestScanEventsCountsParseErrors(t *testing.T) {
	data := `not json at all` + "\n" + `{"type":"log","ts":1.0,"text":"fine"}` + "\n"

	res, err := ScanEvents(strings.NewReader(data), 0, EventVisitor{})
	if err != nil {
		t.Fatalf("ScanEvents: %v", err)
	}
	if res.ParseErrors != 1 {
		t.Fatalf("ParseErrors = %d, want 1", res.ParseErrors)
	}
	if res.LinesSeen != 2 {
		t.Fatalf("LinesSeen = %d, want 2", res.LinesSeen)
	}
}

func TestFoldSummaryMergesInOrder(t *testing.T) {
	path := t.TempDir() + "/events.jsonl"
	content := strings.Join([]string{
		`{"type":"summary","ts":1.0,"update":{"a":1,"b":1}}`,
		`{"type":"summary","ts":2.0,"update":{"b":2,"c":3}}`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FoldSummary(path)
	if err != nil {
		t.Fatalf("FoldSummary: %v", err)
	}
	if got["a"] != float64(1) || got["b"] != float64(2) || got["c"] != float64(3) {
		t.Fatalf("unexpected fold result: %#v", got)
	}
}

func TestFoldSummaryMissingFileIsEmpty(t *testing.T) {
	got, err := FoldSummary("/nonexistent/path/events.jsonl")
	if err != nil {
		t.Fatalf("FoldSummary: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %#v", got)
	}
}
