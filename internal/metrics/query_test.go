package metrics

import "testing"

func TestQueryUnionsXAxisAcrossSeries(t *testing.T) {
	rm := &RunMetrics{
		RunID: "run1",
		Series: map[string]*Series{
			"loss": {Name: "loss", Points: []Point{
				{Timestamp: 1, Step: 1, Value: 0.9},
				{Timestamp: 2, Step: 2, Value: 0.5},
			}},
			"acc": {Name: "acc", Points: []Point{
				{Timestamp: 1, Step: 1, Value: 0.1},
			}},
		},
	}

	res := Query(rm, QueryRequest{Keys: []string{"loss", "acc"}, Axis: AxisTimestamp})
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows (union of x-values), got %d", len(res.Rows))
	}
	if res.Rows[1].Values[1] != nil {
		t.Fatalf("expected nil for acc at timestamp=2, got %v", *res.Rows[1].Values[1])
	}
	if res.Total != 3 {
		t.Fatalf("Total = %d, want 3", res.Total)
	}
}

func TestQueryDownsamplePreservesEndpoints(t *testing.T) {
	pts := make([]Point, 1000)
	for i := range pts {
		pts[i] = Point{Timestamp: float64(i), Step: int64(i), Value: float64(i % 13)}
	}
	rm := &RunMetrics{Series: map[string]*Series{"m": {Name: "m", Points: pts}}}

	res := Query(rm, QueryRequest{Keys: []string{"m"}, Downsample: 100, Axis: AxisTimestamp})
	if len(res.Rows) != 100 {
		t.Fatalf("len(res.Rows) = %d, want 100", len(res.Rows))
	}
	if res.Rows[0].Timestamp != 0 {
		t.Fatalf("first timestamp = %v, want 0", res.Rows[0].Timestamp)
	}
	if res.Rows[len(res.Rows)-1].Timestamp != 999 {
		t.Fatalf("last timestamp = %v, want 999", res.Rows[len(res.Rows)-1].Timestamp)
	}
}

func TestQueryDefaultsToAllMetrics(t *testing.T) {
	rm := &RunMetrics{Series: map[string]*Series{
		"b": {Name: "b", Points: []Point{{Timestamp: 1, Value: 1}}},
		"a": {Name: "a", Points: []Point{{Timestamp: 1, Value: 2}}},
	}}
	res := Query(rm, QueryRequest{})
	if len(res.Columns) != 2 || res.Columns[0] != "a" || res.Columns[1] != "b" {
		t.Fatalf("expected sorted default columns [a b], got %v", res.Columns)
	}
}
