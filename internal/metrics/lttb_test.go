package metrics

import "testing"

func TestLTTBPreservesFirstAndLast(t *testing.T) {
	n := 10000
	pts := make([]LTTBPoint, n)
	for i := 0; i < n; i++ {
		pts[i] = LTTBPoint{X: float64(i), Y: float64(i % 7), I: i}
	}

	out := LTTB(pts, 1000)
	if len(out) != 1000 {
		t.Fatalf("len(out) = %d, want 1000", len(out))
	}
	if out[0].X != pts[0].X {
		t.Fatalf("first point not preserved: got %v want %v", out[0].X, pts[0].X)
	}
	if out[len(out)-1].X != pts[n-1].X {
		t.Fatalf("last point not preserved: got %v want %v", out[len(out)-1].X, pts[n-1].X)
	}
}

func TestLTTBNoOpWhenUnderThreshold(t *testing.T) {
	pts := []LTTBPoint{{X: 0, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 3}}
	out := LTTB(pts, 1000)
	if len(out) != 3 {
		t.Fatalf("expected no-op passthrough, got %d points", len(out))
	}
}

func TestLTTBDeterministic(t *testing.T) {
	pts := make([]LTTBPoint, 500)
	for i := range pts {
		pts[i] = LTTBPoint{X: float64(i), Y: float64((i * 37) % 101)}
	}
	a := LTTB(pts, 50)
	b := LTTB(pts, 50)
	if len(a) != len(b) {
		t.Fatalf("nondeterministic length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].X != b[i].X || a[i].Y != b[i].Y {
			t.Fatalf("nondeterministic output at index %d", i)
		}
	}
}

func TestLTTBThresholdOfTwo(t *testing.T) {
	pts := make([]LTTBPoint, 100)
	for i := range pts {
		pts[i] = LTTBPoint{X: float64(i), Y: float64(i)}
	}
	out := LTTB(pts, 2)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].X != 0 || out[1].X != 99 {
		t.Fatalf("unexpected endpoints: %v, %v", out[0], out[1])
	}
}
