package metrics

import "sort"

// Axis selects which field of Point is used as the x-coordinate for a
// query, matching the two endpoints.
type Axis int

const (
	AxisTimestamp Axis = iota
	AxisStep
)

// QueryRequest describes one /api/runs/{id}/metrics(_step) call.
type QueryRequest struct {
	Keys       []string // empty means "all metrics seen in this run"
	Downsample int      // 0 or negative disables downsampling
	Axis       Axis
}

// QueryResult is the shape consumed directly by the HTTP layer: Rows is
// the sorted-by-x union of every series' x-values, Columns names the
// requested metric keys in response order, and Values holds, per row,
// one value per column (nil where a series has no point at that x).
type QueryResult struct {
	Columns     []string
	Rows        []Row
	Total       int // pre-downsample point count across all requested series
	Sampled     int // post-downsample point count
	LastStep    int64
}

// Row is one output row: the shared x-axis value (as timestamp and step,
// whichever the engine could recover) plus one value per requested
// column, aligned to QueryResult.Columns.
type Row struct {
	Timestamp float64
	Step      int64
	Values    []*float64
}

// Query answers one metrics request against a run's already-loaded
// RunMetrics, applying per-series LTTB downsampling independently before
// taking the union of surviving x-values.
func Query(rm *RunMetrics, req QueryRequest) QueryResult {
	keys := req.Keys
	if len(keys) == 0 {
		keys = rm.SortedNames()
	}

	type downsampledSeries struct {
		name   string
		points map[float64]LTTBPoint // x -> point, for quick row assembly
	}

	total := 0
	var allX []float64
	seenX := make(map[float64]bool)
	perSeries := make([]downsampledSeries, 0, len(keys))

	for _, key := range keys {
		s, ok := rm.Series[key]
		if !ok {
			perSeries = append(perSeries, downsampledSeries{name: key, points: map[float64]LTTBPoint{}})
			continue
		}

		pts := make([]LTTBPoint, len(s.Points))
		for i, p := range s.Points {
			x := p.Timestamp
			if req.Axis == AxisStep {
				x = float64(p.Step)
			}
			pts[i] = LTTBPoint{X: x, Y: p.Value, I: i}
		}
		sort.Slice(pts, func(i, j int) bool { return pts[i].X < pts[j].X })
		total += len(pts)

		sampled := pts
		if req.Downsample > 0 {
			sampled = LTTB(pts, req.Downsample)
		}

		m := make(map[float64]LTTBPoint, len(sampled))
		for _, p := range sampled {
			m[p.X] = p
			if !seenX[p.X] {
				seenX[p.X] = true
				allX = append(allX, p.X)
			}
		}
		perSeries = append(perSeries, downsampledSeries{name: key, points: m})
	}

	sort.Float64s(allX)

	rows := make([]Row, len(allX))
	sampledCount := 0
	for i, x := range allX {
		row := Row{Values: make([]*float64, len(keys))}
		if req.Axis == AxisStep {
			row.Step = int64(x)
		} else {
			row.Timestamp = x
		}
		for c, s := range perSeries {
			if p, ok := s.points[x]; ok {
				v := p.Y
				row.Values[c] = &v
				sampledCount++
			}
		}
		rows[i] = row
	}

	return QueryResult{
		Columns:  keys,
		Rows:     rows,
		Total:    total,
		Sampled:  sampledCount,
		LastStep: rm.LastStep,
	}
}
