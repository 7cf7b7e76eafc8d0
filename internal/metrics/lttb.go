package metrics

// LTTBPoint is the minimal (x, y) pair the downsampler operates on. x is
// whichever axis the caller requested (timestamp or step), already
// converted to float64.
type LTTBPoint struct {
	X float64
	Y float64
	I int // original index into the input slice, preserved for the caller
}

// LTTB applies Largest-Triangle-Three-Buckets downsampling to pts,
// returning at most threshold points. The first and last input points are
// always preserved; the algorithm is deterministic
// given the same input and threshold. pts must already be sorted by X.
func LTTB(pts []LTTBPoint, threshold int) []LTTBPoint {
	n := len(pts)
	if threshold <= 0 || n <= threshold || n <= 2 {
		return pts
	}
	if threshold == 1 {
		return []LTTBPoint{pts[0]}
	}
	if threshold == 2 {
		return []LTTBPoint{pts[0], pts[n-1]}
	}

	out := make([]LTTBPoint, 0, threshold)
	out = append(out, pts[0])

	// Bucket size excludes the fixed first and last points.
	bucketSize := float64(n-2) / float64(threshold-2)

	a := 0 // index of the previously selected point
	for i := 0; i < threshold-2; i++ {
		bucketStart := int(float64(i)*bucketSize) + 1
		bucketEnd := int(float64(i+1)*bucketSize) + 1
		if bucketEnd > n-1 {
			bucketEnd = n - 1
		}
		if bucketStart >= bucketEnd {
			bucketEnd = bucketStart + 1
		}

		// Average point of the NEXT bucket, used as one triangle vertex.
		nextStart := int(float64(i+1)*bucketSize) + 1
		nextEnd := int(float64(i+2)*bucketSize) + 1
		if nextEnd > n {
			nextEnd = n
		}
		if nextStart >= nextEnd {
			nextStart = n - 1
			nextEnd = n
		}
		var avgX, avgY float64
		count := 0
		for j := nextStart; j < nextEnd; j++ {
			avgX += pts[j].X
			avgY += pts[j].Y
			count++
		}
		if count > 0 {
			avgX /= float64(count)
			avgY /= float64(count)
		} else {
			avgX, avgY = pts[n-1].X, pts[n-1].Y
		}

		pointA := pts[a]
		maxArea := -1.0
		maxAreaIdx := bucketStart
		for j := bucketStart; j < bucketEnd; j++ {
			area := triangleArea(pointA, pts[j], LTTBPoint{X: avgX, Y: avgY})
			if area > maxArea {
				maxArea = area
				maxAreaIdx = j
			}
		}

		out = append(out, pts[maxAreaIdx])
		a = maxAreaIdx
	}

	out = append(out, pts[n-1])
	return out
}

func triangleArea(p1, p2, p3 LTTBPoint) float64 {
	area := (p1.X-p3.X)*(p2.Y-p3.Y) - (p1.X-p2.X)*(p3.Y-p2.Y)
	if area < 0 {
		return -area
	}
	return area
}
