package profiler

import "sort"

// interval is a half-open time range [Start, End) in µs.
type interval struct {
	Start float64
	End   float64
}

func (iv interval) length() float64 {
	return iv.End - iv.Start
}

// mergeIntervals sorts and coalesces overlapping or touching ranges.
// Empty ranges are dropped. The input slice is not modified.
func mergeIntervals(in []interval) []interval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]interval, 0, len(in))
	for _, iv := range in {
		if iv.End > iv.Start {
			sorted = append(sorted, iv)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	var out []interval
	for _, iv := range sorted {
		if n := len(out); n > 0 && iv.Start <= out[n-1].End {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// totalLength sums the lengths of merged ranges.
func totalLength(merged []interval) float64 {
	var sum float64
	for _, iv := range merged {
		sum += iv.length()
	}
	return sum
}

// intersectIntervals returns the overlap of two merged range lists.
func intersectIntervals(a, b []interval) []interval {
	var out []interval
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := max(a[i].Start, b[j].Start)
		end := min(a[i].End, b[j].End)
		if end > start {
			out = append(out, interval{start, end})
		}
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}
	return out
}

// subtractIntervals returns the parts of merged list a not covered by merged list b.
func subtractIntervals(a, b []interval) []interval {
	var out []interval
	j := 0
	for _, iv := range a {
		start := iv.Start
		for j < len(b) && b[j].End <= start {
			j++
		}
		k := j
		for k < len(b) && b[k].Start < iv.End {
			if b[k].Start > start {
				out = append(out, interval{start, b[k].Start})
			}
			if b[k].End > start {
				start = b[k].End
			}
			k++
		}
		if start < iv.End {
			out = append(out, interval{start, iv.End})
		}
	}
	return out
}

// clipIntervals restricts merged ranges to [start, end).
func clipIntervals(merged []interval, start, end float64) []interval {
	return intersectIntervals(merged, []interval{{start, end}})
}
