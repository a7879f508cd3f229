package domain

import "math"

// DefaultHistogramBins matches the dashboard's day-distribution chart.
const DefaultHistogramBins = 30

// Bin is one equal-width histogram bucket, [Lower, Upper). The last bin also
// includes its upper edge.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram buckets values into n equal-width bins spanning min..max. When all
// values are equal a single bin is returned. Empty input returns nil.
func Histogram(values []float64, n int) []Bin {
	if len(values) == 0 {
		return nil
	}
	if n <= 0 {
		n = DefaultHistogramBins
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return []Bin{{Lower: lo, Upper: hi, Count: len(values)}}
	}

	width := (hi - lo) / float64(n)
	bins := make([]Bin, n)
	for i := range bins {
		bins[i].Lower = lo + float64(i)*width
		bins[i].Upper = lo + float64(i+1)*width
	}
	bins[n-1].Upper = hi
	for _, v := range values {
		i := int((v - lo) / width)
		if i >= n {
			i = n - 1
		}
		bins[i].Count++
	}
	return bins
}
