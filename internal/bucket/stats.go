package bucket

import "sort"

// Median returns the median of values, averaging the middle pair for even
// lengths. It does not modify values. Median of an empty slice is 0.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Trailing returns up to window values immediately before index i, never
// including values[i] itself.
func Trailing(values []float64, i, window int) []float64 {
	if window <= 0 || i <= 0 {
		return nil
	}
	start := i - window
	if start < 0 {
		start = 0
	}
	return values[start:i]
}
