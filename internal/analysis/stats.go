// Package analysis reduces iteration records into per-phase statistics and reports.
package analysis

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean of samples, or 0 for an empty set.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// StdDev returns the sample standard deviation (n-1 denominator).
// It is 0 when there are fewer than two samples.
func StdDev(samples []float64) float64 {
	n := len(samples)
	if n <= 1 {
		return 0
	}
	mean := Mean(samples)
	var sq float64
	for _, s := range samples {
		d := s - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1))
}

// Min returns the smallest sample, or 0 for an empty set.
func Min(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	m := samples[0]
	for _, s := range samples[1:] {
		if s < m {
			m = s
		}
	}
	return m
}

// Max returns the largest sample, or 0 for an empty set.
func Max(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	m := samples[0]
	for _, s := range samples[1:] {
		if s > m {
			m = s
		}
	}
	return m
}

// Median returns the middle sample, averaging the two middle samples for even counts.
// The input is not modified.
func Median(samples []float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
