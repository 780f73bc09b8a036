// Package indicator provides the MACD-V numeric core: moving-average,
// true-range and ATR series plus the volatility-normalised MACD itself.
//
// All functions are pure: they take a series and return a series of the same
// length, with NaN in positions where not enough data has accumulated.
// Downstream code tests math.IsNaN and does not emit those positions.
package indicator

import "math"

// SMA returns the simple moving average series. Positions before index n-1
// are NaN. Leading NaNs in the input defer the window start.
func SMA(xs []float64, n int) []float64 {
	out := nanSlice(len(xs))
	if n <= 0 || len(xs) < n {
		return out
	}

	start := firstValid(xs)
	if start < 0 || len(xs)-start < n {
		return out
	}

	sum := 0.0
	for i := start; i < len(xs); i++ {
		sum += xs[i]
		if i-start >= n {
			sum -= xs[i-n]
		}
		if i-start >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// EMA returns the exponential moving average series, seeded by the SMA of
// the first full window, then EMA_t = alpha*x_t + (1-alpha)*EMA_{t-1} with
// alpha = 2/(n+1). Leading NaNs in the input defer the seed window.
func EMA(xs []float64, n int) []float64 {
	out := nanSlice(len(xs))
	if n <= 0 {
		return out
	}

	start := firstValid(xs)
	if start < 0 || len(xs)-start < n {
		return out
	}

	alpha := 2.0 / float64(n+1)
	sum := 0.0
	for i := start; i < start+n; i++ {
		sum += xs[i]
	}
	prev := sum / float64(n)
	out[start+n-1] = prev
	for i := start + n; i < len(xs); i++ {
		prev = alpha*xs[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RMA returns Wilder's smoothed moving average series, seeded by the SMA of
// the first full window, then RMA_t = (RMA_{t-1}*(n-1) + x_t) / n.
func RMA(xs []float64, n int) []float64 {
	out := nanSlice(len(xs))
	if n <= 0 {
		return out
	}

	start := firstValid(xs)
	if start < 0 || len(xs)-start < n {
		return out
	}

	sum := 0.0
	for i := start; i < start+n; i++ {
		sum += xs[i]
	}
	prev := sum / float64(n)
	out[start+n-1] = prev
	p := float64(n)
	for i := start + n; i < len(xs); i++ {
		prev = (prev*(p-1) + xs[i]) / p
		out[i] = prev
	}
	return out
}

// nanSlice returns a slice of length n filled with NaN.
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// firstValid returns the index of the first non-NaN value, or -1.
func firstValid(xs []float64) int {
	for i, x := range xs {
		if !math.IsNaN(x) {
			return i
		}
	}
	return -1
}
