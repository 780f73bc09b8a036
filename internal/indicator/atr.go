package indicator

import (
	"math"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// TrueRange is max(h-l, |h-prevClose|, |l-prevClose|).
// The first bar, which has no previous close, uses h-l (pass NaN).
func TrueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if math.IsNaN(prevClose) {
		return tr
	}
	if d := math.Abs(high - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(low - prevClose); d > tr {
		tr = d
	}
	return tr
}

// TrueRanges returns the true-range series for a candle slice.
func TrueRanges(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	prevClose := math.NaN()
	for i, c := range candles {
		out[i] = TrueRange(c.High, c.Low, prevClose)
		prevClose = c.Close
	}
	return out
}

// ATR returns the Wilder-smoothed average true range series.
func ATR(candles []model.Candle, n int) []float64 {
	return RMA(TrueRanges(candles), n)
}
