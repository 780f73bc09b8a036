package indicator

import (
	"math"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// ReadyBars is the minimum series length before any MACD-V value is emitted
// for alerting and display, regardless of the mathematical minimum.
const ReadyBars = 60

// MinBars returns the mathematical minimum bars for the first valid macdV:
// max(slow, atrPeriod) + signalPeriod.
func MinBars(p model.MACDVParams) int {
	m := p.Slow
	if p.ATR > m {
		m = p.ATR
	}
	return m + p.Signal
}

// MACDV computes the volatility-normalised MACD series over candles:
//
//	macdV     = ((fastEMA - slowEMA) / ATR(atrPeriod)) * 100
//	signal    = EMA(macdV, signalPeriod)
//	histogram = macdV - signal
//
// The returned slice is aligned with the input; warm-up positions hold NaN.
func MACDV(candles []model.Candle, p model.MACDVParams) []model.MACDV {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast := EMA(closes, p.Fast)
	slow := EMA(closes, p.Slow)
	atr := ATR(candles, p.ATR)

	macdv := nanSlice(len(candles))
	for i := range candles {
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) || math.IsNaN(atr[i]) || atr[i] == 0 {
			continue
		}
		macdv[i] = (fast[i] - slow[i]) / atr[i] * 100
	}

	signal := EMA(macdv, p.Signal)

	out := make([]model.MACDV, len(candles))
	for i, c := range candles {
		hist := math.NaN()
		if !math.IsNaN(macdv[i]) && !math.IsNaN(signal[i]) {
			hist = macdv[i] - signal[i]
		}
		out[i] = model.MACDV{
			Timestamp: c.Timestamp,
			FastEMA:   fast[i],
			SlowEMA:   slow[i],
			MACDV:     macdv[i],
			Signal:    signal[i],
			Histogram: hist,
			ATR:       atr[i],
		}
	}
	return out
}

// Latest returns the final point of the series, or false when the series is
// empty or the final point has not warmed up to a valid tuple yet.
func Latest(series []model.MACDV) (model.MACDV, bool) {
	if len(series) == 0 {
		return model.MACDV{}, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v.MACDV) || math.IsNaN(v.Signal) || math.IsNaN(v.Histogram) {
		return model.MACDV{}, false
	}
	return v, true
}
