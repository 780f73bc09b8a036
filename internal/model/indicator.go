package model

import "encoding/json"

// MACDVParams holds the periods for a MACD-V computation.
type MACDVParams struct {
	Fast   int `json:"fast"`
	Slow   int `json:"slow"`
	ATR    int `json:"atr"`
	Signal int `json:"signal"`
}

// DefaultMACDVParams are the standard MACD-V periods.
func DefaultMACDVParams() MACDVParams {
	return MACDVParams{Fast: 12, Slow: 26, ATR: 26, Signal: 9}
}

// MACDV is one point of the volatility-normalised MACD series:
// macdV = ((fastEMA - slowEMA) / ATR) * 100, signal = EMA(macdV, signalPeriod).
type MACDV struct {
	Timestamp int64   `json:"timestamp"` // candle close bucket (ms, UTC)
	FastEMA   float64 `json:"fastEMA"`
	SlowEMA   float64 `json:"slowEMA"`
	MACDV     float64 `json:"macdV"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
	ATR       float64 `json:"atr"`
}

// IndicatorRecord is the cache payload written per (symbol, timeframe):
// the latest MACD-V point plus a derived stage label and the params used.
type IndicatorRecord struct {
	MACDV
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	Stage     string      `json:"stage"` // derived from macdV value
	Params    MACDVParams `json:"params"`
}

// Stage labels derived from the macdV value, for debug and admin display.
const (
	StageExtremeOversold   = "extreme_oversold"
	StageOversold          = "oversold"
	StageNeutral           = "neutral"
	StageOverbought        = "overbought"
	StageExtremeOverbought = "extreme_overbought"
)

// StageFor maps a macdV value onto its stage label.
func StageFor(macdV float64) string {
	switch {
	case macdV <= -300:
		return StageExtremeOversold
	case macdV <= -150:
		return StageOversold
	case macdV >= 300:
		return StageExtremeOverbought
	case macdV >= 150:
		return StageOverbought
	default:
		return StageNeutral
	}
}

// JSON returns the JSON-encoded indicator record.
func (r *IndicatorRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
