package model

import (
	"encoding/json"
	"time"
)

// Candle represents an OHLCV candle for a single symbol and timeframe.
// Timestamp is Unix milliseconds aligned to the start of the timeframe bucket.
type Candle struct {
	Timestamp   int64   `json:"timestamp"` // bucket start (ms, UTC)
	Symbol      string  `json:"symbol"`    // e.g. "BTC-USD"
	Timeframe   string  `json:"timeframe"` // e.g. "5m"
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	IsSynthetic bool    `json:"isSynthetic"`            // true when produced by the gap filler
	SequenceNum int64   `json:"sequence_num,omitempty"` // exchange sequence, when supplied
}

// Key returns the series identity within an exchange: "symbol:timeframe".
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Timeframe
}

// Time returns the bucket start as a time.Time.
func (c *Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// SyntheticFrom builds a gap-fill candle at ts carrying prior's close.
// open=high=low=close=prior close, volume=0.
func SyntheticFrom(prior Candle, ts int64) Candle {
	return Candle{
		Timestamp:   ts,
		Symbol:      prior.Symbol,
		Timeframe:   prior.Timeframe,
		Open:        prior.Close,
		High:        prior.Close,
		Low:         prior.Close,
		Close:       prior.Close,
		Volume:      0,
		IsSynthetic: true,
	}
}
