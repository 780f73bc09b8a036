package model

import "encoding/json"

// Ticker is the latest price snapshot for a symbol.
// Overwritten on every update; stored with a 60s TTL so stale prices drop out.
type Ticker struct {
	Symbol           string  `json:"symbol"`
	Price            float64 `json:"price"`
	Change24h        float64 `json:"change24h"`
	ChangePercent24h float64 `json:"changePercent24h"`
	Volume24h        float64 `json:"volume24h"`
	Low24h           float64 `json:"low24h"`
	High24h          float64 `json:"high24h"`
	Timestamp        int64   `json:"timestamp"` // ms, UTC
}

// JSON returns the JSON-encoded ticker.
func (t *Ticker) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
