package model

import (
	"encoding/json"
	"time"
)

// Alert trigger labels. level_<N> labels are generated from the level value.
const (
	LabelReversalOversold   = "reversal_oversold"
	LabelReversalOverbought = "reversal_overbought"
)

// AlertDetails carries the context captured at trigger time.
type AlertDetails struct {
	Direction          string             `json:"direction"` // "bullish" | "bearish"
	Histogram          float64            `json:"histogram"`
	Signal             float64            `json:"signal"`
	TimeframesSnapshot map[string]float64 `json:"timeframesSnapshot,omitempty"` // tf -> macdV
}

// AlertRecord is an immutable record of a triggered alert.
type AlertRecord struct {
	ID                string       `json:"id"`
	ExchangeID        int          `json:"exchangeId"`
	Symbol            string       `json:"symbol"`
	Timeframe         string       `json:"timeframe"`
	AlertType         string       `json:"alertType"` // "macdv"
	TriggeredAtMs     int64        `json:"triggeredAtMs"`
	TriggeredAt       time.Time    `json:"triggeredAt"`
	Price             float64      `json:"price"`
	TriggerValue      float64      `json:"triggerValue"` // macdV at trigger
	TriggerLabel      string       `json:"triggerLabel"` // "level_<N>" | "reversal_*"
	PreviousLabel     string       `json:"previousLabel,omitempty"`
	Details           AlertDetails `json:"details"`
	NotificationSent  bool         `json:"notificationSent"`
	NotificationError string       `json:"notificationError,omitempty"`
}

// JSON returns the JSON-encoded alert record.
func (a *AlertRecord) JSON() []byte {
	b, _ := json.Marshal(a)
	return b
}
