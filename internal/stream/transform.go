// Package stream is the public streaming boundary: REST reads and a
// WebSocket endpoint that expose internal candles and alerts through
// whitelisting transformers.
package stream

import (
	"strconv"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/alert"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// PublicCandle is the whitelisted external candle schema. Prices and volume
// cross the boundary as decimal strings so no precision is lost; timestamps
// are ISO 8601.
type PublicCandle struct {
	Timestamp string `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

// PublicSignal is the whitelisted external signal schema. Internal trigger
// labels never cross the boundary; only generic direction and strength do.
type PublicSignal struct {
	Symbol     string `json:"symbol"`
	Exchange   string `json:"exchange"`
	Timeframe  string `json:"timeframe"`
	SignalType string `json:"signal_type"`
	Direction  string `json:"direction"`
	Strength   string `json:"strength"`
	Price      string `json:"price"`
	Timestamp  string `json:"timestamp"`
}

// TransformCandle maps an internal candle onto the public schema. Every
// output field is named explicitly; internal fields not referenced here
// (isSynthetic, sequence_num, symbol, timeframe) cannot leak.
func TransformCandle(c model.Candle) PublicCandle {
	return PublicCandle{
		Timestamp: isoTime(c.Timestamp),
		Open:      decimal(c.Open),
		High:      decimal(c.High),
		Low:       decimal(c.Low),
		Close:     decimal(c.Close),
		Volume:    decimal(c.Volume),
	}
}

// TransformAlert maps an internal alert record onto the public signal
// schema. The internal label is translated to direction and strength.
func TransformAlert(rec model.AlertRecord, exchangeName string) PublicSignal {
	return PublicSignal{
		Symbol:     rec.Symbol,
		Exchange:   exchangeName,
		Timeframe:  rec.Timeframe,
		SignalType: alert.SignalType(rec.TriggerLabel),
		Direction:  alert.Direction(rec.TriggerLabel),
		Strength:   alert.Strength(rec.TriggerLabel),
		Price:      decimal(rec.Price),
		Timestamp:  isoTime(rec.TriggeredAtMs),
	}
}

func decimal(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isoTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
