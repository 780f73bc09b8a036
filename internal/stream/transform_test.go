package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// Internal field names that must never appear in a serialized public payload.
var internalFields = []string{
	"macdV", "fastEMA", "slowEMA", "atr",
	"isSynthetic", "sequence_num",
	"triggerLabel", "triggerValue", "exchangeId",
}

func TestTransformCandle_NoInternalFieldsLeak(t *testing.T) {
	c := model.Candle{
		Timestamp:   1704067200000,
		Symbol:      "BTC-USD",
		Timeframe:   "5m",
		Open:        42000.5,
		High:        42100,
		Low:         41900.25,
		Close:       42050,
		Volume:      12.75,
		IsSynthetic: true,
		SequenceNum: 991,
	}
	raw, err := json.Marshal(TransformCandle(c))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range internalFields {
		if strings.Contains(string(raw), field) {
			t.Errorf("public candle leaks internal field %q: %s", field, raw)
		}
	}
}

func TestTransformCandle_DecimalStringsAndISOTime(t *testing.T) {
	c := model.Candle{
		Timestamp: 1704067200000,
		Open:      42000.5, High: 42100, Low: 41900.25, Close: 42050, Volume: 0.001,
	}
	pc := TransformCandle(c)

	if pc.Timestamp != "2024-01-01T00:00:00Z" {
		t.Errorf("timestamp = %q, want 2024-01-01T00:00:00Z", pc.Timestamp)
	}
	if pc.Open != "42000.5" {
		t.Errorf("open = %q, want 42000.5", pc.Open)
	}
	if pc.High != "42100" {
		t.Errorf("high = %q, want 42100 with no trailing zeros", pc.High)
	}
	if pc.Volume != "0.001" {
		t.Errorf("volume = %q, want 0.001", pc.Volume)
	}
}

func TestTransformAlert_NoInternalFieldsLeak(t *testing.T) {
	rec := model.AlertRecord{
		ID:            "a1",
		ExchangeID:    1,
		Symbol:        "ETH-USD",
		Timeframe:     "1h",
		AlertType:     "macdv",
		TriggeredAtMs: 1704067200000,
		Price:         2201.5,
		TriggerValue:  -162.4,
		TriggerLabel:  "level_-150",
		Details:       model.AlertDetails{Direction: "bearish", Histogram: -4.1, Signal: -158.3},
	}
	raw, err := json.Marshal(TransformAlert(rec, "coinbase"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range internalFields {
		if strings.Contains(string(raw), field) {
			t.Errorf("public signal leaks internal field %q: %s", field, raw)
		}
	}
}

func TestTransformAlert_LabelMapping(t *testing.T) {
	cases := []struct {
		label      string
		signalType string
		direction  string
		strength   string
	}{
		{"level_-150", "momentum_signal", "bearish", "strong"},
		{"level_-300", "momentum_signal", "bearish", "extreme"},
		{"level_200", "momentum_signal", "bullish", "strong"},
		{"reversal_oversold", "trend_signal", "bullish", "moderate"},
		{"reversal_overbought", "trend_signal", "bearish", "moderate"},
	}
	for _, tc := range cases {
		sig := TransformAlert(model.AlertRecord{
			Symbol: "BTC-USD", Timeframe: "5m",
			TriggeredAtMs: 1704067200000, Price: 42000,
			TriggerLabel: tc.label,
		}, "coinbase")
		if sig.SignalType != tc.signalType {
			t.Errorf("%s: signal_type = %q, want %q", tc.label, sig.SignalType, tc.signalType)
		}
		if sig.Direction != tc.direction {
			t.Errorf("%s: direction = %q, want %q", tc.label, sig.Direction, tc.direction)
		}
		if sig.Strength != tc.strength {
			t.Errorf("%s: strength = %q, want %q", tc.label, sig.Strength, tc.strength)
		}
	}
}
