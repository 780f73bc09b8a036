package cache

import "testing"

func TestKeyGrammar(t *testing.T) {
	if got, want := CandleKey(1, "BTC-USD", "5m"), "candles:1:BTC-USD:5m"; got != want {
		t.Errorf("CandleKey = %s, want %s", got, want)
	}
	if got, want := UserCandleKey("u42", 1, "BTC-USD", "5m"), "usercandles:u42:1:BTC-USD:5m"; got != want {
		t.Errorf("UserCandleKey = %s, want %s", got, want)
	}
	if got, want := TickerKey(2, "ETH-USD"), "ticker:2:ETH-USD"; got != want {
		t.Errorf("TickerKey = %s, want %s", got, want)
	}
	if got, want := IndicatorKey(1, "BTC-USD", "15m", "macd-v", nil), "indicator:1:BTC-USD:15m:macd-v"; got != want {
		t.Errorf("IndicatorKey = %s, want %s", got, want)
	}
}

func TestKeyPatterns(t *testing.T) {
	if got, want := CandleKeyPattern(1, "*", "*"), "candles:1:*:*"; got != want {
		t.Errorf("CandleKeyPattern = %s, want %s", got, want)
	}
	// A fully qualified pattern matches exactly the concrete key.
	if got, want := CandleKeyPattern(1, "BTC-USD", "5m"), CandleKey(1, "BTC-USD", "5m"); got != want {
		t.Errorf("CandleKeyPattern = %s, want %s", got, want)
	}
	if got, want := IndicatorKeyPattern(1, "BTC-USD", "*"), "indicator:1:BTC-USD:*:*"; got != want {
		t.Errorf("IndicatorKeyPattern = %s, want %s", got, want)
	}
}

func TestIndicatorKey_SortedParams(t *testing.T) {
	params := map[string]int{"slow": 26, "fast": 12, "signal": 9}
	got := IndicatorKey(1, "BTC-USD", "1h", "macd-v", params)
	want := "indicator:1:BTC-USD:1h:macd-v:fast=12,signal=9,slow=26"
	if got != want {
		t.Errorf("IndicatorKey = %s, want %s", got, want)
	}
}

func TestChannelGrammar(t *testing.T) {
	if got, want := CandleCloseChannel(1, "BTC-USD", "5m"), "channel:exchange:1:candle:close:BTC-USD:5m"; got != want {
		t.Errorf("CandleCloseChannel = %s, want %s", got, want)
	}
	if got, want := CandleClosePattern(1), "channel:exchange:1:candle:close:*:*"; got != want {
		t.Errorf("CandleClosePattern = %s, want %s", got, want)
	}
	if got, want := AlertChannel(3), "channel:alerts:exchange:3"; got != want {
		t.Errorf("AlertChannel = %s, want %s", got, want)
	}
	if got, want := CommandChannel("user_abc"), "livermore:commands:user_abc"; got != want {
		t.Errorf("CommandChannel = %s, want %s", got, want)
	}
	if got, want := ResponseChannel("user_abc"), "livermore:responses:user_abc"; got != want {
		t.Errorf("ResponseChannel = %s, want %s", got, want)
	}
}

func TestParseCandleCloseChannel(t *testing.T) {
	symbol, tf, ok := ParseCandleCloseChannel("channel:exchange:1:candle:close:BTC-USD:5m")
	if !ok || symbol != "BTC-USD" || tf != "5m" {
		t.Errorf("parse = (%s, %s, %v), want (BTC-USD, 5m, true)", symbol, tf, ok)
	}

	for _, bad := range []string{
		"channel:exchange:1:ticker:BTC-USD",
		"channel:alerts:exchange:1",
		"livermore:commands:u1",
		"",
	} {
		if _, _, ok := ParseCandleCloseChannel(bad); ok {
			t.Errorf("parse(%q): expected ok=false", bad)
		}
	}
}

func TestParseIndicatorChannel(t *testing.T) {
	symbol, tf, ok := ParseIndicatorChannel("channel:exchange:2:indicator:macd-v:ETH-USD:1h")
	if !ok || symbol != "ETH-USD" || tf != "1h" {
		t.Errorf("parse = (%s, %s, %v), want (ETH-USD, 1h, true)", symbol, tf, ok)
	}
	if _, _, ok := ParseIndicatorChannel("channel:exchange:2:candle:close:ETH-USD:1h"); ok {
		t.Error("candle channel must not parse as indicator channel")
	}
}
