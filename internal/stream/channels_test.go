package stream

import "testing"

func TestParseChannel(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"candles:BTC-USD:5m", true},
		{"signals:ETH-USD:1h", true},
		{"candles:*:1d", true},
		{"signals:BTC-USD:*", true},
		{"candles:*:*", true},
		{"ticks:BTC-USD:5m", false},  // unknown kind
		{"candles:BTCUSD:5m", false}, // symbol missing separator
		{"candles:BTC-USD:7m", false},
		{"candles:BTC-USD", false},
		{"candles:BTC-USD:5m:extra", false},
		{"", false},
	}
	for _, tc := range cases {
		_, err := ParseChannel(tc.name)
		if tc.ok && err != nil {
			t.Errorf("ParseChannel(%q) = %v, want ok", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseChannel(%q) accepted, want error", tc.name)
		}
	}
}

func TestChannelMatches(t *testing.T) {
	cases := []struct {
		sub     string
		kind    string
		symbol  string
		tf      string
		matches bool
	}{
		{"candles:BTC-USD:5m", KindCandles, "BTC-USD", "5m", true},
		{"candles:BTC-USD:5m", KindCandles, "BTC-USD", "1h", false},
		{"candles:BTC-USD:5m", KindCandles, "ETH-USD", "5m", false},
		{"candles:BTC-USD:5m", KindSignals, "BTC-USD", "5m", false},
		{"candles:*:5m", KindCandles, "ETH-USD", "5m", true},
		{"candles:BTC-USD:*", KindCandles, "BTC-USD", "1d", true},
		{"signals:*:*", KindSignals, "SOL-USD", "4h", true},
		{"signals:*:*", KindCandles, "SOL-USD", "4h", false},
	}
	for _, tc := range cases {
		ch, err := ParseChannel(tc.sub)
		if err != nil {
			t.Fatalf("ParseChannel(%q): %v", tc.sub, err)
		}
		if got := ch.Matches(tc.kind, tc.symbol, tc.tf); got != tc.matches {
			t.Errorf("%q.Matches(%s, %s, %s) = %v, want %v",
				tc.sub, tc.kind, tc.symbol, tc.tf, got, tc.matches)
		}
	}
}

func TestChannelString_RoundTrip(t *testing.T) {
	for _, name := range []string{"candles:BTC-USD:5m", "signals:*:1h", "candles:*:*"} {
		ch, err := ParseChannel(name)
		if err != nil {
			t.Fatalf("ParseChannel(%q): %v", name, err)
		}
		if ch.String() != name {
			t.Errorf("round trip %q -> %q", name, ch.String())
		}
	}
}
