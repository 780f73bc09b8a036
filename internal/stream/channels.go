package stream

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/timeframe"
)

// External channel kinds.
const (
	KindCandles = "candles"
	KindSignals = "signals"
)

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9]+-[A-Za-z0-9]+$`)

// Channel is a parsed external channel name like "candles:BTC-USD:1h".
// Symbol and TF may each be the wildcard "*".
type Channel struct {
	Kind   string
	Symbol string
	TF     string
}

func (c Channel) String() string {
	return c.Kind + ":" + c.Symbol + ":" + c.TF
}

// ParseChannel validates an external channel name. The timeframe must be on
// the allow-list and the symbol must match the public symbol pattern, unless
// wildcarded.
func ParseChannel(name string) (Channel, error) {
	parts := strings.Split(name, ":")
	if len(parts) != 3 {
		return Channel{}, fmt.Errorf("channel must be kind:symbol:timeframe")
	}
	kind, symbol, tf := parts[0], parts[1], parts[2]

	if kind != KindCandles && kind != KindSignals {
		return Channel{}, fmt.Errorf("unknown channel kind %q", kind)
	}
	if symbol != "*" && !symbolPattern.MatchString(symbol) {
		return Channel{}, fmt.Errorf("invalid symbol %q", symbol)
	}
	if tf != "*" && !timeframe.IsSupported(tf) {
		return Channel{}, fmt.Errorf("invalid timeframe %q", tf)
	}
	return Channel{Kind: kind, Symbol: symbol, TF: tf}, nil
}

// Matches reports whether an inbound event fits this subscription.
// Wildcards match part-wise.
func (c Channel) Matches(kind, symbol, tf string) bool {
	if c.Kind != kind {
		return false
	}
	if c.Symbol != "*" && c.Symbol != symbol {
		return false
	}
	if c.TF != "*" && c.TF != tf {
		return false
	}
	return true
}
