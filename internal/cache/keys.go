// Package cache owns Redis key and channel naming and provides typed
// facades over the underlying store: a sorted-set candle store, a
// string-with-TTL ticker store and a string indicator store.
//
// No other package constructs key strings.
package cache

import (
	"fmt"
	"sort"
	"strings"
)

// ── Key builders ──

// CandleKey is the tier-1 (shared) candle sorted set for an exchange series.
func CandleKey(exchangeID int, symbol, tf string) string {
	return fmt.Sprintf("candles:%d:%s:%s", exchangeID, symbol, tf)
}

// UserCandleKey is the tier-2 (user overflow) candle sorted set. TTL applies.
func UserCandleKey(userID string, exchangeID int, symbol, tf string) string {
	return fmt.Sprintf("usercandles:%s:%d:%s:%s", userID, exchangeID, symbol, tf)
}

// LegacyUserCandleKey is the pre-tiering user-scoped key. Readable until
// retired; never written by new code.
func LegacyUserCandleKey(userID, symbol, tf string) string {
	return fmt.Sprintf("candles:user:%s:%s:%s", userID, symbol, tf)
}

// IndicatorKey is the tier-1 indicator value key. Non-default params are
// appended sorted by name so equivalent parameter sets map to one key.
func IndicatorKey(exchangeID int, symbol, tf, indType string, params map[string]int) string {
	key := fmt.Sprintf("indicator:%d:%s:%s:%s", exchangeID, symbol, tf, indType)
	if suffix := sortedParams(params); suffix != "" {
		key += ":" + suffix
	}
	return key
}

// UserIndicatorKey is the tier-2 indicator value key. TTL applies.
func UserIndicatorKey(userID string, exchangeID int, symbol, tf, indType string) string {
	return fmt.Sprintf("userindicator:%s:%d:%s:%s:%s", userID, exchangeID, symbol, tf, indType)
}

// CandleKeyPattern is the SCAN pattern over tier-1 candle series. symbol
// and tf may each be "*".
func CandleKeyPattern(exchangeID int, symbol, tf string) string {
	return fmt.Sprintf("candles:%d:%s:%s", exchangeID, symbol, tf)
}

// IndicatorKeyPattern is the SCAN pattern over tier-1 indicator keys,
// covering every indicator type and parameter suffix. symbol and tf may
// each be "*".
func IndicatorKeyPattern(exchangeID int, symbol, tf string) string {
	return fmt.Sprintf("indicator:%d:%s:%s:*", exchangeID, symbol, tf)
}

// TickerKey is the latest-ticker key (60s TTL).
func TickerKey(exchangeID int, symbol string) string {
	return fmt.Sprintf("ticker:%d:%s", exchangeID, symbol)
}

func sortedParams(params map[string]int) string {
	if len(params) == 0 {
		return ""
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%d", k, params[k])
	}
	return strings.Join(parts, ",")
}

// ── Channel names ──

// CandleCloseChannel carries closed-candle events for one series.
func CandleCloseChannel(exchangeID int, symbol, tf string) string {
	return fmt.Sprintf("channel:exchange:%d:candle:close:%s:%s", exchangeID, symbol, tf)
}

// CandleClosePattern subscribes to every series on an exchange.
func CandleClosePattern(exchangeID int) string {
	return fmt.Sprintf("channel:exchange:%d:candle:close:*:*", exchangeID)
}

// IndicatorChannel carries MACD-V updates for one series.
func IndicatorChannel(exchangeID int, symbol, tf string) string {
	return fmt.Sprintf("channel:exchange:%d:indicator:macd-v:%s:%s", exchangeID, symbol, tf)
}

// IndicatorPattern subscribes to every MACD-V update on an exchange.
func IndicatorPattern(exchangeID int) string {
	return fmt.Sprintf("channel:exchange:%d:indicator:macd-v:*:*", exchangeID)
}

// TickerChannel carries ticker updates for one symbol.
func TickerChannel(exchangeID int, symbol string) string {
	return fmt.Sprintf("channel:exchange:%d:ticker:%s", exchangeID, symbol)
}

// AlertChannel carries alert events for an exchange.
func AlertChannel(exchangeID int) string {
	return fmt.Sprintf("channel:alerts:exchange:%d", exchangeID)
}

// CommandChannel and ResponseChannel scope the control bus to an identity sub.
func CommandChannel(identitySub string) string {
	return "livermore:commands:" + identitySub
}

func ResponseChannel(identitySub string) string {
	return "livermore:responses:" + identitySub
}

// ParseCandleCloseChannel extracts (symbol, tf) from a candle-close channel
// name. Returns ok=false for any other channel shape.
func ParseCandleCloseChannel(channel string) (symbol, tf string, ok bool) {
	parts := strings.Split(channel, ":")
	// channel:exchange:{id}:candle:close:{symbol}:{tf}
	if len(parts) != 7 || parts[0] != "channel" || parts[1] != "exchange" ||
		parts[3] != "candle" || parts[4] != "close" {
		return "", "", false
	}
	return parts[5], parts[6], true
}

// ParseIndicatorChannel extracts (symbol, tf) from an indicator channel name.
func ParseIndicatorChannel(channel string) (symbol, tf string, ok bool) {
	parts := strings.Split(channel, ":")
	// channel:exchange:{id}:indicator:macd-v:{symbol}:{tf}
	if len(parts) != 7 || parts[0] != "channel" || parts[1] != "exchange" ||
		parts[3] != "indicator" || parts[4] != "macd-v" {
		return "", "", false
	}
	return parts[5], parts[6], true
}
