// Package timeframe provides timeframe arithmetic, boundary flooring,
// gap filling and OHLCV roll-up over candle series.
package timeframe

import (
	"errors"
	"fmt"
	"sort"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// ErrInvalidTimeframe is returned for unknown labels or non-integer multiples.
var ErrInvalidTimeframe = errors.New("invalid timeframe")

var tfMillis = map[string]int64{
	"1m":  60_000,
	"5m":  300_000,
	"15m": 900_000,
	"1h":  3_600_000,
	"4h":  14_400_000,
	"1d":  86_400_000,
}

// Supported lists the recognised timeframes, smallest first.
func Supported() []string {
	return []string{"1m", "5m", "15m", "1h", "4h", "1d"}
}

// IsSupported reports whether tf is a recognised timeframe label.
func IsSupported(tf string) bool {
	_, ok := tfMillis[tf]
	return ok
}

// ToMs converts a timeframe label to its duration in milliseconds.
func ToMs(tf string) (int64, error) {
	ms, ok := tfMillis[tf]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, tf)
	}
	return ms, nil
}

// Boundary floors ts (ms) to the start of its tfMs bucket.
func Boundary(ts, tfMs int64) int64 {
	return ts - ts%tfMs
}

// CandleBoundary floors ts (ms) to the start of the enclosing tf period.
func CandleBoundary(ts int64, tf string) (int64, error) {
	ms, err := ToMs(tf)
	if err != nil {
		return 0, err
	}
	return Boundary(ts, ms), nil
}

// CrossesBoundary reports whether advancing closeTs by sourceMs crosses a
// target-timeframe boundary, i.e. the target period containing closeTs closed.
func CrossesBoundary(closeTs, sourceMs, targetMs int64) bool {
	return Boundary(closeTs+sourceMs, targetMs) != Boundary(closeTs, targetMs)
}

// FillGaps inserts synthetic candles for missing tf buckets between
// consecutive candles. Input must be ascending; output stays ascending.
// A synthetic candle carries the prior close with zero volume.
func FillGaps(series []model.Candle, tf string) ([]model.Candle, error) {
	ms, err := ToMs(tf)
	if err != nil {
		return nil, err
	}
	if len(series) < 2 {
		return series, nil
	}

	out := make([]model.Candle, 0, len(series))
	out = append(out, series[0])
	for i := 1; i < len(series); i++ {
		prev := out[len(out)-1]
		cur := series[i]
		for ts := prev.Timestamp + ms; ts < cur.Timestamp; ts += ms {
			out = append(out, model.SyntheticFrom(prev, ts))
		}
		out = append(out, cur)
	}
	return out, nil
}

// Aggregate rolls source-timeframe candles up into target-timeframe candles.
// Target must be a positive integer multiple of source. A target candle is
// emitted only when its group holds exactly targetMs/sourceMs source candles;
// incomplete periods are dropped. Output is sorted ascending.
func Aggregate(series []model.Candle, source, target string) ([]model.Candle, error) {
	srcMs, err := ToMs(source)
	if err != nil {
		return nil, err
	}
	tgtMs, err := ToMs(target)
	if err != nil {
		return nil, err
	}
	if tgtMs <= srcMs || tgtMs%srcMs != 0 {
		return nil, fmt.Errorf("%w: %s is not a multiple of %s", ErrInvalidTimeframe, target, source)
	}
	factor := int(tgtMs / srcMs)

	groups := make(map[int64][]model.Candle)
	for _, c := range series {
		b := Boundary(c.Timestamp, tgtMs)
		groups[b] = append(groups[b], c)
	}

	out := make([]model.Candle, 0, len(groups))
	for boundary, group := range groups {
		if len(group) != factor {
			continue // incomplete period
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Timestamp < group[j].Timestamp })

		agg := model.Candle{
			Timestamp: boundary,
			Symbol:    group[0].Symbol,
			Timeframe: target,
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[len(group)-1].Close,
		}
		for _, c := range group {
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Volume += c.Volume
			agg.IsSynthetic = agg.IsSynthetic || c.IsSynthetic
		}
		out = append(out, agg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}
