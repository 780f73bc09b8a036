package alert

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// Candidate crossing levels. Overbought levels are the mirrored positives.
var oversoldLevels = []float64{-150, -200, -250, -300, -350, -400}

// Reversal buffers: the histogram must clear a fraction of |macdV| before a
// reversal counts.
const (
	oversoldBuffer   = 0.05
	overboughtBuffer = 0.03
	reversalEntry    = 150 // |macdV| beyond which a reversal can arm
)

// Public boundary labels derived from internal trigger labels. The internal
// label itself never crosses the boundary.
const (
	DirectionBullish = "bullish"
	DirectionBearish = "bearish"

	StrengthWeak     = "weak"
	StrengthModerate = "moderate"
	StrengthStrong   = "strong"
	StrengthExtreme  = "extreme"

	SignalMomentum = "momentum_signal"
	SignalTrend    = "trend_signal"
)

// levelLabel renders the internal label for a crossing, e.g. "level_-150".
func levelLabel(level float64) string {
	return fmt.Sprintf("level_%d", int(level))
}

// Direction maps an internal trigger label to the public direction.
// Oversold excursions are bearish; reversals out of them are bullish.
func Direction(label string) string {
	switch {
	case label == model.LabelReversalOversold:
		return DirectionBullish
	case label == model.LabelReversalOverbought:
		return DirectionBearish
	case strings.HasPrefix(label, "level_-"):
		return DirectionBearish
	default:
		return DirectionBullish
	}
}

// Strength maps an internal trigger label to the public strength bucket.
// Reversals are moderate; level crossings scale with |level|.
func Strength(label string) string {
	switch label {
	case model.LabelReversalOversold, model.LabelReversalOverbought:
		return StrengthModerate
	}
	n, err := strconv.Atoi(strings.TrimPrefix(label, "level_"))
	if err != nil {
		return StrengthWeak
	}
	if math.Abs(float64(n)) >= 300 {
		return StrengthExtreme
	}
	return StrengthStrong
}

// SignalType maps an internal trigger label to the public signal type.
func SignalType(label string) string {
	switch label {
	case model.LabelReversalOversold, model.LabelReversalOverbought:
		return SignalTrend
	}
	return SignalMomentum
}
