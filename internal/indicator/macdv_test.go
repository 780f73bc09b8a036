package indicator

import (
	"math"
	"testing"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestSMA(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	out := SMA(xs, 3)

	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Error("positions before the first full window must be NaN")
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if !almostEqual(out[i+2], w, 1e-9) {
			t.Errorf("SMA[%d] = %v, want %v", i+2, out[i+2], w)
		}
	}
}

func TestEMA_SeededBySMA(t *testing.T) {
	xs := []float64{10, 10, 10, 10, 20}
	out := EMA(xs, 4)

	// Seed is SMA of the first 4 = 10.
	if !almostEqual(out[3], 10, 1e-9) {
		t.Errorf("EMA seed = %v, want 10", out[3])
	}
	// alpha = 2/5 = 0.4 → 0.4*20 + 0.6*10 = 14
	if !almostEqual(out[4], 14, 1e-9) {
		t.Errorf("EMA[4] = %v, want 14", out[4])
	}
}

func TestEMA_SkipsLeadingNaN(t *testing.T) {
	xs := []float64{math.NaN(), math.NaN(), 10, 10, 10, 16}
	out := EMA(xs, 3)

	if !math.IsNaN(out[3]) {
		t.Error("window must start at the first valid value")
	}
	if !almostEqual(out[4], 10, 1e-9) {
		t.Errorf("EMA seed = %v, want 10", out[4])
	}
	// alpha = 0.5 → 0.5*16 + 0.5*10 = 13
	if !almostEqual(out[5], 13, 1e-9) {
		t.Errorf("EMA[5] = %v, want 13", out[5])
	}
}

func TestRMA_WilderSmoothing(t *testing.T) {
	xs := []float64{10, 10, 10, 20}
	out := RMA(xs, 3)

	if !almostEqual(out[2], 10, 1e-9) {
		t.Errorf("RMA seed = %v, want 10", out[2])
	}
	// (10*2 + 20) / 3 = 13.333...
	if !almostEqual(out[3], 40.0/3.0, 1e-9) {
		t.Errorf("RMA[3] = %v, want %v", out[3], 40.0/3.0)
	}
}

func TestTrueRange(t *testing.T) {
	if tr := TrueRange(105, 99, math.NaN()); !almostEqual(tr, 6, 1e-9) {
		t.Errorf("first-bar TR = %v, want 6", tr)
	}
	// Gap down: |low - prevClose| dominates.
	if tr := TrueRange(105, 100, 110); !almostEqual(tr, 10, 1e-9) {
		t.Errorf("TR = %v, want 10", tr)
	}
	if tr := TrueRange(120, 112, 110); !almostEqual(tr, 10, 1e-9) {
		t.Errorf("TR = %v, want 10", tr)
	}
}

// trendCandles builds a gently trending series long enough to warm up MACD-V.
func trendCandles(n int) []model.Candle {
	out := make([]model.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		drift := math.Sin(float64(i)/7) * 2
		o := price
		c := price + drift
		h := math.Max(o, c) + 1
		l := math.Min(o, c) - 1
		out[i] = model.Candle{
			Timestamp: int64(1704067200000) + int64(i)*300_000,
			Symbol:    "BTC-USD", Timeframe: "5m",
			Open: o, High: h, Low: l, Close: c, Volume: 100,
		}
		price = c
	}
	return out
}

func TestMACDV_WarmupIsNaN(t *testing.T) {
	p := model.DefaultMACDVParams()
	candles := trendCandles(MinBars(p) - 1)
	series := MACDV(candles, p)

	if _, ok := Latest(series); ok {
		t.Error("expected no valid tuple before MinBars")
	}
}

func TestMACDV_Deterministic(t *testing.T) {
	p := model.DefaultMACDVParams()
	candles := trendCandles(80)

	a := MACDV(candles, p)
	b := MACDV(candles, p)

	va, ok := Latest(a)
	if !ok {
		t.Fatal("expected a valid tuple at 80 bars")
	}
	vb, _ := Latest(b)
	if va.MACDV != vb.MACDV || va.Signal != vb.Signal || va.Histogram != vb.Histogram {
		t.Errorf("recomputation differs: %+v vs %+v", va, vb)
	}
	if !almostEqual(va.Histogram, va.MACDV-va.Signal, 1e-9) {
		t.Errorf("histogram = %v, want macdV-signal = %v", va.Histogram, va.MACDV-va.Signal)
	}
}

func TestMACDV_NormalisedByATR(t *testing.T) {
	p := model.DefaultMACDVParams()
	candles := trendCandles(80)
	series := MACDV(candles, p)
	v, ok := Latest(series)
	if !ok {
		t.Fatal("expected valid tuple")
	}
	want := (v.FastEMA - v.SlowEMA) / v.ATR * 100
	if !almostEqual(v.MACDV, want, 1e-9) {
		t.Errorf("macdV = %v, want %v", v.MACDV, want)
	}
}

func TestStageFor(t *testing.T) {
	cases := []struct {
		v    float64
		want string
	}{
		{-320, model.StageExtremeOversold},
		{-160, model.StageOversold},
		{0, model.StageNeutral},
		{160, model.StageOverbought},
		{320, model.StageExtremeOverbought},
	}
	for _, tc := range cases {
		if got := model.StageFor(tc.v); got != tc.want {
			t.Errorf("StageFor(%v) = %s, want %s", tc.v, got, tc.want)
		}
	}
}
