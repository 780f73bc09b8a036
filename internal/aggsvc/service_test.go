package aggsvc

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/go-redis/redismock/v8"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/cache"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/indicator"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

func testService(t *testing.T) (*Service, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	client := cache.NewFromRedis(rdb, log)
	return New(1, model.MACDVParams{}, client, log), mock
}

func TestNew_DefaultsParams(t *testing.T) {
	svc, _ := testService(t)
	if svc.params != model.DefaultMACDVParams() {
		t.Errorf("params = %+v, want defaults", svc.params)
	}
}

func TestCloseTimestamp(t *testing.T) {
	c := model.Candle{Timestamp: 1704067200000, Symbol: "BTC-USD", Timeframe: "5m"}
	ts, ok := closeTimestamp(c.JSON())
	if !ok || ts != 1704067200000 {
		t.Errorf("closeTimestamp = (%d, %v)", ts, ok)
	}
	if _, ok := closeTimestamp([]byte(`{"symbol":"BTC-USD"}`)); ok {
		t.Error("missing timestamp must not parse")
	}
	if _, ok := closeTimestamp([]byte(`garbage`)); ok {
		t.Error("garbage must not parse")
	}
}

func TestOnCandleClose_IgnoresNonSourceTimeframe(t *testing.T) {
	svc, mock := testService(t)

	// No redis expectations set: any cache call would fail the test.
	svc.onCandleClose(context.Background(), cache.CandleCloseChannel(1, "BTC-USD", "15m"), []byte(`{}`))
	svc.onCandleClose(context.Background(), "channel:alerts:exchange:1", []byte(`{}`))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations: %v", err)
	}
}

func TestRecalcDirect_ReadinessGateSkipsShortSeries(t *testing.T) {
	svc, mock := testService(t)

	// 10 candles come back: below the 60-bar gate, so no indicator write
	// and no publish may follow.
	members := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		c := model.Candle{
			Timestamp: 1704067200000 + int64(i)*300_000,
			Symbol:    "BTC-USD", Timeframe: "5m", Close: 100,
		}
		members = append(members, string(c.JSON()))
	}
	key := cache.CandleKey(1, "BTC-USD", "5m")
	mock.ExpectZRange(key, int64(-(indicator.ReadyBars + 1)), -1).SetVal(members)

	if err := svc.recalcDirect(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("recalcDirect: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations: %v", err)
	}
}

func TestRecalcDirect_FallsThroughToUserSeries(t *testing.T) {
	svc, mock := testService(t)
	svc.UserID = "u42"

	// Tier 1 and the legacy key are empty; the read lands on the tier-2
	// overflow series. Still below the gate, so nothing is written.
	n := int64(-(indicator.ReadyBars + 1))
	c := model.Candle{Timestamp: 1704067200000, Symbol: "BTC-USD", Timeframe: "5m", Close: 100}
	mock.ExpectZRange(cache.CandleKey(1, "BTC-USD", "5m"), n, -1).SetVal(nil)
	mock.ExpectZRange(cache.LegacyUserCandleKey("u42", "BTC-USD", "5m"), n, -1).SetVal(nil)
	mock.ExpectZRange(cache.UserCandleKey("u42", 1, "BTC-USD", "5m"), n, -1).SetVal([]string{string(c.JSON())})

	if err := svc.recalcDirect(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("recalcDirect: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations: %v", err)
	}
}

func TestParamOverrides(t *testing.T) {
	svc, _ := testService(t)
	if svc.paramOverrides() != nil {
		t.Error("default params must produce no key suffix")
	}

	svc.params = model.MACDVParams{Fast: 10, Slow: 30, ATR: 30, Signal: 7}
	got := svc.paramOverrides()
	want := map[string]int{"fast": 10, "slow": 30, "atr": 30, "signal": 7}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("override %s = %d, want %d", k, got[k], v)
		}
	}
}
