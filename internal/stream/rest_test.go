package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/cache"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

type fakeAlertReader struct {
	records []model.AlertRecord
}

func (f *fakeAlertReader) Recent(_ context.Context, exchangeID int, limit int) ([]model.AlertRecord, error) {
	out := make([]model.AlertRecord, 0, limit)
	for _, rec := range f.records {
		if rec.ExchangeID == exchangeID && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeAlertReader) RecentForSymbol(ctx context.Context, exchangeID int, symbol, tf string, limit int) ([]model.AlertRecord, error) {
	all, err := f.Recent(ctx, exchangeID, limit)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rec := range all {
		if rec.Symbol == symbol && (tf == "" || rec.Timeframe == tf) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func testServer(t *testing.T, alerts AlertReader) (*Server, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	client := cache.NewFromRedis(rdb, log)

	exchanges := []model.Exchange{
		{ID: 1, Name: "coinbase", DisplayName: "Coinbase", SupportedTimeframes: []string{"5m", "15m", "1h", "4h", "1d"}, IsActive: true},
		{ID: 2, Name: "binance", DisplayName: "Binance", SupportedTimeframes: []string{"5m", "15m", "1h", "4h", "1d"}, IsActive: true},
	}
	symbols := map[int][]string{
		1: {"BTC-USD", "ETH-USD"},
		2: {"BTC-USD"},
	}
	srv := NewServer(exchanges, symbols, client, alerts, nil, log)
	srv.now = func() time.Time { return time.UnixMilli(1704070800000) }
	return srv, mock
}

func doRequest(srv *Server, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	srv.Routes(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decodeSuccess(t *testing.T, rr *httptest.ResponseRecorder) (json.RawMessage, Meta) {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Meta    Meta            `json:"meta"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !env.Success {
		t.Fatalf("success = false: %s", rr.Body.String())
	}
	return env.Data, env.Meta
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (status int, code string) {
	t.Helper()
	var env struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return rr.Code, env.Error.Code
}

func TestExchangesEndpoint(t *testing.T) {
	srv, _ := testServer(t, &fakeAlertReader{})

	data, meta := decodeSuccess(t, doRequest(srv, "/api/v1/exchanges"))
	var out []PublicExchange
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if meta.Count != 2 || len(out) != 2 {
		t.Fatalf("count = %d, len = %d", meta.Count, len(out))
	}
	if out[0].Name != "coinbase" || !out[0].IsActive {
		t.Errorf("first exchange = %+v", out[0])
	}
}

func TestSymbolsEndpoint(t *testing.T) {
	srv, _ := testServer(t, &fakeAlertReader{})

	data, meta := decodeSuccess(t, doRequest(srv, "/api/v1/symbols?exchange=coinbase"))
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if meta.Count != 2 || out[0] != "BTC-USD" {
		t.Errorf("symbols = %v, meta = %+v", out, meta)
	}
}

func TestCandlesEndpoint_Pagination(t *testing.T) {
	srv, mock := testServer(t, &fakeAlertReader{})

	members := make([]string, 3)
	for i := range members {
		c := model.Candle{
			Timestamp: 1704067200000 + int64(i)*300000,
			Symbol:    "BTC-USD", Timeframe: "5m",
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10,
		}
		members[i] = string(c.JSON())
	}
	mock.ExpectZRangeByScore(cache.CandleKey(1, "BTC-USD", "5m"), &goredis.ZRangeBy{
		Min: "0", Max: "1704070800000", Count: 3,
	}).SetVal(members)

	data, meta := decodeSuccess(t, doRequest(srv, "/api/v1/candles?exchange=coinbase&symbol=BTC-USD&timeframe=5m&limit=2"))
	var out []PublicCandle
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("page size = %d, want 2", len(out))
	}
	if !meta.HasMore {
		t.Error("has_more should be set with a third candle available")
	}
	if meta.NextCursor == nil || *meta.NextCursor != "1704067500000" {
		t.Errorf("next_cursor = %v, want last page timestamp", meta.NextCursor)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations: %v", err)
	}
}

func TestCandlesEndpoint_CursorAdvancesRange(t *testing.T) {
	srv, mock := testServer(t, &fakeAlertReader{})

	mock.ExpectZRangeByScore(cache.CandleKey(1, "BTC-USD", "5m"), &goredis.ZRangeBy{
		Min: "1704067500001", Max: "1704070800000", Count: 101,
	}).SetVal(nil)

	_, meta := decodeSuccess(t, doRequest(srv, "/api/v1/candles?exchange=coinbase&symbol=BTC-USD&cursor=1704067500000"))
	if meta.Count != 0 || meta.HasMore {
		t.Errorf("meta = %+v, want empty final page", meta)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations: %v", err)
	}
}

func TestCandlesEndpoint_Validation(t *testing.T) {
	srv, _ := testServer(t, &fakeAlertReader{})

	cases := []struct {
		target string
		status int
		code   string
	}{
		{"/api/v1/candles?symbol=BTC-USD", http.StatusBadRequest, CodeBadRequest},
		{"/api/v1/candles?exchange=kraken&symbol=BTC-USD", http.StatusBadRequest, CodeBadRequest},
		{"/api/v1/candles?exchange=coinbase&symbol=BTCUSD", http.StatusBadRequest, CodeBadRequest},
		{"/api/v1/candles?exchange=coinbase&symbol=BTC-USD&timeframe=7m", http.StatusBadRequest, CodeBadRequest},
		{"/api/v1/candles?exchange=coinbase&symbol=BTC-USD&cursor=abc", http.StatusBadRequest, CodeBadRequest},
	}
	for _, tc := range cases {
		status, code := decodeError(t, doRequest(srv, tc.target))
		if status != tc.status || code != tc.code {
			t.Errorf("%s: got %d/%s, want %d/%s", tc.target, status, code, tc.status, tc.code)
		}
	}
}

func TestSignalsEndpoint(t *testing.T) {
	alerts := &fakeAlertReader{records: []model.AlertRecord{
		{ID: "a1", ExchangeID: 1, Symbol: "BTC-USD", Timeframe: "1h",
			TriggerLabel: "level_-150", TriggeredAtMs: 1704067200000, Price: 42000},
		{ID: "a2", ExchangeID: 1, Symbol: "ETH-USD", Timeframe: "1h",
			TriggerLabel: "reversal_oversold", TriggeredAtMs: 1704067300000, Price: 2200},
	}}
	srv, _ := testServer(t, alerts)

	data, meta := decodeSuccess(t, doRequest(srv, "/api/v1/signals?exchange=coinbase&symbol=BTC-USD"))
	var out []PublicSignal
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if meta.Count != 1 || len(out) != 1 {
		t.Fatalf("count = %d, len = %d", meta.Count, len(out))
	}
	if out[0].Exchange != "coinbase" || out[0].Direction != "bearish" || out[0].SignalType != "momentum_signal" {
		t.Errorf("signal = %+v", out[0])
	}
}

func TestRateLimiter_Window(t *testing.T) {
	l := newRateLimiter(2, time.Minute)
	start := time.UnixMilli(0)

	if !l.allow("k", start) || !l.allow("k", start) {
		t.Fatal("first two requests should pass")
	}
	if l.allow("k", start.Add(time.Second)) {
		t.Error("third request inside the window should be limited")
	}
	if !l.allow("other", start) {
		t.Error("separate caller has its own budget")
	}
	if !l.allow("k", start.Add(time.Minute)) {
		t.Error("window rollover should reset the budget")
	}
}
