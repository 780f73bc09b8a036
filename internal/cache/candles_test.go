package cache

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/go-redis/redismock/v8"
	goredis "github.com/go-redis/redis/v8"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

func testClient(t *testing.T) (*Client, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewFromRedis(rdb, log), mock
}

func TestCandleStore_AddIfNewer_EmptySeries(t *testing.T) {
	client, mock := testClient(t)
	store := NewCandleStore(client)

	c := model.Candle{
		Timestamp: 1704067200000, Symbol: "BTC-USD", Timeframe: "5m",
		Open: 100, High: 105, Low: 99, Close: 103, Volume: 1000,
	}
	key := CandleKey(1, "BTC-USD", "5m")

	mock.ExpectZRange(key, -1, -1).SetVal(nil)
	mock.ExpectZRemRangeByScore(key, "1704067200000", "1704067200000").SetVal(0)
	mock.ExpectZAdd(key, &goredis.Z{Score: 1704067200000, Member: string(c.JSON())}).SetVal(1)

	written, err := store.AddIfNewer(context.Background(), 1, c)
	if err != nil {
		t.Fatalf("AddIfNewer: %v", err)
	}
	if !written {
		t.Error("expected candle to be written")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations: %v", err)
	}
}

func TestCandleStore_AddIfNewer_RejectsOlder(t *testing.T) {
	client, mock := testClient(t)
	store := NewCandleStore(client)

	stored := model.Candle{
		Timestamp: 1704067500000, Symbol: "BTC-USD", Timeframe: "5m",
		Open: 103, High: 108, Low: 102, Close: 106, Volume: 1100,
	}
	older := model.Candle{
		Timestamp: 1704067200000, Symbol: "BTC-USD", Timeframe: "5m",
		Open: 100, High: 105, Low: 99, Close: 103, Volume: 1000,
	}
	key := CandleKey(1, "BTC-USD", "5m")

	mock.ExpectZRange(key, -1, -1).SetVal([]string{string(stored.JSON())})

	written, err := store.AddIfNewer(context.Background(), 1, older)
	if err != nil {
		t.Fatalf("AddIfNewer: %v", err)
	}
	if written {
		t.Error("older candle must be discarded")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations: %v", err)
	}
}

func TestCandleStore_AddIfNewer_RejectsLowerSequence(t *testing.T) {
	client, mock := testClient(t)
	store := NewCandleStore(client)

	stored := model.Candle{
		Timestamp: 1704067200000, Symbol: "BTC-USD", Timeframe: "5m",
		Close: 103, SequenceNum: 20,
	}
	dup := model.Candle{
		Timestamp: 1704067200000, Symbol: "BTC-USD", Timeframe: "5m",
		Close: 101, SequenceNum: 10,
	}
	key := CandleKey(1, "BTC-USD", "5m")

	mock.ExpectZRange(key, -1, -1).SetVal([]string{string(stored.JSON())})

	written, err := store.AddIfNewer(context.Background(), 1, dup)
	if err != nil {
		t.Fatalf("AddIfNewer: %v", err)
	}
	if written {
		t.Error("lower-sequence duplicate must be discarded")
	}
}

func TestCandleStore_AddIfNewer_SameTimestampOverwrites(t *testing.T) {
	client, mock := testClient(t)
	store := NewCandleStore(client)

	stored := model.Candle{
		Timestamp: 1704067200000, Symbol: "BTC-USD", Timeframe: "5m", Close: 103,
	}
	newer := model.Candle{
		Timestamp: 1704067200000, Symbol: "BTC-USD", Timeframe: "5m", Close: 104,
	}
	key := CandleKey(1, "BTC-USD", "5m")

	mock.ExpectZRange(key, -1, -1).SetVal([]string{string(stored.JSON())})
	mock.ExpectZRemRangeByScore(key, "1704067200000", "1704067200000").SetVal(1)
	mock.ExpectZAdd(key, &goredis.Z{Score: 1704067200000, Member: string(newer.JSON())}).SetVal(1)

	written, err := store.AddIfNewer(context.Background(), 1, newer)
	if err != nil {
		t.Fatalf("AddIfNewer: %v", err)
	}
	if !written {
		t.Error("same-timestamp payload must overwrite")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations: %v", err)
	}
}

func TestCandleStore_RecentDual_FallsBackToTier2(t *testing.T) {
	client, mock := testClient(t)
	store := NewCandleStore(client)

	c := model.Candle{
		Timestamp: 1704067200000, Symbol: "DOGE-USD", Timeframe: "5m", Close: 0.1,
	}

	mock.ExpectZRange(CandleKey(1, "DOGE-USD", "5m"), -5, -1).SetVal(nil)
	mock.ExpectZRange(LegacyUserCandleKey("u42", "DOGE-USD", "5m"), -5, -1).SetVal(nil)
	mock.ExpectZRange(UserCandleKey("u42", 1, "DOGE-USD", "5m"), -5, -1).SetVal([]string{string(c.JSON())})

	candles, err := store.RecentDual(context.Background(), "u42", 1, "DOGE-USD", "5m", 5)
	if err != nil {
		t.Fatalf("RecentDual: %v", err)
	}
	if len(candles) != 1 || candles[0].Symbol != "DOGE-USD" {
		t.Errorf("expected tier-2 candle, got %+v", candles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations: %v", err)
	}
}
