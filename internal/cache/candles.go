package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// userCandleTTL bounds tier-2 overflow series. Tier-1 keys never expire.
const userCandleTTL = 24 * time.Hour

// CandleStore keeps candle series in sorted sets: member = candle JSON,
// score = timestamp ms.
type CandleStore struct {
	c *Client
}

// NewCandleStore creates the candle facade.
func NewCandleStore(c *Client) *CandleStore {
	return &CandleStore{c: c}
}

// AddIfNewer writes a candle to the tier-1 series if it is not older than the
// stored latest. Same-timestamp payloads overwrite; a lower sequence_num than
// the stored one for the same timestamp is discarded. Returns whether the
// candle was written.
func (s *CandleStore) AddIfNewer(ctx context.Context, exchangeID int, candle model.Candle) (bool, error) {
	key := CandleKey(exchangeID, candle.Symbol, candle.Timeframe)
	return s.addIfNewer(ctx, key, candle, 0)
}

// AddUserIfNewer writes a candle to a tier-2 user series with TTL.
func (s *CandleStore) AddUserIfNewer(ctx context.Context, userID string, exchangeID int, candle model.Candle) (bool, error) {
	key := UserCandleKey(userID, exchangeID, candle.Symbol, candle.Timeframe)
	return s.addIfNewer(ctx, key, candle, userCandleTTL)
}

func (s *CandleStore) addIfNewer(ctx context.Context, key string, candle model.Candle, ttl time.Duration) (bool, error) {
	latest, found, err := s.latestAt(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		if candle.Timestamp < latest.Timestamp {
			return false, nil
		}
		if candle.Timestamp == latest.Timestamp &&
			candle.SequenceNum > 0 && latest.SequenceNum > 0 &&
			candle.SequenceNum < latest.SequenceNum {
			return false, nil
		}
	}

	pipe := s.c.rdb.Pipeline()
	score := strconv.FormatInt(candle.Timestamp, 10)
	pipe.ZRemRangeByScore(ctx, key, score, score)
	pipe.ZAdd(ctx, key, &goredis.Z{Score: float64(candle.Timestamp), Member: string(candle.JSON())})
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("zadd %s: %w", key, err)
	}
	return true, nil
}

// Latest returns the newest candle in the tier-1 series.
func (s *CandleStore) Latest(ctx context.Context, exchangeID int, symbol, tf string) (model.Candle, bool, error) {
	return s.latestAt(ctx, CandleKey(exchangeID, symbol, tf))
}

func (s *CandleStore) latestAt(ctx context.Context, key string) (model.Candle, bool, error) {
	members, err := s.c.rdb.ZRange(ctx, key, -1, -1).Result()
	if err != nil {
		if err == goredis.Nil {
			return model.Candle{}, false, nil
		}
		return model.Candle{}, false, fmt.Errorf("zrange %s: %w", key, err)
	}
	if len(members) == 0 {
		return model.Candle{}, false, nil
	}
	var c model.Candle
	if err := json.Unmarshal([]byte(members[0]), &c); err != nil {
		return model.Candle{}, false, fmt.Errorf("unmarshal candle from %s: %w", key, err)
	}
	return c, true, nil
}

// Recent returns the newest n candles of the tier-1 series in ascending order.
func (s *CandleStore) Recent(ctx context.Context, exchangeID int, symbol, tf string, n int) ([]model.Candle, error) {
	return s.recentAt(ctx, CandleKey(exchangeID, symbol, tf), n)
}

// RecentDual reads the newest n candles, consulting tier 1 first, then the
// legacy user-scoped key, then tier 2. Writers never touch the legacy key.
func (s *CandleStore) RecentDual(ctx context.Context, userID string, exchangeID int, symbol, tf string, n int) ([]model.Candle, error) {
	candles, err := s.recentAt(ctx, CandleKey(exchangeID, symbol, tf), n)
	if err != nil || len(candles) > 0 {
		return candles, err
	}
	if userID == "" {
		return candles, nil
	}
	candles, err = s.recentAt(ctx, LegacyUserCandleKey(userID, symbol, tf), n)
	if err != nil || len(candles) > 0 {
		return candles, err
	}
	return s.recentAt(ctx, UserCandleKey(userID, exchangeID, symbol, tf), n)
}

func (s *CandleStore) recentAt(ctx context.Context, key string, n int) ([]model.Candle, error) {
	members, err := s.c.rdb.ZRange(ctx, key, int64(-n), -1).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("zrange %s: %w", key, err)
	}
	return parseCandles(members, s.c.log)
}

// RangeByTime returns candles with fromMs <= timestamp <= toMs, ascending.
func (s *CandleStore) RangeByTime(ctx context.Context, exchangeID int, symbol, tf string, fromMs, toMs int64, limit int) ([]model.Candle, error) {
	key := CandleKey(exchangeID, symbol, tf)
	members, err := s.c.rdb.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min:   strconv.FormatInt(fromMs, 10),
		Max:   strconv.FormatInt(toMs, 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	return parseCandles(members, s.c.log)
}

// Count returns the tier-1 series length.
func (s *CandleStore) Count(ctx context.Context, exchangeID int, symbol, tf string) (int64, error) {
	return s.c.rdb.ZCard(ctx, CandleKey(exchangeID, symbol, tf)).Result()
}

// DeleteSeries removes one tier-1 series.
func (s *CandleStore) DeleteSeries(ctx context.Context, exchangeID int, symbol, tf string) error {
	return s.c.rdb.Del(ctx, CandleKey(exchangeID, symbol, tf)).Err()
}

func parseCandles(members []string, log *slog.Logger) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(members))
	for _, m := range members {
		var c model.Candle
		if err := json.Unmarshal([]byte(m), &c); err != nil {
			log.Warn("skipping unparseable candle member", slog.String("error", err.Error()))
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
