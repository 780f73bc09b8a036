package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// userIndicatorTTL bounds tier-2 indicator values.
const userIndicatorTTL = 24 * time.Hour

// macdvType is the indicator type segment used in keys and channels.
const macdvType = "macd-v"

// IndicatorStore keeps the latest indicator record per series as a string.
type IndicatorStore struct {
	c *Client
}

// NewIndicatorStore creates the indicator facade.
func NewIndicatorStore(c *Client) *IndicatorStore {
	return &IndicatorStore{c: c}
}

// Set writes a tier-1 indicator record. Non-default params become part of
// the key so parameterised variants do not collide.
func (s *IndicatorStore) Set(ctx context.Context, exchangeID int, rec model.IndicatorRecord, params map[string]int) error {
	key := IndicatorKey(exchangeID, rec.Symbol, rec.Timeframe, macdvType, params)
	if err := s.c.rdb.Set(ctx, key, string(rec.JSON()), 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetUser writes a tier-2 indicator record with TTL.
func (s *IndicatorStore) SetUser(ctx context.Context, userID string, exchangeID int, rec model.IndicatorRecord) error {
	key := UserIndicatorKey(userID, exchangeID, rec.Symbol, rec.Timeframe, macdvType)
	if err := s.c.rdb.Set(ctx, key, string(rec.JSON()), userIndicatorTTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get reads the tier-1 record, falling back to tier 2 when userID is set.
func (s *IndicatorStore) Get(ctx context.Context, userID string, exchangeID int, symbol, tf string) (model.IndicatorRecord, bool, error) {
	rec, found, err := s.getAt(ctx, IndicatorKey(exchangeID, symbol, tf, macdvType, nil))
	if err != nil || found {
		return rec, found, err
	}
	if userID == "" {
		return model.IndicatorRecord{}, false, nil
	}
	return s.getAt(ctx, UserIndicatorKey(userID, exchangeID, symbol, tf, macdvType))
}

func (s *IndicatorStore) getAt(ctx context.Context, key string) (model.IndicatorRecord, bool, error) {
	data, err := s.c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return model.IndicatorRecord{}, false, nil
		}
		return model.IndicatorRecord{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	var rec model.IndicatorRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return model.IndicatorRecord{}, false, fmt.Errorf("unmarshal indicator from %s: %w", key, err)
	}
	return rec, true, nil
}
