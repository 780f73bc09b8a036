package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// tickerTTL drops stale prices out of the cache.
const tickerTTL = 60 * time.Second

// TickerStore keeps the latest ticker per symbol as a string with TTL.
type TickerStore struct {
	c *Client
}

// NewTickerStore creates the ticker facade.
func NewTickerStore(c *Client) *TickerStore {
	return &TickerStore{c: c}
}

// Set overwrites the ticker for a symbol and refreshes the 60s TTL.
func (s *TickerStore) Set(ctx context.Context, exchangeID int, t model.Ticker) error {
	key := TickerKey(exchangeID, t.Symbol)
	if err := s.c.rdb.Set(ctx, key, string(t.JSON()), tickerTTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get returns the ticker for a symbol, or found=false after TTL expiry.
func (s *TickerStore) Get(ctx context.Context, exchangeID int, symbol string) (model.Ticker, bool, error) {
	key := TickerKey(exchangeID, symbol)
	data, err := s.c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return model.Ticker{}, false, nil
		}
		return model.Ticker{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	var t model.Ticker
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return model.Ticker{}, false, fmt.Errorf("unmarshal ticker from %s: %w", key, err)
	}
	return t, true, nil
}
