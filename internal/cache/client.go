package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Config configures the cache client.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps the Redis command connection shared by the typed stores.
// Subscribers must not reuse it; they obtain their own connection via
// Duplicate so the command connection never enters subscriber mode.
type Client struct {
	cfg Config
	rdb *goredis.Client
	log *slog.Logger
}

// New creates a cache client and pings the server.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("connected to redis", slog.String("addr", cfg.Addr))
	return &Client{cfg: cfg, rdb: rdb, log: log}, nil
}

// NewFromRedis wraps an existing client (used by tests with redismock).
func NewFromRedis(rdb *goredis.Client, log *slog.Logger) *Client {
	return &Client{rdb: rdb, log: log}
}

// Redis exposes the underlying command client for health checks.
func (c *Client) Redis() *goredis.Client { return c.rdb }

// Duplicate opens a fresh connection with the same options, dedicated to a
// single subscriber.
func (c *Client) Duplicate() *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     c.cfg.Addr,
		Password: c.cfg.Password,
		DB:       c.cfg.DB,
	})
}

// Publish sends one payload on a channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, string(payload)).Err()
}

// ScanDelete deletes all keys matching pattern using SCAN plus per-key DEL.
// Different keys may live on different cluster slots, so nothing is batched.
func (c *Client) ScanDelete(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, key := range keys {
			if err := c.rdb.Del(ctx, key).Err(); err != nil {
				return deleted, fmt.Errorf("del %s: %w", key, err)
			}
			deleted++
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Close closes the command connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
