// Package config loads runtime configuration from environment variables
// and the exchange descriptor file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Coinbase Advanced Trade credentials, optional. Public market data
	// works without them.
	CoinbaseKeyName   string
	CoinbaseKeySecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	StreamAddr    string

	// Identity of this deployment on the control bus.
	IdentitySub string

	// Subscription
	Symbols       string
	ExchangesFile string

	// Backfill depth in bars per symbol and timeframe.
	BackfillBars int

	// Notifications; the first configured channel wins.
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		CoinbaseKeyName:   getEnv("COINBASE_KEY_NAME", ""),
		CoinbaseKeySecret: getEnv("COINBASE_KEY_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/alerts.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		StreamAddr:    getEnv("STREAM_ADDR", ":8080"),

		IdentitySub: mustEnv("IDENTITY_SUB"),

		Symbols:       getEnv("SYMBOLS", "BTC-USD,ETH-USD"),
		ExchangesFile: getEnv("EXCHANGES_FILE", "config/exchanges.yaml"),

		BackfillBars: getEnvInt("BACKFILL_BARS", 300),

		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// SymbolList parses the Symbols string into a deduplicated slice.
func (c *Config) SymbolList() []string {
	parts := strings.Split(c.Symbols, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// exchangesFile is the on-disk shape of the exchange descriptor file.
type exchangesFile struct {
	Exchanges []model.Exchange `yaml:"exchanges"`
}

// LoadExchanges reads the exchange descriptors, keeping only active ones.
func LoadExchanges(path string) ([]model.Exchange, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f exchangesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]model.Exchange, 0, len(f.Exchanges))
	for _, ex := range f.Exchanges {
		if !ex.IsActive {
			continue
		}
		if ex.ID <= 0 || ex.Name == "" {
			return nil, fmt.Errorf("exchange entry missing id or name: %+v", ex)
		}
		out = append(out, ex)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no active exchanges in %s", path)
	}
	return out, nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}
