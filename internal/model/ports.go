package model

import "context"

// ── Port Interfaces ──
// These decouple the pipeline from concrete implementations (SQLite sink,
// REST backfill). Each implementation satisfies one of these interfaces.

// AlertSink persists alert records. Records are immutable after insert.
type AlertSink interface {
	// Insert writes one alert record.
	Insert(ctx context.Context, rec AlertRecord) error

	// Recent returns the newest records for an exchange, newest first.
	Recent(ctx context.Context, exchangeID int, limit int) ([]AlertRecord, error)

	// Close releases underlying resources.
	Close() error
}

// Backfiller fulfils the backfill contract: after a successful call the
// tier-1 candle key for (symbol, timeframe) holds at least `bars` candles.
type Backfiller interface {
	Backfill(ctx context.Context, symbol, timeframe string, bars int) error
}
