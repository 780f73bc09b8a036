// Package sqlite persists alert records. Candle and indicator history stay
// in the cache; only triggered alerts are durable.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the alert store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/alerts.db"
}

// AlertStore is a single-connection SQLite store for alert records.
type AlertStore struct {
	db  *sql.DB
	log *slog.Logger
}

var _ model.AlertSink = (*AlertStore)(nil)

// New opens the database with WAL mode and initialises the schema.
func New(cfg Config, log *slog.Logger) (*AlertStore, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info("opened alert database", slog.String("path", cfg.DBPath))
	return &AlertStore{db: db, log: log}, nil
}

// DB exposes the underlying handle for liveness probes.
func (s *AlertStore) DB() *sql.DB { return s.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id                 TEXT    PRIMARY KEY,
			exchange_id        INTEGER NOT NULL,
			symbol             TEXT    NOT NULL,
			timeframe          TEXT    NOT NULL,
			alert_type         TEXT    NOT NULL,
			triggered_at_ms    INTEGER NOT NULL,
			price              REAL    NOT NULL,
			trigger_value      REAL    NOT NULL,
			trigger_label      TEXT    NOT NULL,
			previous_label     TEXT,
			details            TEXT    NOT NULL,
			notification_sent  INTEGER NOT NULL DEFAULT 0,
			notification_error TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_exchange_time
			ON alerts (exchange_id, triggered_at_ms DESC);

		CREATE INDEX IF NOT EXISTS idx_alerts_symbol
			ON alerts (exchange_id, symbol, timeframe, triggered_at_ms DESC);
	`)
	return err
}

// Insert writes one alert record. Records are immutable after insert.
func (s *AlertStore) Insert(ctx context.Context, rec model.AlertRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal alert details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, exchange_id, symbol, timeframe, alert_type,
			triggered_at_ms, price, trigger_value, trigger_label,
			previous_label, details, notification_sent, notification_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ExchangeID, rec.Symbol, rec.Timeframe, rec.AlertType,
		rec.TriggeredAtMs, rec.Price, rec.TriggerValue, rec.TriggerLabel,
		rec.PreviousLabel, string(details), rec.NotificationSent, rec.NotificationError)
	if err != nil {
		return fmt.Errorf("sqlite insert alert: %w", err)
	}
	return nil
}

// Recent returns the newest records for an exchange, newest first.
func (s *AlertStore) Recent(ctx context.Context, exchangeID int, limit int) ([]model.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exchange_id, symbol, timeframe, alert_type,
			triggered_at_ms, price, trigger_value, trigger_label,
			previous_label, details, notification_sent, notification_error
		FROM alerts
		WHERE exchange_id = ?
		ORDER BY triggered_at_ms DESC
		LIMIT ?
	`, exchangeID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// RecentForSymbol returns the newest records for one (symbol, timeframe),
// newest first. Empty timeframe matches all.
func (s *AlertStore) RecentForSymbol(ctx context.Context, exchangeID int, symbol, tf string, limit int) ([]model.AlertRecord, error) {
	query := `
		SELECT id, exchange_id, symbol, timeframe, alert_type,
			triggered_at_ms, price, trigger_value, trigger_label,
			previous_label, details, notification_sent, notification_error
		FROM alerts
		WHERE exchange_id = ? AND symbol = ?`
	args := []interface{}{exchangeID, symbol}
	if tf != "" {
		query += ` AND timeframe = ?`
		args = append(args, tf)
	}
	query += ` ORDER BY triggered_at_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbol alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func scanAlerts(rows *sql.Rows) ([]model.AlertRecord, error) {
	var out []model.AlertRecord
	for rows.Next() {
		var rec model.AlertRecord
		var details string
		var prevLabel, notifErr sql.NullString
		if err := rows.Scan(&rec.ID, &rec.ExchangeID, &rec.Symbol, &rec.Timeframe,
			&rec.AlertType, &rec.TriggeredAtMs, &rec.Price, &rec.TriggerValue,
			&rec.TriggerLabel, &prevLabel, &details, &rec.NotificationSent, &notifErr); err != nil {
			return nil, fmt.Errorf("sqlite scan alert: %w", err)
		}
		rec.PreviousLabel = prevLabel.String
		rec.NotificationError = notifErr.String
		rec.TriggeredAt = time.UnixMilli(rec.TriggeredAtMs).UTC()
		if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
			return nil, fmt.Errorf("unmarshal alert details: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *AlertStore) Close() error {
	return s.db.Close()
}
