// Package logger configures structured logging for the market-data
// pipeline. Every component shares one slog JSON logger writing to stdout,
// and trace IDs ride in the context so a control command or an alert can be
// followed across the cache, bus and notification layers.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init builds the process logger and installs it as the slog default, so
// bare slog calls on hot paths stay structured too.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(logger)

	return logger
}

// WithTraceID stores a trace ID in the context. The control bus uses the
// command correlation id; the alert engine mints one per emission.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context, "" when unset.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID derives a trace ID from a token and a timestamp, shaped
// "{token}-{unixNano}".
func GenerateTraceID(token string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", token, ts.UnixNano())
}

// LogWithTrace returns log args carrying the context's trace ID, or nil.
// Append to the argument list of any slog call.
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
