// Package notification delivers trade-signal alerts to external channels.
// The full notification dispatcher is an external collaborator; this package
// holds the delivery interface and the webhook backends the pipeline can
// drive directly.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// Notifier delivers one alert notification.
type Notifier interface {
	// Notify delivers an alert. Returns error if delivery fails.
	Notify(ctx context.Context, rec model.AlertRecord) error
}

// LogNotifier logs alerts instead of delivering them (useful for development
// and as the fallback when no webhook is configured).
type LogNotifier struct {
	Log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{Log: log}
}

func (n *LogNotifier) Notify(_ context.Context, rec model.AlertRecord) error {
	n.Log.Info("alert notification",
		slog.String("symbol", rec.Symbol),
		slog.String("timeframe", rec.Timeframe),
		slog.String("label", rec.TriggerLabel),
		slog.Float64("macdV", rec.TriggerValue))
	return nil
}

// formatAlert renders the human-readable message shared by the chat backends.
func formatAlert(rec model.AlertRecord) string {
	return fmt.Sprintf("%s %s %s | macdV %.1f | histogram %.2f | price %.2f",
		rec.Symbol, rec.Timeframe, rec.TriggerLabel,
		rec.TriggerValue, rec.Details.Histogram, rec.Price)
}
