// Package alert detects MACD-V level crossings and reversal signals on the
// indicator update stream, with per-transition cooldowns, and emits alert
// records, notifications and pub/sub events.
package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/cache"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/notification"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/pubsub"
)

// defaultCooldown is the minimum interval between alerts sharing a cooldown
// key (symbol, timeframe, transition).
const defaultCooldown = 5 * time.Minute

// seriesState is the per-(symbol, timeframe) detection state. Process-local,
// single-owner.
type seriesState struct {
	previousMacdV float64
	hasPrev       bool
	lastLabel     string

	alertedLevels map[float64]time.Time // level -> last trigger
	reversalState bool
	reversalUntil time.Time // reversal cooldown expiry
}

// trigger is one detection outcome before emission.
type trigger struct {
	label string
}

// Engine subscribes to indicator updates for one exchange and owns the
// alert record sink.
type Engine struct {
	exchangeID int
	client     *cache.Client
	tickers    *cache.TickerStore
	sink       model.AlertSink
	notifier   notification.Notifier
	log        *slog.Logger

	cooldown time.Duration
	now      func() time.Time

	// Optional instrumentation hooks, set before Start.
	OnAlert       func(label string)
	OnNotifyError func()

	mu       sync.Mutex
	state    map[string]*seriesState
	snapshot map[string]map[string]float64 // symbol -> tf -> latest macdV
	sub      *pubsub.Subscriber
}

// New builds the engine. sink and notifier must be non-nil; use the log
// notifier when Discord is not configured.
func New(exchangeID int, client *cache.Client, sink model.AlertSink, notifier notification.Notifier, log *slog.Logger) *Engine {
	return &Engine{
		exchangeID: exchangeID,
		client:     client,
		tickers:    cache.NewTickerStore(client),
		sink:       sink,
		notifier:   notifier,
		log:        log.With(slog.String("component", "alert"), slog.Int("exchange", exchangeID)),
		cooldown:   defaultCooldown,
		now:        time.Now,
		state:      make(map[string]*seriesState),
		snapshot:   make(map[string]map[string]float64),
	}
}

// Start subscribes to the exchange's indicator pattern.
func (e *Engine) Start(ctx context.Context) error {
	sub, err := pubsub.Subscribe(ctx, e.client, e.log, func(channel string, payload []byte) {
		e.onIndicator(ctx, channel, payload)
	}, cache.IndicatorPattern(e.exchangeID))
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()
	return nil
}

// Stop unsubscribes and clears detection state.
func (e *Engine) Stop() error {
	e.mu.Lock()
	sub := e.sub
	e.sub = nil
	e.state = make(map[string]*seriesState)
	e.snapshot = make(map[string]map[string]float64)
	e.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Stop()
}

func (e *Engine) onIndicator(ctx context.Context, channel string, payload []byte) {
	symbol, tf, ok := cache.ParseIndicatorChannel(channel)
	if !ok {
		return
	}
	var rec model.IndicatorRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		e.log.Warn("unparseable indicator payload",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return
	}

	triggers := e.evaluate(symbol, tf, rec.MACDV.MACDV, rec.Histogram)
	for _, tr := range triggers {
		e.emit(ctx, symbol, tf, tr, rec)
	}
}

// evaluate runs the detection rules and updates series state. Returned
// triggers have already passed their cooldowns.
func (e *Engine) evaluate(symbol, tf string, cur, histogram float64) []trigger {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := symbol + ":" + tf
	if e.snapshot[symbol] == nil {
		e.snapshot[symbol] = make(map[string]float64)
	}
	e.snapshot[symbol][tf] = cur

	st := e.state[key]
	if st == nil {
		st = &seriesState{alertedLevels: make(map[float64]time.Time)}
		e.state[key] = st
	}

	if !st.hasPrev {
		st.previousMacdV = cur
		st.hasPrev = true
		return nil
	}
	prev := st.previousMacdV
	st.previousMacdV = cur
	now := e.now()

	var out []trigger

	// Level crossings. Entering a new extreme re-arms the reversal detector.
	for _, level := range oversoldLevels {
		if prev >= level && cur < level && e.cooldownClear(st, level, now) {
			st.alertedLevels[level] = now
			st.reversalState = false
			out = append(out, trigger{label: levelLabel(level)})
		}
		mirror := -level
		if prev <= mirror && cur > mirror && e.cooldownClear(st, mirror, now) {
			st.alertedLevels[mirror] = now
			st.reversalState = false
			out = append(out, trigger{label: levelLabel(mirror)})
		}
	}

	// Reversal signals, one per excursion.
	if !st.reversalState && now.After(st.reversalUntil) {
		switch {
		case cur < -reversalEntry && histogram > -cur*oversoldBuffer:
			st.reversalState = true
			st.reversalUntil = now.Add(e.cooldown)
			out = append(out, trigger{label: model.LabelReversalOversold})
		case cur > reversalEntry && histogram < -cur*overboughtBuffer:
			st.reversalState = true
			st.reversalUntil = now.Add(e.cooldown)
			out = append(out, trigger{label: model.LabelReversalOverbought})
		}
	}

	return out
}

func (e *Engine) cooldownClear(st *seriesState, level float64, now time.Time) bool {
	last, ok := st.alertedLevels[level]
	return !ok || now.Sub(last) >= e.cooldown
}

// emit notifies, persists and publishes one alert.
func (e *Engine) emit(ctx context.Context, symbol, tf string, tr trigger, ind model.IndicatorRecord) {
	now := e.now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(symbol, now))

	var price float64
	if ticker, found, err := e.tickers.Get(ctx, e.exchangeID, symbol); err == nil && found {
		price = ticker.Price
	}

	e.mu.Lock()
	snapshot := make(map[string]float64, len(e.snapshot[symbol]))
	for k, v := range e.snapshot[symbol] {
		snapshot[k] = v
	}
	st := e.state[symbol+":"+tf]
	previousLabel := st.lastLabel
	st.lastLabel = tr.label
	e.mu.Unlock()

	rec := model.AlertRecord{
		ID:            uuid.NewString(),
		ExchangeID:    e.exchangeID,
		Symbol:        symbol,
		Timeframe:     tf,
		AlertType:     "macdv",
		TriggeredAtMs: now.UnixMilli(),
		TriggeredAt:   now.UTC(),
		Price:         price,
		TriggerValue:  ind.MACDV.MACDV,
		TriggerLabel:  tr.label,
		PreviousLabel: previousLabel,
		Details: model.AlertDetails{
			Direction:          Direction(tr.label),
			Histogram:          ind.Histogram,
			Signal:             ind.Signal,
			TimeframesSnapshot: snapshot,
		},
	}

	if e.OnAlert != nil {
		e.OnAlert(tr.label)
	}

	if err := e.notifier.Notify(ctx, rec); err != nil {
		rec.NotificationError = err.Error()
		if e.OnNotifyError != nil {
			e.OnNotifyError()
		}
		e.log.Warn("notification failed",
			append([]any{
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			}, logger.LogWithTrace(ctx)...)...)
	} else {
		rec.NotificationSent = true
	}

	if err := e.sink.Insert(ctx, rec); err != nil {
		e.log.Error("alert record insert failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
	}

	channel := cache.AlertChannel(e.exchangeID)
	if err := e.client.Publish(ctx, channel, rec.JSON()); err != nil {
		e.log.Error("alert publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}

	e.log.Info("alert triggered",
		slog.String("symbol", symbol),
		slog.String("timeframe", tf),
		slog.String("label", tr.label),
		slog.Float64("macdV", ind.MACDV.MACDV))
}
