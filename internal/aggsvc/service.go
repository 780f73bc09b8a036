// Package aggsvc is the aggregation and indicator service: it listens for
// 5m candle closes, rolls the 5m source series into higher timeframes when
// their boundaries close, recomputes MACD-V per closed timeframe and
// publishes indicator updates.
package aggsvc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/cache"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/indicator"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/pubsub"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/timeframe"
)

const sourceTF = "5m"

// higherTFs are recomputed when a 5m close crosses their boundary.
var higherTFs = []string{"15m", "1h", "4h", "1d"}

// Data-source labels for debug logs.
const (
	sourceCacheDirect  = "cache_direct"
	sourceAggregated5m = "aggregated_5m"
)

// Service subscribes to candle-close events for one exchange and owns the
// indicator cache and its pub/sub channel.
type Service struct {
	exchangeID int
	params     model.MACDVParams
	client     *cache.Client
	candles    *cache.CandleStore
	indicators *cache.IndicatorStore
	log        *slog.Logger

	// OnIndicator is an optional hook called after each published update
	// with the timeframe and data-source label. Set before Start.
	OnIndicator func(tf, source string)

	// UserID scopes candle reads to a tier-2 overflow series when the
	// tier-1 series is empty. Empty for shared deployments. Set before
	// Start.
	UserID string

	mu  sync.Mutex
	sub *pubsub.Subscriber
}

// New builds the service with the given MACD-V params (zero value means
// defaults).
func New(exchangeID int, params model.MACDVParams, client *cache.Client, log *slog.Logger) *Service {
	if params == (model.MACDVParams{}) {
		params = model.DefaultMACDVParams()
	}
	return &Service{
		exchangeID: exchangeID,
		params:     params,
		client:     client,
		candles:    cache.NewCandleStore(client),
		indicators: cache.NewIndicatorStore(client),
		log:        log.With(slog.String("component", "aggsvc"), slog.Int("exchange", exchangeID)),
	}
}

// Start subscribes to the exchange's candle-close pattern.
func (s *Service) Start(ctx context.Context) error {
	sub, err := pubsub.Subscribe(ctx, s.client, s.log, func(channel string, payload []byte) {
		s.onCandleClose(ctx, channel, payload)
	}, cache.CandleClosePattern(s.exchangeID))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Stop unsubscribes.
func (s *Service) Stop() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Stop()
}

// onCandleClose recomputes the 5m indicator from the cache, then each higher
// timeframe whose boundary this close crossed. A failed calculation is
// logged and retried on the next close event.
func (s *Service) onCandleClose(ctx context.Context, channel string, payload []byte) {
	symbol, tf, ok := cache.ParseCandleCloseChannel(channel)
	if !ok || tf != sourceTF {
		return
	}

	closeTs, ok := closeTimestamp(payload)
	if !ok {
		s.log.Warn("close event without timestamp", slog.String("channel", channel))
		return
	}

	if err := s.recalcDirect(ctx, symbol); err != nil {
		s.log.Error("5m recalculation failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
	}

	sourceMs, _ := timeframe.ToMs(sourceTF)
	for _, target := range higherTFs {
		targetMs, err := timeframe.ToMs(target)
		if err != nil {
			continue
		}
		if !timeframe.CrossesBoundary(closeTs, sourceMs, targetMs) {
			continue
		}
		if err := s.recalcAggregated(ctx, symbol, target, int(targetMs/sourceMs)); err != nil {
			s.log.Error("aggregated recalculation failed",
				slog.String("symbol", symbol),
				slog.String("timeframe", target),
				slog.String("error", err.Error()))
		}
	}
}

// recalcDirect computes the 5m indicator straight from the 5m cache.
func (s *Service) recalcDirect(ctx context.Context, symbol string) error {
	series, err := s.candles.RecentDual(ctx, s.UserID, s.exchangeID, symbol, sourceTF, indicator.ReadyBars+1)
	if err != nil {
		return err
	}
	return s.compute(ctx, symbol, sourceTF, series, sourceCacheDirect)
}

// recalcAggregated rolls 5m candles up into the target timeframe first.
func (s *Service) recalcAggregated(ctx context.Context, symbol, target string, factor int) error {
	fetch := (indicator.ReadyBars + 1) * factor
	source, err := s.candles.RecentDual(ctx, s.UserID, s.exchangeID, symbol, sourceTF, fetch)
	if err != nil {
		return err
	}
	series, err := timeframe.Aggregate(source, sourceTF, target)
	if err != nil {
		return err
	}
	return s.compute(ctx, symbol, target, series, sourceAggregated5m)
}

// compute applies the readiness gate, writes the indicator record and
// publishes the update.
func (s *Service) compute(ctx context.Context, symbol, tf string, series []model.Candle, source string) error {
	if len(series) < indicator.ReadyBars {
		s.log.Debug("series below readiness gate",
			slog.String("symbol", symbol),
			slog.String("timeframe", tf),
			slog.Int("bars", len(series)),
			slog.String("source", source))
		return nil
	}

	latest, ok := indicator.Latest(indicator.MACDV(series, s.params))
	if !ok {
		s.log.Debug("indicator not warmed up",
			slog.String("symbol", symbol),
			slog.String("timeframe", tf),
			slog.String("source", source))
		return nil
	}

	rec := model.IndicatorRecord{
		MACDV:     latest,
		Symbol:    symbol,
		Timeframe: tf,
		Stage:     model.StageFor(latest.MACDV),
		Params:    s.params,
	}
	if err := s.indicators.Set(ctx, s.exchangeID, rec, s.paramOverrides()); err != nil {
		return err
	}

	channel := cache.IndicatorChannel(s.exchangeID, symbol, tf)
	if err := s.client.Publish(ctx, channel, rec.JSON()); err != nil {
		return err
	}

	if s.OnIndicator != nil {
		s.OnIndicator(tf, source)
	}
	s.log.Debug("indicator updated",
		slog.String("symbol", symbol),
		slog.String("timeframe", tf),
		slog.Float64("macdV", latest.MACDV),
		slog.String("source", source))
	return nil
}

// paramOverrides returns the non-default params for the key suffix, nil when
// running the defaults.
func (s *Service) paramOverrides() map[string]int {
	def := model.DefaultMACDVParams()
	if s.params == def {
		return nil
	}
	return map[string]int{
		"fast":   s.params.Fast,
		"slow":   s.params.Slow,
		"atr":    s.params.ATR,
		"signal": s.params.Signal,
	}
}

// closeTimestamp pulls the bucket timestamp out of a close payload.
func closeTimestamp(payload []byte) (int64, bool) {
	var c model.Candle
	if err := json.Unmarshal(payload, &c); err != nil || c.Timestamp == 0 {
		return 0, false
	}
	return c.Timestamp, true
}
