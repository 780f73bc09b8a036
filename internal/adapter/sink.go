package adapter

import (
	"context"
	"log/slog"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/cache"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/timeframe"
)

// Sink receives normalised market data from an adapter. Implementations must
// not block; adapters call these from the read path via fire-and-forget
// goroutines.
type Sink interface {
	// CandleUpdate stores a candle. closed marks the end of the bucket and
	// triggers the candle-close publish.
	CandleUpdate(ctx context.Context, exchangeID int, c model.Candle, closed bool)

	// TickerUpdate stores the latest ticker.
	TickerUpdate(ctx context.Context, exchangeID int, t model.Ticker)
}

// CacheSink writes tier-1 keys and publishes close events. It also fills
// gaps: when a closed candle arrives more than one bucket after the stored
// latest, synthetic candles are inserted for the missing buckets first.
type CacheSink struct {
	candles *cache.CandleStore
	tickers *cache.TickerStore
	client  *cache.Client
	log     *slog.Logger

	// Optional instrumentation hooks, set before the adapters start.
	OnUpdate    func(exchangeID int)
	OnClose     func(exchangeID int, tf string)
	OnStale     func(exchangeID int)
	OnSynthetic func(exchangeID int)
}

// NewCacheSink builds the sink over the shared cache client.
func NewCacheSink(client *cache.Client, log *slog.Logger) *CacheSink {
	return &CacheSink{
		candles: cache.NewCandleStore(client),
		tickers: cache.NewTickerStore(client),
		client:  client,
		log:     log,
	}
}

func (s *CacheSink) CandleUpdate(ctx context.Context, exchangeID int, c model.Candle, closed bool) {
	if s.OnUpdate != nil {
		s.OnUpdate(exchangeID)
	}
	if closed {
		s.fillGap(ctx, exchangeID, c)
	}

	written, err := s.candles.AddIfNewer(ctx, exchangeID, c)
	if err != nil {
		s.log.Error("candle write failed",
			slog.String("symbol", c.Symbol),
			slog.String("timeframe", c.Timeframe),
			slog.String("error", err.Error()))
		return
	}
	if !written && s.OnStale != nil {
		s.OnStale(exchangeID)
	}
	// A stale-rejected close still publishes: a closed bucket can lose the
	// write race against the next bucket's first update, but its contents
	// are already stored, and downstream aggregation must see the boundary.
	if !closed {
		return
	}
	if s.OnClose != nil {
		s.OnClose(exchangeID, c.Timeframe)
	}

	channel := cache.CandleCloseChannel(exchangeID, c.Symbol, c.Timeframe)
	if err := s.client.Publish(ctx, channel, c.JSON()); err != nil {
		s.log.Error("candle close publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
}

// fillGap inserts synthetic candles between the stored latest and the
// incoming candle when buckets are missing. Synthetic closes are published
// so downstream aggregation sees a contiguous series.
func (s *CacheSink) fillGap(ctx context.Context, exchangeID int, c model.Candle) {
	latest, found, err := s.candles.Latest(ctx, exchangeID, c.Symbol, c.Timeframe)
	if err != nil || !found || latest.Timestamp >= c.Timestamp {
		return
	}
	filled, err := timeframe.FillGaps([]model.Candle{latest, c}, c.Timeframe)
	if err != nil {
		return
	}
	for _, synth := range filled[1 : len(filled)-1] {
		if _, err := s.candles.AddIfNewer(ctx, exchangeID, synth); err != nil {
			s.log.Error("synthetic candle write failed",
				slog.String("symbol", c.Symbol),
				slog.String("error", err.Error()))
			return
		}
		if s.OnSynthetic != nil {
			s.OnSynthetic(exchangeID)
		}
		s.log.Debug("gap filled with synthetic candle",
			slog.String("symbol", c.Symbol),
			slog.String("timeframe", c.Timeframe),
			slog.Int64("timestamp", synth.Timestamp))
		channel := cache.CandleCloseChannel(exchangeID, c.Symbol, c.Timeframe)
		if err := s.client.Publish(ctx, channel, synth.JSON()); err != nil {
			s.log.Error("synthetic close publish failed", slog.String("error", err.Error()))
		}
	}
}

func (s *CacheSink) TickerUpdate(ctx context.Context, exchangeID int, t model.Ticker) {
	if err := s.tickers.Set(ctx, exchangeID, t); err != nil {
		s.log.Error("ticker write failed",
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()))
		return
	}
	channel := cache.TickerChannel(exchangeID, t.Symbol)
	if err := s.client.Publish(ctx, channel, t.JSON()); err != nil {
		s.log.Error("ticker publish failed", slog.String("error", err.Error()))
	}
}
