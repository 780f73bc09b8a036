package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// Coinbase Advanced Trade channel names.
const (
	cbChannelCandles       = "candles"
	cbChannelTicker        = "ticker"
	cbChannelHeartbeats    = "heartbeats"
	cbChannelSubscriptions = "subscriptions"
)

// cbTimeframe is the bucket size of the Advanced Trade candles channel.
const cbTimeframe = "5m"

// Coinbase ingests the Advanced Trade WebSocket feed. The candles channel
// streams the in-progress 5m bucket; a strictly greater start timestamp is
// the close marker for the previous bucket.
type Coinbase struct {
	exchange model.Exchange
	creds    Credentials
	sink     Sink
	log      *slog.Logger
	ws       *wsConn

	mu      sync.Mutex
	symbols map[string]struct{}
	pending map[string]model.Candle // last in-progress candle per symbol
}

// NewCoinbase builds the adapter. creds may be empty for public channels.
func NewCoinbase(exchange model.Exchange, creds Credentials, sink Sink, log *slog.Logger) *Coinbase {
	a := &Coinbase{
		exchange: exchange,
		creds:    creds,
		sink:     sink,
		log:      log.With(slog.String("adapter", exchange.Name)),
		symbols:  make(map[string]struct{}),
		pending:  make(map[string]model.Candle),
	}
	a.ws = newWSConn(connConfig{
		name:      exchange.Name,
		url:       exchange.WSURL,
		onOpen:    a.resubscribe,
		onMessage: a.handleMessage,
		log:       a.log,
	})
	return a
}

func (a *Coinbase) Name() string        { return a.exchange.Name }
func (a *Coinbase) State() State        { return a.ws.State() }
func (a *Coinbase) Fatal() <-chan error { return a.ws.Fatal() }

// OnReconnect installs a per-attempt reconnect hook. Call before Connect.
func (a *Coinbase) OnReconnect(f func()) { a.ws.setOnReconnect(f) }

func (a *Coinbase) Connect(ctx context.Context) error {
	return a.ws.connect(ctx)
}

func (a *Coinbase) Disconnect() error {
	return a.ws.disconnect()
}

// Subscribe sends subscribe frames for the candles, ticker and heartbeats
// channels and records the symbols for resubscribe.
func (a *Coinbase) Subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	a.mu.Lock()
	for _, s := range symbols {
		a.symbols[s] = struct{}{}
	}
	a.mu.Unlock()

	if err := a.sendSubscribe("subscribe", symbols); err != nil {
		return err
	}
	a.ws.setState(StateSubscribed)
	return nil
}

func (a *Coinbase) Unsubscribe(symbols []string) error {
	a.mu.Lock()
	for _, s := range symbols {
		delete(a.symbols, s)
		delete(a.pending, s)
	}
	a.mu.Unlock()
	return a.sendSubscribe("unsubscribe", symbols)
}

func (a *Coinbase) resubscribe() error {
	a.mu.Lock()
	symbols := make([]string, 0, len(a.symbols))
	for s := range a.symbols {
		symbols = append(symbols, s)
	}
	a.mu.Unlock()
	if len(symbols) == 0 {
		return nil
	}
	if err := a.sendSubscribe("subscribe", symbols); err != nil {
		return err
	}
	a.ws.setState(StateSubscribed)
	return nil
}

type cbSubscribeFrame struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel"`
	ProductIDs []string `json:"product_ids"`
	JWT        string   `json:"jwt,omitempty"`
}

func (a *Coinbase) sendSubscribe(typ string, symbols []string) error {
	for _, channel := range []string{cbChannelCandles, cbChannelTicker, cbChannelHeartbeats} {
		frame := cbSubscribeFrame{Type: typ, Channel: channel, ProductIDs: symbols}
		if !a.creds.Empty() {
			token, err := signWSJWT(a.creds, time.Now())
			if err != nil {
				return fmt.Errorf("coinbase %s: %w", typ, err)
			}
			frame.JWT = token
		}
		if err := a.ws.writeJSON(frame); err != nil {
			return fmt.Errorf("coinbase %s %s: %w", typ, channel, err)
		}
	}
	return nil
}

// ── Inbound frames ──

type cbEnvelope struct {
	Channel     string            `json:"channel"`
	SequenceNum int64             `json:"sequence_num"`
	Events      []json.RawMessage `json:"events"`
}

type cbCandleEvent struct {
	Type    string     `json:"type"`
	Candles []cbCandle `json:"candles"`
}

type cbCandle struct {
	Start     string `json:"start"` // unix seconds
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	ProductID string `json:"product_id"`
}

type cbTickerEvent struct {
	Type    string     `json:"type"`
	Tickers []cbTicker `json:"tickers"`
}

type cbTicker struct {
	ProductID        string `json:"product_id"`
	Price            string `json:"price"`
	Volume24h        string `json:"volume_24_h"`
	Low24h           string `json:"low_24_h"`
	High24h          string `json:"high_24_h"`
	PricePctChg24h   string `json:"price_percent_chg_24_h"`
}

func (a *Coinbase) handleMessage(ctx context.Context, data []byte) {
	var env cbEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		a.log.Warn("unparseable frame", slog.String("error", err.Error()))
		return
	}

	switch env.Channel {
	case cbChannelCandles:
		a.handleCandles(ctx, env)
	case cbChannelTicker:
		a.handleTickers(ctx, env)
	case cbChannelHeartbeats, cbChannelSubscriptions:
		// Keeps the watchdog fed; nothing to route.
	default:
		a.log.Warn("unknown channel", slog.String("channel", env.Channel))
	}
}

func (a *Coinbase) handleCandles(ctx context.Context, env cbEnvelope) {
	for _, raw := range env.Events {
		var ev cbCandleEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			a.log.Warn("unparseable candle event", slog.String("error", err.Error()))
			continue
		}
		for _, nc := range ev.Candles {
			candle, err := normaliseCoinbaseCandle(nc, env.SequenceNum)
			if err != nil {
				a.log.Warn("bad candle payload",
					slog.String("product", nc.ProductID),
					slog.String("error", err.Error()))
				continue
			}
			a.routeCandle(ctx, candle)
		}
	}
}

// routeCandle writes every update and detects closes. A candle whose start
// strictly exceeds the pending start for its symbol closes the pending one.
func (a *Coinbase) routeCandle(ctx context.Context, c model.Candle) {
	a.mu.Lock()
	prev, hasPrev := a.pending[c.Symbol]
	if !hasPrev || c.Timestamp >= prev.Timestamp {
		a.pending[c.Symbol] = c
	}
	a.mu.Unlock()

	// The close and the new bucket's first write share a series key, so
	// they run on one goroutine in order.
	if hasPrev && c.Timestamp > prev.Timestamp {
		go func() {
			a.sink.CandleUpdate(ctx, a.exchange.ID, prev, true)
			a.sink.CandleUpdate(ctx, a.exchange.ID, c, false)
		}()
		return
	}
	go a.sink.CandleUpdate(ctx, a.exchange.ID, c, false)
}

func (a *Coinbase) handleTickers(ctx context.Context, env cbEnvelope) {
	for _, raw := range env.Events {
		var ev cbTickerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			a.log.Warn("unparseable ticker event", slog.String("error", err.Error()))
			continue
		}
		if ev.Type != "update" {
			continue
		}
		for _, nt := range ev.Tickers {
			ticker, err := normaliseCoinbaseTicker(nt)
			if err != nil {
				a.log.Warn("bad ticker payload",
					slog.String("product", nt.ProductID),
					slog.String("error", err.Error()))
				continue
			}
			go a.sink.TickerUpdate(ctx, a.exchange.ID, ticker)
		}
	}
}

func normaliseCoinbaseCandle(nc cbCandle, seq int64) (model.Candle, error) {
	startSec, err := strconv.ParseInt(nc.Start, 10, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("start: %w", err)
	}
	o, err := parsePrice(nc.Open, "open")
	if err != nil {
		return model.Candle{}, err
	}
	h, err := parsePrice(nc.High, "high")
	if err != nil {
		return model.Candle{}, err
	}
	l, err := parsePrice(nc.Low, "low")
	if err != nil {
		return model.Candle{}, err
	}
	c, err := parsePrice(nc.Close, "close")
	if err != nil {
		return model.Candle{}, err
	}
	v, err := parsePrice(nc.Volume, "volume")
	if err != nil {
		return model.Candle{}, err
	}
	return model.Candle{
		Timestamp:   startSec * 1000,
		Symbol:      nc.ProductID,
		Timeframe:   cbTimeframe,
		Open:        o,
		High:        h,
		Low:         l,
		Close:       c,
		Volume:      v,
		SequenceNum: seq,
	}, nil
}

func normaliseCoinbaseTicker(nt cbTicker) (model.Ticker, error) {
	price, err := parsePrice(nt.Price, "price")
	if err != nil {
		return model.Ticker{}, err
	}
	t := model.Ticker{
		Symbol:    nt.ProductID,
		Price:     price,
		Timestamp: time.Now().UnixMilli(),
	}
	// 24h stats are optional on some products.
	t.Volume24h, _ = strconv.ParseFloat(nt.Volume24h, 64)
	t.Low24h, _ = strconv.ParseFloat(nt.Low24h, 64)
	t.High24h, _ = strconv.ParseFloat(nt.High24h, 64)
	t.ChangePercent24h, _ = strconv.ParseFloat(nt.PricePctChg24h, 64)
	if t.ChangePercent24h != 0 {
		t.Change24h = price - price/(1+t.ChangePercent24h/100)
	}
	return t, nil
}

func parsePrice(s, field string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return f, nil
}
