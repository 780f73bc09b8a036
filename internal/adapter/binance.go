package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
)

// bnTimeframe is the only kline interval the pipeline ingests.
const bnTimeframe = "5m"

// Binance ingests the Spot WebSocket feed via live SUBSCRIBE/UNSUBSCRIBE
// frames on a single connection. Kline frames carry an explicit closed flag
// (`k.x`); no inference is needed.
type Binance struct {
	exchange model.Exchange
	sink     Sink
	log      *slog.Logger
	ws       *wsConn

	mu       sync.Mutex
	symbols  map[string]struct{} // internal symbols, e.g. "BTC-USD"
	toLocal  map[string]string   // "BTCUSDT" -> "BTC-USD"
	nextID   int64
}

// NewBinance builds the adapter. Market data streams need no auth.
func NewBinance(exchange model.Exchange, sink Sink, log *slog.Logger) *Binance {
	a := &Binance{
		exchange: exchange,
		sink:     sink,
		log:      log.With(slog.String("adapter", exchange.Name)),
		symbols:  make(map[string]struct{}),
		toLocal:  make(map[string]string),
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

func (a *Binance) Name() string        { return a.exchange.Name }
func (a *Binance) State() State        { return a.ws.State() }
func (a *Binance) Fatal() <-chan error { return a.ws.Fatal() }

// OnReconnect installs a per-attempt reconnect hook. Call before Connect.
func (a *Binance) OnReconnect(f func()) { a.ws.setOnReconnect(f) }

func (a *Binance) Connect(ctx context.Context) error {
	return a.ws.connect(ctx)
}

func (a *Binance) Disconnect() error {
	return a.ws.disconnect()
}

type bnMethodFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (a *Binance) Subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	a.mu.Lock()
	for _, s := range symbols {
		a.symbols[s] = struct{}{}
		a.toLocal[binanceSymbol(s)] = s
	}
	a.mu.Unlock()

	if err := a.sendMethod("SUBSCRIBE", symbols); err != nil {
		return err
	}
	a.ws.setState(StateSubscribed)
	return nil
}

func (a *Binance) Unsubscribe(symbols []string) error {
	a.mu.Lock()
	for _, s := range symbols {
		delete(a.symbols, s)
		delete(a.toLocal, binanceSymbol(s))
	}
	a.mu.Unlock()
	return a.sendMethod("UNSUBSCRIBE", symbols)
}

func (a *Binance) resubscribe() error {
	a.mu.Lock()
	symbols := make([]string, 0, len(a.symbols))
	for s := range a.symbols {
		symbols = append(symbols, s)
	}
	a.mu.Unlock()
	if len(symbols) == 0 {
		return nil
	}
	if err := a.sendMethod("SUBSCRIBE", symbols); err != nil {
		return err
	}
	a.ws.setState(StateSubscribed)
	return nil
}

func (a *Binance) sendMethod(method string, symbols []string) error {
	params := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		native := strings.ToLower(binanceSymbol(s))
		params = append(params, native+"@kline_"+bnTimeframe, native+"@miniTicker")
	}
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.mu.Unlock()

	if err := a.ws.writeJSON(bnMethodFrame{Method: method, Params: params, ID: id}); err != nil {
		return fmt.Errorf("binance %s: %w", strings.ToLower(method), err)
	}
	return nil
}

// ── Inbound frames ──

type bnEvent struct {
	EventType string     `json:"e"`
	Symbol    string     `json:"s"`
	EventTime int64      `json:"E"`
	Kline     *bnKline   `json:"k,omitempty"`
	Close     string     `json:"c"` // miniTicker close price
	Open      string     `json:"o"`
	High      string     `json:"h"`
	Low       string     `json:"l"`
	Volume    string     `json:"v"`
	Result    *struct{}  `json:"result,omitempty"`
	ID        int64      `json:"id,omitempty"`
}

type bnKline struct {
	StartTime int64  `json:"t"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	IsClosed  bool   `json:"x"`
	LastTrade int64  `json:"L"`
}

func (a *Binance) handleMessage(ctx context.Context, data []byte) {
	var ev bnEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.log.Warn("unparseable frame", slog.String("error", err.Error()))
		return
	}
	if ev.EventType == "" {
		// SUBSCRIBE/UNSUBSCRIBE ack.
		return
	}

	symbol, ok := a.localSymbol(ev.Symbol)
	if !ok {
		a.log.Warn("frame for unknown symbol", slog.String("symbol", ev.Symbol))
		return
	}

	switch ev.EventType {
	case "kline":
		if ev.Kline == nil || ev.Kline.Interval != bnTimeframe {
			return
		}
		candle, err := normaliseBinanceKline(symbol, ev.Kline)
		if err != nil {
			a.log.Warn("bad kline payload",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
			return
		}
		go a.sink.CandleUpdate(ctx, a.exchange.ID, candle, ev.Kline.IsClosed)
	case "24hrMiniTicker":
		ticker, err := normaliseBinanceMiniTicker(symbol, ev)
		if err != nil {
			a.log.Warn("bad miniTicker payload",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
			return
		}
		go a.sink.TickerUpdate(ctx, a.exchange.ID, ticker)
	default:
		a.log.Warn("unknown event type", slog.String("event", ev.EventType))
	}
}

func (a *Binance) localSymbol(native string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.toLocal[native]
	return s, ok
}

// binanceSymbol maps an internal "BASE-QUOTE" symbol to the native pair.
// USD quotes trade as USDT on Binance spot.
func binanceSymbol(symbol string) string {
	base, quote, found := strings.Cut(symbol, "-")
	if !found {
		return strings.ToUpper(symbol)
	}
	if quote == "USD" {
		quote = "USDT"
	}
	return strings.ToUpper(base + quote)
}

func normaliseBinanceKline(symbol string, k *bnKline) (model.Candle, error) {
	o, err := parsePrice(k.Open, "open")
	if err != nil {
		return model.Candle{}, err
	}
	h, err := parsePrice(k.High, "high")
	if err != nil {
		return model.Candle{}, err
	}
	l, err := parsePrice(k.Low, "low")
	if err != nil {
		return model.Candle{}, err
	}
	c, err := parsePrice(k.Close, "close")
	if err != nil {
		return model.Candle{}, err
	}
	v, err := parsePrice(k.Volume, "volume")
	if err != nil {
		return model.Candle{}, err
	}
	return model.Candle{
		Timestamp:   k.StartTime,
		Symbol:      symbol,
		Timeframe:   bnTimeframe,
		Open:        o,
		High:        h,
		Low:         l,
		Close:       c,
		Volume:      v,
		SequenceNum: k.LastTrade,
	}, nil
}

func normaliseBinanceMiniTicker(symbol string, ev bnEvent) (model.Ticker, error) {
	price, err := parsePrice(ev.Close, "close")
	if err != nil {
		return model.Ticker{}, err
	}
	open, err := parsePrice(ev.Open, "open")
	if err != nil {
		return model.Ticker{}, err
	}
	t := model.Ticker{
		Symbol:    symbol,
		Price:     price,
		Change24h: price - open,
		Timestamp: ev.EventTime,
	}
	if open != 0 {
		t.ChangePercent24h = (price - open) / open * 100
	}
	t.High24h, _ = strconv.ParseFloat(ev.High, 64)
	t.Low24h, _ = strconv.ParseFloat(ev.Low, 64)
	t.Volume24h, _ = strconv.ParseFloat(ev.Volume, 64)
	return t, nil
}
