package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/cache"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/pubsub"
)

// maxConnsPerKey caps concurrent sessions per API key.
const maxConnsPerKey = 5

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans internal candle-close and alert events out to client sessions.
// One shared subscriber per exchange serves every session.
type Hub struct {
	exchanges []model.Exchange
	client    *cache.Client
	log       *slog.Logger

	// Optional instrumentation hooks, set before Start.
	OnSessionChange func(count int)
	OnSend          func()
	OnDrop          func()

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	perKey   map[string]int
	subs     []*pubsub.Subscriber
}

// NewHub builds the hub over the active exchange set.
func NewHub(exchanges []model.Exchange, client *cache.Client, log *slog.Logger) *Hub {
	return &Hub{
		exchanges: exchanges,
		client:    client,
		log:       log.With(slog.String("component", "stream")),
		sessions:  make(map[*Session]struct{}),
		perKey:    make(map[string]int),
	}
}

// Start opens the shared subscribers, one candle and one alert subscription
// per exchange.
func (h *Hub) Start(ctx context.Context) error {
	for _, ex := range h.exchanges {
		ex := ex
		candleSub, err := pubsub.Subscribe(ctx, h.client, h.log, func(channel string, payload []byte) {
			h.onCandleClose(channel, payload)
		}, cache.CandleClosePattern(ex.ID))
		if err != nil {
			return err
		}
		alertSub, err := pubsub.Subscribe(ctx, h.client, h.log, func(_ string, payload []byte) {
			h.onAlert(ex.Name, payload)
		}, cache.AlertChannel(ex.ID))
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.subs = append(h.subs, candleSub, alertSub)
		h.mu.Unlock()
	}
	return nil
}

// Stop closes the shared subscribers and terminates every session.
func (h *Hub) Stop() error {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, s := range sessions {
		s.terminate()
	}
	return firstErr
}

func (h *Hub) onCandleClose(channel string, payload []byte) {
	symbol, tf, ok := cache.ParseCandleCloseChannel(channel)
	if !ok {
		return
	}
	var c model.Candle
	if err := json.Unmarshal(payload, &c); err != nil {
		h.log.Warn("unparseable candle event", slog.String("error", err.Error()))
		return
	}

	env := outEnvelope{
		Type:    "candle_close",
		Channel: KindCandles + ":" + symbol + ":" + tf,
		Data:    TransformCandle(c),
	}
	h.fanout(KindCandles, symbol, tf, env)
}

func (h *Hub) onAlert(exchangeName string, payload []byte) {
	var rec model.AlertRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		h.log.Warn("unparseable alert event", slog.String("error", err.Error()))
		return
	}

	env := outEnvelope{
		Type:    "trade_signal",
		Channel: KindSignals + ":" + rec.Symbol + ":" + rec.Timeframe,
		Data:    TransformAlert(rec, exchangeName),
	}
	h.fanout(KindSignals, rec.Symbol, rec.Timeframe, env)
}

func (h *Hub) fanout(kind, symbol, tf string, env outEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if s.matches(kind, symbol, tf) {
			s.enqueue(payload)
		}
	}
}

// HandleWS upgrades the connection and registers a session. Connections
// above the per-API-key cap are closed with code 4429.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = r.URL.Query().Get("api_key")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	if h.perKey[apiKey] >= maxConnsPerKey {
		h.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseTooManyConnections, "connection limit reached"))
		conn.Close()
		return
	}
	h.perKey[apiKey]++
	s := newSession(h, conn, apiKey, h.log)
	h.sessions[s] = struct{}{}
	count := len(h.sessions)
	h.mu.Unlock()

	h.log.Info("ws client connected",
		slog.String("apiKey", apiKey),
		slog.Int("sessions", count))
	if h.OnSessionChange != nil {
		h.OnSessionChange(count)
	}

	go s.writePump()
	go s.readPump()
}

func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		h.perKey[s.apiKey]--
		if h.perKey[s.apiKey] <= 0 {
			delete(h.perKey, s.apiKey)
		}
	}
	count := len(h.sessions)
	h.mu.Unlock()
	h.log.Info("ws client disconnected", slog.Int("sessions", count))
	if h.OnSessionChange != nil {
		h.OnSessionChange(count)
	}
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
