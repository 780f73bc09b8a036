package stream

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/cache"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/timeframe"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500

	// Fixed-window REST rate limit per caller.
	rateWindow   = time.Minute
	rateRequests = 300
)

// AlertReader is the slice of the alert store the REST surface needs.
type AlertReader interface {
	Recent(ctx context.Context, exchangeID int, limit int) ([]model.AlertRecord, error)
	RecentForSymbol(ctx context.Context, exchangeID int, symbol, tf string, limit int) ([]model.AlertRecord, error)
}

// PublicExchange is the whitelisted exchange descriptor.
type PublicExchange struct {
	ID                  int      `json:"id"`
	Name                string   `json:"name"`
	DisplayName         string   `json:"display_name"`
	SupportedTimeframes []string `json:"supported_timeframes"`
	IsActive            bool     `json:"is_active"`
}

// Server is the public REST surface.
type Server struct {
	exchanges []model.Exchange
	symbols   map[int][]string
	candles   *cache.CandleStore
	alerts    AlertReader
	hub       *Hub
	log       *slog.Logger
	limiter   *rateLimiter
	now       func() time.Time
}

// NewServer builds the REST surface. symbols maps exchange id to its
// configured symbol set.
func NewServer(exchanges []model.Exchange, symbols map[int][]string, client *cache.Client, alerts AlertReader, hub *Hub, log *slog.Logger) *Server {
	return &Server{
		exchanges: exchanges,
		symbols:   symbols,
		candles:   cache.NewCandleStore(client),
		alerts:    alerts,
		hub:       hub,
		log:       log.With(slog.String("component", "rest")),
		limiter:   newRateLimiter(rateRequests, rateWindow),
		now:       time.Now,
	}
}

// Routes registers the public endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/candles", s.limited(s.handleCandles))
	mux.HandleFunc("/api/v1/exchanges", s.limited(s.handleExchanges))
	mux.HandleFunc("/api/v1/symbols", s.limited(s.handleSymbols))
	mux.HandleFunc("/api/v1/alerts", s.limited(s.handleAlerts))
	mux.HandleFunc("/api/v1/signals", s.limited(s.handleSignals))
	if s.hub != nil {
		mux.HandleFunc("/api/v1/stream", s.hub.HandleWS)
	}
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get("X-API-Key")
		if caller == "" {
			caller = r.RemoteAddr
		}
		if !s.limiter.allow(caller, s.now()) {
			writeError(w, CodeRateLimited, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	ex, err := s.exchangeParam(r)
	if err != nil {
		code, msg := sanitise(err)
		writeError(w, code, msg)
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if !symbolPattern.MatchString(symbol) {
		writeError(w, CodeBadRequest, "symbol: invalid")
		return
	}
	tf := r.URL.Query().Get("timeframe")
	if tf == "" {
		tf = "5m"
	}
	if !timeframe.IsSupported(tf) {
		writeError(w, CodeBadRequest, "timeframe: invalid")
		return
	}
	limit := pageSize(r)

	from := int64(0)
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		ts, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			writeError(w, CodeBadRequest, "cursor: invalid")
			return
		}
		from = ts + 1
	}

	// Fetch one past the page to detect more.
	candles, err := s.candles.RangeByTime(r.Context(), ex.ID, symbol, tf, from, s.now().UnixMilli(), limit+1)
	if err != nil {
		s.log.Error("candle read failed", slog.String("error", err.Error()))
		writeError(w, CodeInternal, "internal error")
		return
	}

	hasMore := len(candles) > limit
	if hasMore {
		candles = candles[:limit]
	}
	data := make([]PublicCandle, len(candles))
	for i, c := range candles {
		data[i] = TransformCandle(c)
	}

	meta := Meta{Count: len(data), HasMore: hasMore}
	if hasMore && len(candles) > 0 {
		cursor := strconv.FormatInt(candles[len(candles)-1].Timestamp, 10)
		meta.NextCursor = &cursor
	}
	writeSuccess(w, data, meta)
}

func (s *Server) handleExchanges(w http.ResponseWriter, _ *http.Request) {
	data := make([]PublicExchange, 0, len(s.exchanges))
	for _, ex := range s.exchanges {
		data = append(data, PublicExchange{
			ID:                  ex.ID,
			Name:                ex.Name,
			DisplayName:         ex.DisplayName,
			SupportedTimeframes: ex.SupportedTimeframes,
			IsActive:            ex.IsActive,
		})
	}
	writeSuccess(w, data, Meta{Count: len(data)})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	ex, err := s.exchangeParam(r)
	if err != nil {
		code, msg := sanitise(err)
		writeError(w, code, msg)
		return
	}
	symbols := s.symbols[ex.ID]
	writeSuccess(w, symbols, Meta{Count: len(symbols)})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ex, err := s.exchangeParam(r)
	if err != nil {
		code, msg := sanitise(err)
		writeError(w, code, msg)
		return
	}

	records, err := s.alerts.Recent(r.Context(), ex.ID, pageSize(r))
	if err != nil {
		s.log.Error("alert read failed", slog.String("error", err.Error()))
		writeError(w, CodeInternal, "internal error")
		return
	}
	s.writeSignals(w, records, ex.Name)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	ex, err := s.exchangeParam(r)
	if err != nil {
		code, msg := sanitise(err)
		writeError(w, code, msg)
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if !symbolPattern.MatchString(symbol) {
		writeError(w, CodeBadRequest, "symbol: invalid")
		return
	}
	tf := r.URL.Query().Get("timeframe")
	if tf != "" && !timeframe.IsSupported(tf) {
		writeError(w, CodeBadRequest, "timeframe: invalid")
		return
	}

	records, err := s.alerts.RecentForSymbol(r.Context(), ex.ID, symbol, tf, pageSize(r))
	if err != nil {
		s.log.Error("signal read failed", slog.String("error", err.Error()))
		writeError(w, CodeInternal, "internal error")
		return
	}
	s.writeSignals(w, records, ex.Name)
}

func (s *Server) writeSignals(w http.ResponseWriter, records []model.AlertRecord, exchangeName string) {
	data := make([]PublicSignal, len(records))
	for i, rec := range records {
		data[i] = TransformAlert(rec, exchangeName)
	}
	writeSuccess(w, data, Meta{Count: len(data)})
}

// exchangeParam resolves the exchange query parameter by name or id.
func (s *Server) exchangeParam(r *http.Request) (model.Exchange, error) {
	name := r.URL.Query().Get("exchange")
	if name == "" {
		return model.Exchange{}, badRequest("exchange", "required")
	}
	for _, ex := range s.exchanges {
		if ex.Name == name || strconv.Itoa(ex.ID) == name {
			return ex, nil
		}
	}
	return model.Exchange{}, badRequest("exchange", "unknown")
}

func pageSize(r *http.Request) int {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}

// rateLimiter is a fixed-window counter per caller.
type rateLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	counts  map[string]int
	started time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:    max,
		window: window,
		counts: make(map[string]int),
	}
}

func (l *rateLimiter) allow(caller string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.started) >= l.window {
		l.counts = make(map[string]int)
		l.started = now
	}
	l.counts[caller]++
	return l.counts[caller] <= l.max
}
