package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	CandleUpdatesTotal *prometheus.CounterVec // labels: exchange
	CandleClosesTotal  *prometheus.CounterVec // labels: exchange, tf
	SyntheticCandles   *prometheus.CounterVec // labels: exchange
	StaleWritesTotal   *prometheus.CounterVec // labels: exchange
	WSReconnects       *prometheus.CounterVec // labels: exchange

	// Aggregation and indicator metrics
	IndicatorsTotal *prometheus.CounterVec // labels: tf, source

	// Alert engine metrics
	AlertsTotal        *prometheus.CounterVec // labels: exchange, label
	NotificationErrors prometheus.Counter

	// Control bus metrics
	CommandsTotal *prometheus.CounterVec // labels: type, status

	// Streaming boundary metrics
	StreamSessions     prometheus.Gauge
	StreamDropsTotal   prometheus.Counter
	StreamMessagesSent prometheus.Counter
}

// New registers and returns all pipeline metrics.
func New() *Metrics {
	m := &Metrics{
		CandleUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_candle_updates_total",
			Help: "Candle updates received from exchange feeds",
		}, []string{"exchange"}),
		CandleClosesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_candle_closes_total",
			Help: "Closed candles written to the cache",
		}, []string{"exchange", "tf"}),
		SyntheticCandles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_synthetic_candles_total",
			Help: "Gap-fill candles inserted",
		}, []string{"exchange"}),
		StaleWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_stale_writes_total",
			Help: "Candle writes rejected as older than the stored latest",
		}, []string{"exchange"}),
		WSReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_ws_reconnects_total",
			Help: "Exchange WebSocket reconnection attempts",
		}, []string{"exchange"}),
		IndicatorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_indicators_total",
			Help: "Indicator records computed (by timeframe and source)",
		}, []string{"tf", "source"}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_alerts_total",
			Help: "Alerts fired (by exchange and trigger label)",
		}, []string{"exchange", "label"}),
		NotificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_notification_errors_total",
			Help: "Alert notification delivery failures",
		}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_commands_total",
			Help: "Control commands processed (by type and terminal status)",
		}, []string{"type", "status"}),

		StreamSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livermore_stream_sessions",
			Help: "Connected WebSocket client sessions",
		}),
		StreamDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_stream_drops_total",
			Help: "Outbound stream messages dropped for slow consumers",
		}),
		StreamMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_stream_messages_sent_total",
			Help: "Outbound stream messages delivered",
		}),
	}

	prometheus.MustRegister(
		m.CandleUpdatesTotal,
		m.CandleClosesTotal,
		m.SyntheticCandles,
		m.StaleWritesTotal,
		m.WSReconnects,
		m.IndicatorsTotal,
		m.AlertsTotal,
		m.NotificationErrors,
		m.CommandsTotal,
		m.StreamSessions,
		m.StreamDropsTotal,
		m.StreamMessagesSent,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	AdapterStates  map[string]string `json:"adapter_states"`
	LastCandleTime time.Time         `json:"last_candle_time"`
	RedisConnected bool              `json:"redis_connected"`
	SQLiteOK       bool              `json:"sqlite_ok"`
	Paused         bool              `json:"paused"`
	Mode           string            `json:"mode"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		AdapterStates: make(map[string]string),
		StartedAt:     time.Now(),
	}
}

func (h *HealthStatus) SetAdapterState(name, state string) {
	h.mu.Lock()
	h.AdapterStates[name] = state
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetPaused(v bool) {
	h.mu.Lock()
	h.Paused = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMode(mode string) {
	h.mu.Lock()
	h.Mode = mode
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial probe and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	anySubscribed := len(h.AdapterStates) == 0
	for _, state := range h.AdapterStates {
		if state == "subscribed" {
			anySubscribed = true
		}
	}
	if !anySubscribed || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string            `json:"status"`
		Uptime          string            `json:"uptime"`
		Mode            string            `json:"mode"`
		Paused          bool              `json:"paused"`
		AdapterStates   map[string]string `json:"adapter_states"`
		LastCandleTime  string            `json:"last_candle_time"`
		CandleAge       string            `json:"candle_age"`
		RedisConnected  bool              `json:"redis_connected"`
		RedisLatencyMs  float64           `json:"redis_latency_ms"`
		SQLiteOK        bool              `json:"sqlite_ok"`
		SQLiteLatencyMs float64           `json:"sqlite_latency_ms"`
		LastCheckAt     string            `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Mode:            h.Mode,
		Paused:          h.Paused,
		AdapterStates:   h.AdapterStates,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	log    *slog.Logger
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		log:    log.With(slog.String("component", "metrics")),
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
