package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/config"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/adapter"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/aggsvc"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/alert"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/cache"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/control"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/metrics"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/notification"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/registry"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/store/sqlite"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/stream"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/timeframe"
)

func main() {
	cfg := config.Load()
	log := logger.Init("livermore", parseLevel(cfg.LogLevel))
	log.Info("starting")

	exchanges, err := config.LoadExchanges(cfg.ExchangesFile)
	if err != nil {
		log.Error("exchange config failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	symbols := cfg.SymbolList()
	if len(symbols) == 0 {
		log.Error("no symbols configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics and health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	health.SetMode(registry.ModeLive)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	metricsSrv.Start()

	// ---- Cache ----
	client, err := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}, log)
	if err != nil {
		log.Error("redis init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer client.Close()

	// ---- Alert persistence ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	alertStore, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath}, log)
	if err != nil {
		log.Error("sqlite init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer alertStore.Close()

	health.StartLivenessChecker(ctx, client.Redis(), alertStore.DB(), 10*time.Second)

	// ---- Notifications ----
	notifier := buildNotifier(cfg, log)

	// ---- Ingestion ----
	nameByID := make(map[int]string, len(exchanges))
	for _, ex := range exchanges {
		nameByID[ex.ID] = ex.Name
	}
	sink := adapter.NewCacheSink(client, log)
	sink.OnUpdate = func(id int) {
		prom.CandleUpdatesTotal.WithLabelValues(nameByID[id]).Inc()
		health.SetLastCandleTime(time.Now())
	}
	sink.OnClose = func(id int, tf string) {
		prom.CandleClosesTotal.WithLabelValues(nameByID[id], tf).Inc()
	}
	sink.OnStale = func(id int) {
		prom.StaleWritesTotal.WithLabelValues(nameByID[id]).Inc()
	}
	sink.OnSynthetic = func(id int) {
		prom.SyntheticCandles.WithLabelValues(nameByID[id]).Inc()
	}

	reg := registry.New(health, log)
	bridges := make(map[string]*adapter.Bridge, len(exchanges))
	symbolsByID := make(map[int][]string, len(exchanges))

	for _, ex := range exchanges {
		var (
			a       adapter.Adapter
			fetcher adapter.KlineFetcher
		)
		reconnects := prom.WSReconnects.WithLabelValues(ex.Name)
		switch ex.Name {
		case "coinbase":
			creds := adapter.Credentials{
				KeyName:   cfg.CoinbaseKeyName,
				KeySecret: cfg.CoinbaseKeySecret,
			}
			cb := adapter.NewCoinbase(ex, creds, sink, log)
			cb.OnReconnect(reconnects.Inc)
			a = cb
			fetcher = &adapter.CoinbaseKlines{RESTURL: ex.RESTURL}
		case "binance":
			bn := adapter.NewBinance(ex, sink, log)
			bn.OnReconnect(reconnects.Inc)
			a = bn
			fetcher = &adapter.BinanceKlines{RESTURL: ex.RESTURL}
		default:
			log.Warn("no adapter for exchange, skipping", slog.String("exchange", ex.Name))
			continue
		}
		reg.Register(a, symbols)
		bridges[ex.Name] = adapter.NewBridge(ex.ID, fetcher, client, log)
		symbolsByID[ex.ID] = symbols
	}

	// ---- Startup backfill, so indicators are ready before live data ----
	for _, ex := range exchanges {
		bridge, ok := bridges[ex.Name]
		if !ok {
			continue
		}
		for _, symbol := range symbols {
			for _, tf := range ex.SupportedTimeframes {
				if err := bridge.Backfill(ctx, symbol, tf, cfg.BackfillBars); err != nil {
					log.Warn("startup backfill failed",
						slog.String("exchange", ex.Name),
						slog.String("symbol", symbol),
						slog.String("timeframe", tf),
						slog.String("error", err.Error()))
				}
			}
		}
	}

	// ---- Per-exchange aggregation and alerting ----
	// Registered with the registry so pause and resume cover the whole
	// pipeline, not just the adapters.
	for _, ex := range exchanges {
		exName := ex.Name
		agg := aggsvc.New(ex.ID, model.MACDVParams{}, client, log)
		agg.OnIndicator = func(tf, source string) {
			prom.IndicatorsTotal.WithLabelValues(tf, source).Inc()
		}
		reg.RegisterService(agg)

		eng := alert.New(ex.ID, client, alertStore, notifier, log)
		eng.OnAlert = func(label string) {
			prom.AlertsTotal.WithLabelValues(exName, label).Inc()
		}
		eng.OnNotifyError = func() { prom.NotificationErrors.Inc() }
		reg.RegisterService(eng)
	}

	// A symbol added at runtime is backfilled right away so the readiness
	// gate clears without waiting hours of live candles.
	reg.OnSymbolAdded = func(exchange, symbol string) {
		bridge, ok := bridges[exchange]
		if !ok {
			return
		}
		for _, ex := range exchanges {
			if ex.Name != exchange {
				continue
			}
			for _, tf := range ex.SupportedTimeframes {
				if err := bridge.Backfill(ctx, symbol, tf, cfg.BackfillBars); err != nil {
					log.Warn("backfill for added symbol failed",
						slog.String("exchange", exchange),
						slog.String("symbol", symbol),
						slog.String("timeframe", tf),
						slog.String("error", err.Error()))
				}
			}
		}
	}

	// ---- Services and adapters ----
	if err := reg.Start(ctx); err != nil {
		log.Error("pipeline start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// ---- Control bus ----
	bus := control.New(cfg.IdentitySub, client, log)
	bus.OnProcessed = func(cmdType, status string) {
		prom.CommandsTotal.WithLabelValues(cmdType, status).Inc()
	}
	registerHandlers(bus, cfg, reg, bridges, client, exchanges, log)
	if err := bus.Start(ctx); err != nil {
		log.Error("control bus start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// ---- Streaming boundary ----
	hub := stream.NewHub(exchanges, client, log)
	hub.OnSessionChange = func(count int) { prom.StreamSessions.Set(float64(count)) }
	hub.OnSend = prom.StreamMessagesSent.Inc
	hub.OnDrop = prom.StreamDropsTotal.Inc
	if err := hub.Start(ctx); err != nil {
		log.Error("stream hub start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	mux := http.NewServeMux()
	stream.NewServer(exchanges, symbolsByID, client, alertStore, hub, log).Routes(mux)
	streamSrv := &http.Server{Addr: cfg.StreamAddr, Handler: mux}
	go func() {
		log.Info("stream server listening", slog.String("addr", cfg.StreamAddr))
		if err := streamSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("stream server error", slog.String("error", err.Error()))
		}
	}()

	log.Info("pipeline ready",
		slog.Int("exchanges", len(exchanges)),
		slog.Int("symbols", len(symbols)))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	streamSrv.Shutdown(shutdownCtx)
	hub.Stop()
	bus.Stop()
	reg.Stop()
	metricsSrv.Stop(shutdownCtx)
	log.Info("shutdown complete")
}

// registerHandlers binds the control command set to the running services.
func registerHandlers(bus *control.Bus, cfg *config.Config, reg *registry.Registry,
	bridges map[string]*adapter.Bridge, client *cache.Client,
	exchanges []model.Exchange, log *slog.Logger) {

	exchangeID := func(name string) (int, bool) {
		for _, ex := range exchanges {
			if ex.Name == name {
				return ex.ID, true
			}
		}
		return 0, false
	}

	bus.Handle(model.CmdPause, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, reg.Pause()
	})
	bus.Handle(model.CmdResume, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, reg.Resume()
	})

	bus.Handle(model.CmdReloadSettings, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		reloaded, err := config.LoadExchanges(cfg.ExchangesFile)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(reloaded))
		for i, ex := range reloaded {
			names[i] = ex.Name
		}
		log.Info("settings reloaded", slog.String("exchanges", strings.Join(names, ",")))
		return json.Marshal(map[string]interface{}{"exchanges": names})
	})

	bus.Handle(model.CmdSwitchMode, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("switch-mode payload: %w", err)
		}
		return nil, reg.SetMode(p.Mode)
	})

	type symbolPayload struct {
		Exchange string `json:"exchange"`
		Symbol   string `json:"symbol"`
	}
	bus.Handle(model.CmdAddSymbol, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p symbolPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("add-symbol payload: %w", err)
		}
		return nil, reg.AddSymbol(p.Exchange, p.Symbol)
	})
	bus.Handle(model.CmdRemoveSymbol, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p symbolPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("remove-symbol payload: %w", err)
		}
		return nil, reg.RemoveSymbol(p.Exchange, p.Symbol)
	})

	bus.Handle(model.CmdForceBackfill, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p struct {
			Exchange  string `json:"exchange"`
			Symbol    string `json:"symbol"`
			Timeframe string `json:"timeframe"`
			Bars      int    `json:"bars"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("force-backfill payload: %w", err)
		}
		bridge, ok := bridges[p.Exchange]
		if !ok {
			return nil, fmt.Errorf("unknown exchange %q", p.Exchange)
		}
		if !timeframe.IsSupported(p.Timeframe) {
			return nil, fmt.Errorf("invalid timeframe %q", p.Timeframe)
		}
		bars := p.Bars
		if bars <= 0 {
			bars = cfg.BackfillBars
		}
		return nil, bridge.Backfill(ctx, p.Symbol, p.Timeframe, bars)
	})

	bus.Handle(model.CmdClearCache, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p struct {
			Exchange  string `json:"exchange"`
			Symbol    string `json:"symbol"`
			Timeframe string `json:"timeframe"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("clear-cache payload: %w", err)
		}
		id, ok := exchangeID(p.Exchange)
		if !ok {
			return nil, fmt.Errorf("unknown exchange %q", p.Exchange)
		}
		symbol, tf := p.Symbol, p.Timeframe
		if symbol == "" {
			symbol = "*"
		}
		if tf == "" {
			tf = "*"
		}
		deleted := 0
		for _, pattern := range []string{
			cache.CandleKeyPattern(id, symbol, tf),
			cache.IndicatorKeyPattern(id, symbol, tf),
		} {
			n, err := client.ScanDelete(ctx, pattern)
			if err != nil {
				return nil, err
			}
			deleted += n
		}
		return json.Marshal(map[string]int{"deleted": deleted})
	})
}

// buildNotifier picks the first configured delivery channel.
func buildNotifier(cfg *config.Config, log *slog.Logger) notification.Notifier {
	switch {
	case cfg.DiscordWebhookURL != "":
		log.Info("alert notifications via discord webhook")
		return notification.NewDiscordNotifier(cfg.DiscordWebhookURL)
	case cfg.TelegramBotToken != "" && cfg.TelegramChatID != "":
		log.Info("alert notifications via telegram")
		return notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	default:
		log.Info("alert notifications via log only")
		return notification.NewLogNotifier(log)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
