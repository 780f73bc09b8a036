// Package registry tracks the running exchange adapters and their symbol
// sets and exposes the lifecycle operations the control bus drives:
// pause, resume, mode switches and symbol membership changes.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/adapter"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/metrics"
)

// Operating modes.
const (
	ModeLive  = "live"
	ModePaper = "paper"
)

type entry struct {
	adapter adapter.Adapter
	symbols map[string]struct{}
}

// Service is a subscriber-driven pipeline component the registry starts and
// stops alongside the adapters: the aggregation service and the alert
// engine. Both restart cleanly after Stop.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

// Registry owns the adapter and service set for one deployment.
type Registry struct {
	log    *slog.Logger
	health *metrics.HealthStatus

	// OnSymbolAdded is an optional hook called after a new symbol is
	// tracked, outside the registry lock. The process wiring uses it to
	// kick off a backfill so the readiness gate clears without waiting
	// for live candles. Set before Start.
	OnSymbolAdded func(exchange, symbol string)

	mu       sync.Mutex
	entries  map[string]*entry
	services []Service
	runCtx   context.Context
	mode     string
	paused   bool
}

// New builds an empty registry in live mode. health may be nil.
func New(health *metrics.HealthStatus, log *slog.Logger) *Registry {
	return &Registry{
		log:     log.With(slog.String("component", "registry")),
		health:  health,
		entries: make(map[string]*entry),
		mode:    ModeLive,
	}
}

// Register adds an adapter and its initial symbol set. Must be called
// before Start.
func (r *Registry) Register(a adapter.Adapter, symbols []string) {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	r.mu.Lock()
	r.entries[a.Name()] = &entry{adapter: a, symbols: set}
	r.mu.Unlock()
}

// RegisterService adds a pausable service. Must be called before Start.
func (r *Registry) RegisterService(s Service) {
	r.mu.Lock()
	r.services = append(r.services, s)
	r.mu.Unlock()
}

// Start starts the registered services, then connects and subscribes every
// adapter and begins watching each one's fatal channel. Services start
// first so no close event fans out without its consumers.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runCtx = ctx
	for _, s := range r.services {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
	}
	for name, e := range r.entries {
		if err := e.adapter.Connect(ctx); err != nil {
			return fmt.Errorf("connect %s: %w", name, err)
		}
		if err := e.adapter.Subscribe(symbolList(e.symbols)); err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		r.recordState(name, e.adapter.State())
		go r.watchFatal(ctx, e.adapter)
	}
	return nil
}

// Stop disconnects every adapter and stops the services. Errors are logged,
// not returned; a shutdown should not stall on one bad socket.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		if err := e.adapter.Disconnect(); err != nil {
			r.log.Warn("adapter disconnect failed",
				slog.String("exchange", name),
				slog.String("error", err.Error()))
		}
		r.recordState(name, adapter.StateDisconnected)
	}
	r.stopServices()
}

func (r *Registry) stopServices() {
	for _, s := range r.services {
		if err := s.Stop(); err != nil {
			r.log.Warn("service stop failed", slog.String("error", err.Error()))
		}
	}
}

func (r *Registry) watchFatal(ctx context.Context, a adapter.Adapter) {
	select {
	case <-ctx.Done():
	case err, ok := <-a.Fatal():
		if !ok {
			return
		}
		r.log.Error("adapter gave up reconnecting",
			slog.String("exchange", a.Name()),
			slog.String("error", err.Error()))
		r.recordState(a.Name(), adapter.StateDisconnected)
	}
}

// Pause unsubscribes every adapter without tearing down the sockets and
// stops the services. The command channel stays live. Idempotent.
func (r *Registry) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return nil
	}
	for name, e := range r.entries {
		if err := e.adapter.Unsubscribe(symbolList(e.symbols)); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", name, err)
		}
		r.recordState(name, e.adapter.State())
	}
	r.stopServices()
	r.paused = true
	if r.health != nil {
		r.health.SetPaused(true)
	}
	r.log.Info("ingestion paused")
	return nil
}

// Resume restarts the services and restores the subscriptions dropped by
// Pause. Idempotent.
func (r *Registry) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return nil
	}
	for _, s := range r.services {
		if err := s.Start(r.runCtx); err != nil {
			return fmt.Errorf("restart service: %w", err)
		}
	}
	for name, e := range r.entries {
		if err := e.adapter.Subscribe(symbolList(e.symbols)); err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		r.recordState(name, e.adapter.State())
	}
	r.paused = false
	if r.health != nil {
		r.health.SetPaused(false)
	}
	r.log.Info("ingestion resumed")
	return nil
}

// Paused reports whether ingestion is paused.
func (r *Registry) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Mode returns the current operating mode.
func (r *Registry) Mode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// SetMode switches between live and paper mode.
func (r *Registry) SetMode(mode string) error {
	if mode != ModeLive && mode != ModePaper {
		return fmt.Errorf("unknown mode %q", mode)
	}
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
	if r.health != nil {
		r.health.SetMode(mode)
	}
	r.log.Info("mode switched", slog.String("mode", mode))
	return nil
}

// AddSymbol subscribes one more symbol on the named exchange and fires the
// OnSymbolAdded hook. Adding a symbol that is already tracked is a no-op.
func (r *Registry) AddSymbol(exchange, symbol string) error {
	r.mu.Lock()
	e, ok := r.entries[exchange]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown exchange %q", exchange)
	}
	if _, tracked := e.symbols[symbol]; tracked {
		r.mu.Unlock()
		return nil
	}
	if !r.paused {
		if err := e.adapter.Subscribe([]string{symbol}); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("subscribe %s on %s: %w", symbol, exchange, err)
		}
	}
	e.symbols[symbol] = struct{}{}
	hook := r.OnSymbolAdded
	r.mu.Unlock()

	r.log.Info("symbol added",
		slog.String("exchange", exchange), slog.String("symbol", symbol))
	if hook != nil {
		hook(exchange, symbol)
	}
	return nil
}

// RemoveSymbol unsubscribes one symbol on the named exchange.
func (r *Registry) RemoveSymbol(exchange, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[exchange]
	if !ok {
		return fmt.Errorf("unknown exchange %q", exchange)
	}
	if _, tracked := e.symbols[symbol]; !tracked {
		return nil
	}
	if !r.paused {
		if err := e.adapter.Unsubscribe([]string{symbol}); err != nil {
			return fmt.Errorf("unsubscribe %s on %s: %w", symbol, exchange, err)
		}
	}
	delete(e.symbols, symbol)
	r.log.Info("symbol removed",
		slog.String("exchange", exchange), slog.String("symbol", symbol))
	return nil
}

// Symbols returns the tracked symbols for one exchange, sorted.
func (r *Registry) Symbols(exchange string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[exchange]
	if !ok {
		return nil
	}
	return symbolList(e.symbols)
}

func (r *Registry) recordState(name string, state adapter.State) {
	if r.health != nil {
		r.health.SetAdapterState(name, string(state))
	}
}

func symbolList(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
