package registry

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/adapter"
)

type fakeAdapter struct {
	name  string
	fatal chan error

	mu          sync.Mutex
	state       adapter.State
	subscribed  map[string]bool
	subscribes  int
	unsubscribe int
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:       name,
		fatal:      make(chan error, 1),
		state:      adapter.StateDisconnected,
		subscribed: make(map[string]bool),
	}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = adapter.StateConnected
	return nil
}

func (f *fakeAdapter) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		f.subscribed[s] = true
	}
	f.subscribes++
	f.state = adapter.StateSubscribed
	return nil
}

func (f *fakeAdapter) Unsubscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		delete(f.subscribed, s)
	}
	f.unsubscribe++
	if len(f.subscribed) == 0 {
		f.state = adapter.StateConnected
	}
	return nil
}

func (f *fakeAdapter) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = adapter.StateDisconnected
	return nil
}

func (f *fakeAdapter) State() adapter.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAdapter) Fatal() <-chan error { return f.fatal }

func (f *fakeAdapter) has(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[symbol]
}

type fakeService struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (f *fakeService) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.starts++
	return nil
}

func (f *fakeService) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
	return nil
}

func (f *fakeService) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func testRegistry(t *testing.T) (*Registry, *fakeAdapter) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	r := New(nil, log)
	a := newFakeAdapter("coinbase")
	r.Register(a, []string{"BTC-USD", "ETH-USD"})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return r, a
}

func TestStart_SubscribesInitialSymbols(t *testing.T) {
	_, a := testRegistry(t)
	if !a.has("BTC-USD") || !a.has("ETH-USD") {
		t.Errorf("initial symbols not subscribed: %v", a.subscribed)
	}
	if a.State() != adapter.StateSubscribed {
		t.Errorf("state = %s", a.State())
	}
}

func TestPauseResume(t *testing.T) {
	r, a := testRegistry(t)

	if err := r.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if a.has("BTC-USD") {
		t.Error("symbols should be unsubscribed while paused")
	}
	if !r.Paused() {
		t.Error("registry should report paused")
	}

	// Pause again is a no-op.
	before := a.unsubscribe
	if err := r.Pause(); err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if a.unsubscribe != before {
		t.Error("second pause should not touch the adapter")
	}

	if err := r.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !a.has("BTC-USD") || !a.has("ETH-USD") {
		t.Errorf("resume should restore the symbol set: %v", a.subscribed)
	}
}

func TestPauseStopsServices_ResumeRestarts(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	r := New(nil, log)
	a := newFakeAdapter("coinbase")
	svc := &fakeService{}
	r.Register(a, []string{"BTC-USD"})
	r.RegisterService(svc)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !svc.isRunning() {
		t.Fatal("service should be running after Start")
	}

	if err := r.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if svc.isRunning() {
		t.Error("pause must stop the registered services")
	}

	// Pause again is a no-op.
	if err := r.Pause(); err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if svc.stops != 1 {
		t.Errorf("service stopped %d times, want 1", svc.stops)
	}

	if err := r.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !svc.isRunning() {
		t.Error("resume must restart the services")
	}
	if svc.starts != 2 {
		t.Errorf("service started %d times, want 2", svc.starts)
	}

	r.Stop()
	if svc.isRunning() {
		t.Error("stop must stop the services")
	}
}

func TestAddSymbol_FiresBackfillHook(t *testing.T) {
	r, _ := testRegistry(t)

	var added [][2]string
	r.OnSymbolAdded = func(exchange, symbol string) {
		added = append(added, [2]string{exchange, symbol})
	}

	if err := r.AddSymbol("coinbase", "SOL-USD"); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	if len(added) != 1 || added[0] != [2]string{"coinbase", "SOL-USD"} {
		t.Fatalf("hook calls = %v, want one for coinbase SOL-USD", added)
	}

	// A duplicate add is a no-op and must not refire the hook.
	if err := r.AddSymbol("coinbase", "SOL-USD"); err != nil {
		t.Fatalf("duplicate AddSymbol: %v", err)
	}
	if len(added) != 1 {
		t.Errorf("hook calls = %d after duplicate add, want 1", len(added))
	}

	if err := r.AddSymbol("kraken", "BTC-USD"); err == nil {
		t.Error("unknown exchange should error")
	}
	if len(added) != 1 {
		t.Errorf("hook calls = %d after failed add, want 1", len(added))
	}
}

func TestAddRemoveSymbol(t *testing.T) {
	r, a := testRegistry(t)

	if err := r.AddSymbol("coinbase", "SOL-USD"); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	if !a.has("SOL-USD") {
		t.Error("added symbol not subscribed")
	}

	// Duplicate add does not resubscribe.
	before := a.subscribes
	if err := r.AddSymbol("coinbase", "SOL-USD"); err != nil {
		t.Fatalf("duplicate AddSymbol: %v", err)
	}
	if a.subscribes != before {
		t.Error("duplicate add should be a no-op")
	}

	if err := r.RemoveSymbol("coinbase", "SOL-USD"); err != nil {
		t.Fatalf("RemoveSymbol: %v", err)
	}
	if a.has("SOL-USD") {
		t.Error("removed symbol still subscribed")
	}

	if err := r.AddSymbol("kraken", "BTC-USD"); err == nil {
		t.Error("unknown exchange should error")
	}
}

func TestAddSymbolWhilePaused_DefersSubscribe(t *testing.T) {
	r, a := testRegistry(t)

	if err := r.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := r.AddSymbol("coinbase", "SOL-USD"); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	if a.has("SOL-USD") {
		t.Error("symbol must not be subscribed while paused")
	}

	if err := r.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !a.has("SOL-USD") {
		t.Error("resume should pick up the symbol added while paused")
	}
}

func TestSetMode(t *testing.T) {
	r, _ := testRegistry(t)

	if r.Mode() != ModeLive {
		t.Errorf("default mode = %q", r.Mode())
	}
	if err := r.SetMode(ModePaper); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if r.Mode() != ModePaper {
		t.Errorf("mode = %q after switch", r.Mode())
	}
	if err := r.SetMode("backtest"); err == nil {
		t.Error("unknown mode should error")
	}
}

func TestSymbols_Sorted(t *testing.T) {
	r, _ := testRegistry(t)
	got := r.Symbols("coinbase")
	if len(got) != 2 || got[0] != "BTC-USD" || got[1] != "ETH-USD" {
		t.Errorf("Symbols = %v", got)
	}
	if r.Symbols("kraken") != nil {
		t.Error("unknown exchange should yield nil")
	}
}
