package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// connConfig parameterises the shared socket manager.
type connConfig struct {
	name string
	url  string

	// header is called before each dial for auth headers. Optional.
	header func() (http.Header, error)

	// onOpen runs after every successful dial, including reconnects. The
	// adapters use it to resubscribe recorded symbols.
	onOpen func() error

	// onMessage receives every raw frame on the read loop.
	onMessage func(ctx context.Context, data []byte)

	// onReconnect is called once per reconnect attempt. Optional.
	onReconnect func()

	log *slog.Logger
}

// wsConn owns the WebSocket lifecycle: dial, watchdog, reconnect with
// backoff, intentional close. Both exchange adapters embed one.
type wsConn struct {
	cfg connConfig

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	intentional bool

	fatal chan error
}

func newWSConn(cfg connConfig) *wsConn {
	return &wsConn{
		cfg:   cfg,
		state: StateDisconnected,
		fatal: make(chan error, 1),
	}
}

func (w *wsConn) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *wsConn) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *wsConn) Fatal() <-chan error { return w.fatal }

// setOnReconnect installs the reconnect hook. Call before connect.
func (w *wsConn) setOnReconnect(f func()) {
	w.mu.Lock()
	w.cfg.onReconnect = f
	w.mu.Unlock()
}

// connect dials the socket and starts the read loop. ctx bounds the whole
// adapter lifetime including reconnects.
func (w *wsConn) connect(ctx context.Context) error {
	w.setState(StateConnecting)
	if err := w.dial(ctx); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("%s dial: %w", w.cfg.name, err)
	}
	w.setState(StateConnected)
	if w.cfg.onOpen != nil {
		if err := w.cfg.onOpen(); err != nil {
			return fmt.Errorf("%s on open: %w", w.cfg.name, err)
		}
	}
	go w.readLoop(ctx)
	return nil
}

func (w *wsConn) dial(ctx context.Context) error {
	var header http.Header
	if w.cfg.header != nil {
		h, err := w.cfg.header()
		if err != nil {
			return err
		}
		header = h
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.cfg.url, header)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	return nil
}

// readLoop reads frames under the silence watchdog. A read deadline acts as
// the watchdog: any 30s window without a frame fails the read and forces a
// reconnect.
func (w *wsConn) readLoop(ctx context.Context) {
	for {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(watchdogTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			intentional := w.intentional
			w.mu.Unlock()
			if intentional || ctx.Err() != nil {
				return
			}
			w.cfg.log.Warn("socket dropped, reconnecting",
				slog.String("adapter", w.cfg.name),
				slog.String("error", err.Error()))
			if !w.reconnect(ctx) {
				return
			}
			continue
		}
		w.cfg.onMessage(ctx, data)
	}
}

// reconnect retries the dial with exponential backoff. Returns false when
// attempts are exhausted; the error is surfaced on the fatal channel for the
// supervisor.
func (w *wsConn) reconnect(ctx context.Context) bool {
	w.setState(StateReconnecting)
	w.closeSocket()

	var lastErr error
	for attempt := 1; attempt <= maxReconnects; attempt++ {
		if w.cfg.onReconnect != nil {
			w.cfg.onReconnect()
		}
		select {
		case <-ctx.Done():
			w.setState(StateDisconnected)
			return false
		case <-time.After(backoffDelay(attempt)):
		}

		w.setState(StateConnecting)
		if err := w.dial(ctx); err != nil {
			lastErr = err
			w.cfg.log.Warn("reconnect attempt failed",
				slog.String("adapter", w.cfg.name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}

		w.setState(StateConnected)
		if w.cfg.onOpen != nil {
			if err := w.cfg.onOpen(); err != nil {
				lastErr = err
				w.cfg.log.Warn("resubscribe after reconnect failed",
					slog.String("adapter", w.cfg.name),
					slog.String("error", err.Error()))
				w.closeSocket()
				continue
			}
		}
		w.cfg.log.Info("reconnected",
			slog.String("adapter", w.cfg.name),
			slog.Int("attempt", attempt))
		return true
	}

	w.setState(StateDisconnected)
	select {
	case w.fatal <- fmt.Errorf("%s: max reconnect attempts reached: %w", w.cfg.name, lastErr):
	default:
	}
	return false
}

// writeJSON serialises the write path; gorilla allows one concurrent writer.
func (w *wsConn) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("%s: not connected", w.cfg.name)
	}
	return w.conn.WriteJSON(v)
}

// disconnect marks the close as intentional so the read loop skips
// reconnection, then closes the socket.
func (w *wsConn) disconnect() error {
	w.mu.Lock()
	w.intentional = true
	w.state = StateDisconnecting
	conn := w.conn
	w.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	w.setState(StateDisconnected)
	return nil
}

func (w *wsConn) closeSocket() {
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
}
