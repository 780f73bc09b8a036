// Package adapter ingests native candle and ticker streams from exchange
// WebSocket APIs, normalises them and hands them to the cache sink. One
// adapter per exchange family; each owns its socket, its watchdog and its
// tier-1 write path.
package adapter

import (
	"context"
	"time"
)

// State is the adapter connection state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateSubscribed    State = "subscribed"
	StateReconnecting  State = "reconnecting"
	StateDisconnecting State = "disconnecting"
)

// Reconnect policy shared by all adapters.
const (
	watchdogTimeout = 30 * time.Second
	backoffBase     = 1 * time.Second
	backoffCap      = 5 * time.Second
	maxReconnects   = 10
)

// Adapter is the common capability set over exchange families.
type Adapter interface {
	// Name returns the exchange name ("coinbase", "binance").
	Name() string

	// Connect opens the WebSocket, authenticates if required and starts
	// the watchdog. The context bounds the whole adapter lifetime.
	Connect(ctx context.Context) error

	// Subscribe sends subscribe frames for the native candle and ticker
	// channels and records the symbols for resubscribe on reconnect.
	Subscribe(symbols []string) error

	// Unsubscribe mirrors Subscribe.
	Unsubscribe(symbols []string) error

	// Disconnect marks the close as intentional and closes the socket.
	Disconnect() error

	// State reports the current connection state.
	State() State

	// Fatal delivers at most one error when reconnection gives up.
	Fatal() <-chan error
}

// backoffDelay returns the delay before reconnect attempt n (1-based),
// exponential with a cap.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}
