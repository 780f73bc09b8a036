// Package pubsub runs dedicated Redis pattern subscribers. Each Subscriber
// holds its own connection so the shared command client never enters
// subscriber mode.
package pubsub

import (
	"context"
	"log/slog"
	"sync"

	goredis "github.com/go-redis/redis/v8"
)

// Handler receives one message. Handlers run on their own goroutine; a
// panicking handler is recovered and logged without tearing down the
// subscription.
type Handler func(channel string, payload []byte)

// Conn is the slice of the cache client the subscriber needs.
type Conn interface {
	Duplicate() *goredis.Client
}

// Subscriber consumes one or more channel patterns until stopped.
type Subscriber struct {
	rdb      *goredis.Client
	ps       *goredis.PubSub
	patterns []string
	log      *slog.Logger

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// Subscribe opens a fresh connection, issues PSUBSCRIBE for the patterns and
// starts dispatching. It confirms the subscription before returning so a
// publish immediately after Subscribe is not lost.
func Subscribe(ctx context.Context, conn Conn, log *slog.Logger, handler Handler, patterns ...string) (*Subscriber, error) {
	rdb := conn.Duplicate()
	ps := rdb.PSubscribe(ctx, patterns...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		rdb.Close()
		return nil, err
	}

	s := &Subscriber{
		rdb:      rdb,
		ps:       ps,
		patterns: patterns,
		log:      log,
		done:     make(chan struct{}),
	}
	go s.loop(handler)

	log.Info("subscribed", slog.Any("patterns", patterns))
	return s, nil
}

func (s *Subscriber) loop(handler Handler) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		go s.dispatch(handler, msg.Channel, []byte(msg.Payload))
	}
}

func (s *Subscriber) dispatch(handler Handler, channel string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic",
				slog.String("channel", channel),
				slog.Any("panic", r))
		}
	}()
	handler(channel, payload)
}

// Stop unsubscribes and closes the dedicated connection. In-flight handler
// goroutines are not waited for.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.ps.PUnsubscribe(ctx, s.patterns...); err != nil {
		s.log.Warn("punsubscribe failed", slog.String("error", err.Error()))
	}
	if err := s.ps.Close(); err != nil {
		return err
	}
	<-s.done
	return s.rdb.Close()
}
