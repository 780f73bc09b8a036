// Package control runs the priority-ordered command bus: one subscriber per
// identity on the command channel, ACK/expiry semantics, and strictly
// sequential execution in priority order.
package control

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/cache"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/pubsub"
)

// commandExpiry bounds how stale a command may be before it is rejected.
const commandExpiry = 30 * time.Second

// staticPriority orders command types; lower runs first.
var staticPriority = map[string]int{
	model.CmdPause:          1,
	model.CmdResume:         1,
	model.CmdReloadSettings: 10,
	model.CmdSwitchMode:     10,
	model.CmdAddSymbol:      15,
	model.CmdRemoveSymbol:   15,
	model.CmdForceBackfill:  20,
	model.CmdClearCache:     20,
}

// Handler executes one command. The returned data, if any, is attached to
// the success response.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

type publishFunc func(ctx context.Context, channel string, payload []byte) error

// Bus is the per-identity command bus.
type Bus struct {
	identitySub string
	client      *cache.Client
	log         *slog.Logger
	publish     publishFunc
	now         func() time.Time

	// OnProcessed is an optional hook called with the command type and its
	// terminal status. Set before Start.
	OnProcessed func(cmdType, status string)

	mu       sync.Mutex
	handlers map[string]Handler
	queue    cmdQueue
	seq      int64
	seen     map[string]time.Time // correlation id -> first delivery
	cond     *sync.Cond
	stopped  bool
	sub      *pubsub.Subscriber
}

// New builds the bus for one identity sub.
func New(identitySub string, client *cache.Client, log *slog.Logger) *Bus {
	b := &Bus{
		identitySub: identitySub,
		client:      client,
		log:         log.With(slog.String("component", "control"), slog.String("sub", identitySub)),
		now:         time.Now,
		handlers:    make(map[string]Handler),
		seen:        make(map[string]time.Time),
	}
	if client != nil {
		b.publish = client.Publish
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Handle registers the handler for a command type. Must be called before
// Start.
func (b *Bus) Handle(cmdType string, h Handler) {
	b.mu.Lock()
	b.handlers[cmdType] = h
	b.mu.Unlock()
}

// Start subscribes to the command channel and starts the worker.
func (b *Bus) Start(ctx context.Context) error {
	sub, err := pubsub.Subscribe(ctx, b.client, b.log, func(_ string, payload []byte) {
		b.onCommand(ctx, payload)
	}, cache.CommandChannel(b.identitySub))
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	go b.worker(ctx)
	return nil
}

// Stop unsubscribes and stops the worker after the current command.
func (b *Bus) Stop() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.stopped = true
	b.cond.Broadcast()
	b.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Stop()
}

// onCommand validates, acks and enqueues one inbound message. Schema
// failures are dropped without response; expired commands get an error
// response and no ack.
func (b *Bus) onCommand(ctx context.Context, payload []byte) {
	var cmd model.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.log.Warn("dropping malformed command", slog.String("error", err.Error()))
		return
	}
	if cmd.CorrelationID == "" || cmd.Timestamp <= 0 {
		b.log.Warn("dropping command failing schema validation", slog.String("type", cmd.Type))
		return
	}
	prio, known := staticPriority[cmd.Type]
	if !known {
		b.log.Warn("dropping command of unknown type", slog.String("type", cmd.Type))
		return
	}
	if cmd.Priority > 0 {
		prio = cmd.Priority
	}

	// Pub/sub delivery is best-effort; a redelivered command must not be
	// ACKed or executed a second time. Retention matches the command age
	// bound: anything older fails the expiry check on its own.
	now := b.now()
	b.mu.Lock()
	for id, at := range b.seen {
		if now.Sub(at) > commandExpiry {
			delete(b.seen, id)
		}
	}
	if _, dup := b.seen[cmd.CorrelationID]; dup {
		b.mu.Unlock()
		b.log.Warn("dropping redelivered command",
			slog.String("type", cmd.Type),
			slog.String("correlationId", cmd.CorrelationID))
		return
	}
	b.seen[cmd.CorrelationID] = now
	b.mu.Unlock()

	if now.UnixMilli()-cmd.Timestamp > commandExpiry.Milliseconds() {
		b.respond(ctx, cmd.CorrelationID, model.StatusError, nil, "Command expired")
		return
	}

	b.respond(ctx, cmd.CorrelationID, model.StatusAck, nil, "")

	b.mu.Lock()
	b.seq++
	heap.Push(&b.queue, &queueItem{cmd: cmd, priority: prio, seq: b.seq})
	b.cond.Signal()
	b.mu.Unlock()
}

// worker drains the queue strictly one command at a time.
func (b *Bus) worker(ctx context.Context) {
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.stopped {
			b.cond.Wait()
		}
		if b.stopped {
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
		b.processNext(ctx)
	}
}

// processNext executes the highest-priority pending command and publishes
// its terminal response. Returns false when the queue is empty.
func (b *Bus) processNext(ctx context.Context) bool {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return false
	}
	item := heap.Pop(&b.queue).(*queueItem)
	handler := b.handlers[item.cmd.Type]
	b.mu.Unlock()

	cmd := item.cmd
	// Handlers see the correlation id as the trace id so their own store
	// and log calls can be tied back to the command.
	ctx = logger.WithTraceID(ctx, cmd.CorrelationID)
	if handler == nil {
		b.respond(ctx, cmd.CorrelationID, model.StatusError, nil,
			fmt.Sprintf("no handler for %s", cmd.Type))
		b.processed(cmd.Type, model.StatusError)
		return true
	}

	data, err := handler(ctx, cmd.Payload)
	if err != nil {
		b.log.Warn("command failed",
			slog.String("type", cmd.Type),
			slog.String("correlationId", cmd.CorrelationID),
			slog.String("error", err.Error()))
		b.respond(ctx, cmd.CorrelationID, model.StatusError, nil, err.Error())
		b.processed(cmd.Type, model.StatusError)
		return true
	}
	b.respond(ctx, cmd.CorrelationID, model.StatusSuccess, data, "")
	b.processed(cmd.Type, model.StatusSuccess)
	return true
}

func (b *Bus) processed(cmdType, status string) {
	if b.OnProcessed != nil {
		b.OnProcessed(cmdType, status)
	}
}

func (b *Bus) respond(ctx context.Context, correlationID, status string, data json.RawMessage, message string) {
	resp := model.CommandResponse{
		CorrelationID: correlationID,
		Status:        status,
		Data:          data,
		Message:       message,
		Timestamp:     b.now().UnixMilli(),
	}
	channel := cache.ResponseChannel(b.identitySub)
	if err := b.publish(ctx, channel, resp.JSON()); err != nil {
		b.log.Error("response publish failed",
			slog.String("status", status),
			slog.String("error", err.Error()))
	}
}
