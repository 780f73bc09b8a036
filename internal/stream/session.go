package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	writeTimeout  = 10 * time.Second
	readLimit     = 4096
	sendQueueSize = 256

	// Backpressure thresholds on the outbound buffer: at 64 KB the current
	// message is dropped, at 256 KB the session is terminated.
	skipThreshold = 64 << 10
	killThreshold = 256 << 10
)

// CloseTooManyConnections rejects connections above the per-API-key cap.
const CloseTooManyConnections = 4429

// Outbound server envelope.
type outEnvelope struct {
	Type     string      `json:"type"`
	Channel  string      `json:"channel,omitempty"`
	Channels []string    `json:"channels,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Code     string      `json:"code,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// Inbound client message.
type clientMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Session is one WebSocket peer with its subscription set.
type Session struct {
	hub    *Hub
	conn   *websocket.Conn
	apiKey string
	log    *slog.Logger

	send   chan []byte
	queued int64 // outbound bytes queued, for backpressure

	subMu sync.RWMutex
	subs  map[string]Channel

	closeOnce sync.Once
	done      chan struct{}

	pongSeen int32 // reset before each ping, set by the pong handler
}

func newSession(hub *Hub, conn *websocket.Conn, apiKey string, log *slog.Logger) *Session {
	return &Session{
		hub:    hub,
		conn:   conn,
		apiKey: apiKey,
		log:    log,
		send:   make(chan []byte, sendQueueSize),
		subs:   make(map[string]Channel),
		done:   make(chan struct{}),
	}
}

// matches reports whether any subscription covers the event.
func (s *Session) matches(kind, symbol, tf string) bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		if ch.Matches(kind, symbol, tf) {
			return true
		}
	}
	return false
}

// enqueue queues one outbound payload under the backpressure guards.
func (s *Session) enqueue(payload []byte) {
	queued := atomic.LoadInt64(&s.queued)
	if queued+int64(len(payload)) > killThreshold {
		s.log.Warn("terminating slow consumer",
			slog.String("apiKey", s.apiKey),
			slog.Int64("queuedBytes", queued))
		s.terminate()
		return
	}
	if queued+int64(len(payload)) > skipThreshold {
		s.log.Debug("dropping message for slow consumer",
			slog.Int64("queuedBytes", queued))
		s.notifyDrop()
		return
	}

	atomic.AddInt64(&s.queued, int64(len(payload)))
	select {
	case s.send <- payload:
	default:
		atomic.AddInt64(&s.queued, -int64(len(payload)))
		s.notifyDrop()
	}
}

func (s *Session) notifyDrop() {
	if s.hub != nil && s.hub.OnDrop != nil {
		s.hub.OnDrop()
	}
}

func (s *Session) sendEnvelope(env outEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.enqueue(payload)
}

func (s *Session) terminate() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump owns the socket write side: queued payloads and the heartbeat.
// A ping with no pong since the previous one terminates the session.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.terminate()
	}()

	atomic.StoreInt32(&s.pongSeen, 1)
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			atomic.AddInt64(&s.queued, -int64(len(payload)))
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			if s.hub != nil && s.hub.OnSend != nil {
				s.hub.OnSend()
			}
		case <-ticker.C:
			if atomic.SwapInt32(&s.pongSeen, 0) == 0 {
				s.log.Debug("missed pong, terminating session")
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles subscribe/unsubscribe requests until the peer goes away.
func (s *Session) readPump() {
	defer func() {
		s.hub.removeSession(s)
		s.terminate()
	}()

	s.conn.SetReadLimit(readLimit)
	s.conn.SetPongHandler(func(string) error {
		atomic.StoreInt32(&s.pongSeen, 1)
		return nil
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var req clientMessage
		if err := json.Unmarshal(msg, &req); err != nil {
			s.sendEnvelope(outEnvelope{
				Type: "error", Code: CodeBadRequest, Message: "invalid message",
			})
			continue
		}
		s.handleRequest(req)
	}
}

// handleRequest applies one subscribe/unsubscribe request. A malformed
// channel yields a per-channel error envelope without tearing down the
// session.
func (s *Session) handleRequest(req clientMessage) {
	switch req.Action {
	case "subscribe", "unsubscribe":
	default:
		s.sendEnvelope(outEnvelope{
			Type: "error", Code: CodeBadRequest,
			Message: "action must be subscribe or unsubscribe",
		})
		return
	}

	accepted := make([]string, 0, len(req.Channels))
	for _, name := range req.Channels {
		ch, err := ParseChannel(name)
		if err != nil {
			s.sendEnvelope(outEnvelope{
				Type: "error", Channel: name,
				Code: CodeBadRequest, Message: err.Error(),
			})
			continue
		}
		s.subMu.Lock()
		if req.Action == "subscribe" {
			s.subs[ch.String()] = ch
		} else {
			delete(s.subs, ch.String())
		}
		s.subMu.Unlock()
		accepted = append(accepted, ch.String())
	}

	if len(accepted) > 0 {
		s.sendEnvelope(outEnvelope{Type: req.Action + "d", Channels: accepted})
	}
}
