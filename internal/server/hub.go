package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/voicecap/internal/session"
)

const (
	writeWait = 5 * time.Second

	// Events a subscriber may fall behind by before it is dropped
	sendQueueSize = 64
)

// Event types pushed to feed subscribers
const (
	EventTranscript = "transcript"
	EventState      = "state"
	EventError      = "error"
)

// Event is one message on the transcript feed
type Event struct {
	Type       string    `json:"type"`
	Transcript string    `json:"transcript,omitempty"`
	From       string    `json:"from,omitempty"`
	State      string    `json:"state,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan Event
}

// writeLoop drains the send queue onto the connection until the hub closes it
func (s *subscriber) writeLoop(logger *slog.Logger) {
	defer s.conn.Close()

	for ev := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(ev); err != nil {
			logger.Debug("Feed write failed",
				slog.String("subscriber_id", s.id),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(writeWait))
}

// Hub fans transcript feed events out to websocket subscribers. Each
// subscriber has its own queue and writer, so Broadcast never waits on
// the network.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	subscribers map[string]*subscriber
	mu          sync.RWMutex
}

// NewHub creates an empty feed hub. Browser clients must be same-host or
// listed in allowedOrigins.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, allowedOrigins)
			},
		},
		subscribers: make(map[string]*subscriber),
	}
}

// ServeHTTP upgrades the request and keeps the subscriber until it disconnects.
// Incoming messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("origin", r.Header.Get("Origin")),
			slog.String("error", err.Error()),
		)
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Event, sendQueueSize),
	}
	h.add(sub)
	go sub.writeLoop(h.logger)
	defer h.remove(sub)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast queues ev for every subscriber without blocking. A subscriber
// whose queue is full is dropped.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var slow []*subscriber

	h.mu.RLock()
	for _, sub := range h.subscribers {
		select {
		case sub.send <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("Dropping slow feed subscriber",
			slog.String("subscriber_id", sub.id),
			slog.Int("queued", len(sub.send)),
		)
		h.remove(sub)
	}
}

// SessionCallbacks publishes session events on the feed
func (h *Hub) SessionCallbacks() session.Callbacks {
	return session.Callbacks{
		OnTranscription: func(text string) {
			h.Broadcast(Event{Type: EventTranscript, Transcript: text})
		},
		OnError: func(err error) {
			h.Broadcast(Event{Type: EventError, Error: err.Error()})
		},
		OnStateChange: func(from, to session.State) {
			h.Broadcast(Event{Type: EventState, From: from.String(), State: to.String()})
		},
	}
}

// Count returns the number of connected subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close flushes every subscriber queue and disconnects them
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subscribers {
		close(sub.send)
		delete(h.subscribers, id)
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Info("Feed subscriber connected",
		slog.String("subscriber_id", sub.id),
		slog.Int("subscribers", count),
	)
}

// remove drops sub and abandons whatever is still queued for it
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub.id]
	if ok {
		delete(h.subscribers, sub.id)
		close(sub.send)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}

	if sub.conn != nil {
		sub.conn.Close()
	}
	h.logger.Info("Feed subscriber disconnected",
		slog.String("subscriber_id", sub.id),
		slog.Int("subscribers", count),
	)
}
