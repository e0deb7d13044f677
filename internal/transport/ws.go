package transport

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/emergency-dispatch/internal/models"
)

// Session is one live websocket connection. Writes are serialized with a
// mutex because gorilla/websocket allows only one concurrent writer.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(out models.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(out)
}

// Hub maps connection ids to sessions. It is the delivery half of the
// transport boundary: the coordinator decides who gets what, the hub only
// pushes frames to single identities.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]*Session), logger: logger}
}

func (h *Hub) Add(connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[connID] = &Session{conn: conn}
}

func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, connID)
}

// Send delivers one frame to one connection, fire-and-forget. Delivery
// failures are logged and dropped; the core never tracks outcomes.
func (h *Hub) Send(connID string, out models.Outbound) {
	h.mu.RLock()
	s, ok := h.sessions[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.Send(out); err != nil {
		h.logger.Warn("ws send failed", "conn_id", connID, "event", out.Event, "error", err)
	}
}

// Broadcast delivers one frame to every live connection, registered or not.
// Used for global notices like the driver count.
func (h *Hub) Broadcast(out models.Outbound) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		if err := s.Send(out); err != nil {
			h.logger.Warn("ws broadcast send failed", "event", out.Event, "error", err)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
