// -----------------------------------------------------------------------
// WebSocketHandler - Job event stream
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsMessage is the wire frame pushed to every connected client.
type wsMessage struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// WebSocketHandler streams job lifecycle events to connected clients. Each
// connection has its own write mutex; gorilla connections do not allow
// concurrent writers.
type WebSocketHandler struct {
	logger        arbor.ILogger
	events        interfaces.EventService
	clients       map[*websocket.Conn]bool
	clientMutex   map[*websocket.Conn]*sync.Mutex
	mu            sync.RWMutex
	allowedEvents map[string]bool // empty = allow all
}

// NewWebSocketHandler creates the stream handler and subscribes it to the
// job lifecycle events.
func NewWebSocketHandler(events interfaces.EventService, cfg *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:        logger,
		events:        events,
		clients:       make(map[*websocket.Conn]bool),
		clientMutex:   make(map[*websocket.Conn]*sync.Mutex),
		allowedEvents: make(map[string]bool),
	}

	if cfg != nil && len(cfg.AllowedEvents) > 0 {
		for _, eventType := range cfg.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobSubmitted,
		interfaces.EventJobStateChanged,
		interfaces.EventJobPackaged,
	} {
		_ = events.Subscribe(eventType, h.onEvent)
	}

	return h
}

// HandleWebSocket upgrades GET /ws and keeps the connection until the client
// goes away. The read loop only drains control frames.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().
		Str("remote", r.RemoteAddr).
		Int("clients", count).
		Msg("WebSocket client connected")

	defer h.removeClient(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) onEvent(ctx context.Context, event interfaces.Event) error {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[string(event.Type)] {
		return nil
	}
	h.broadcast(wsMessage{
		Event:     string(event.Type),
		Timestamp: time.Now().UTC(),
		Payload:   event.Payload,
	})
	return nil
}

func (h *WebSocketHandler) broadcast(msg wsMessage) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := h.writeTo(conn, msg); err != nil {
			h.logger.Debug().Err(err).Msg("WebSocket write failed, dropping client")
			h.removeClient(conn)
		}
	}
}

func (h *WebSocketHandler) writeTo(conn *websocket.Conn, msg wsMessage) error {
	h.mu.RLock()
	mutex, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	mutex.Lock()
	defer mutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().
		Int("clients", count).
		Msg("WebSocket client disconnected")
}
