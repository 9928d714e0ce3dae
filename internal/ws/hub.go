package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	syncengine "fuelgrid/internal/sync"
)

const (
	writeTimeout        = 5 * time.Second
	defaultPingInterval = 30 * time.Second
)

// Hub fans sync progress events out to connected dashboard clients.
type Hub struct {
	mu           sync.RWMutex
	conns        map[*websocket.Conn]struct{}
	logger       *zap.Logger
	pingInterval time.Duration
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:        make(map[*websocket.Conn]struct{}),
		logger:       logger,
		pingInterval: defaultPingInterval,
	}
}

// Add registers a client connection.
func (h *Hub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

// Remove drops a client connection.
func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Publish implements the engine's progress publisher.
func (h *Hub) Publish(event syncengine.Event) {
	h.broadcast(event)
}

func (h *Hub) broadcast(v any) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(v); err != nil {
			h.logger.Debug("dropping slow ws client", zap.Error(err))
			h.Remove(conn)
			_ = conn.Close()
		}
	}
}

// Start runs the keepalive ping loop until the context ends.
func (h *Hub) Start(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.ping()
		}
	}
}

func (h *Hub) ping() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			h.Remove(conn)
			_ = conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}
