// Package server implements the change notification server.
//
// Attached processes connect over a websocket and receive every change and
// error message the watcher emits. A new connection first receives the
// current record set so it can install it.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zot/hotmod/internal/config"
	"github.com/zot/hotmod/internal/module"
	"github.com/zot/hotmod/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// SnapshotFunc returns the record set a new connection starts from.
type SnapshotFunc func() module.RecordSet

// connection serialises writes to one websocket.
type connection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *connection) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub handles websocket connections of attached processes.
type Hub struct {
	config      *config.Config
	snapshot    SnapshotFunc
	connections map[string]*connection // connectionID -> conn
	mu          sync.RWMutex
}

// NewHub creates a hub. snapshot may be nil.
func NewHub(cfg *config.Config, snapshot SnapshotFunc) *Hub {
	return &Hub{
		config:      cfg,
		snapshot:    snapshot,
		connections: make(map[string]*connection),
	}
}

// Log logs a message via the config.
func (h *Hub) Log(level int, format string, args ...any) {
	h.config.Log(level, format, args...)
}

// HandleWebSocket upgrades a request and registers the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log(0, "WebSocket upgrade failed: %v", err)
		return
	}

	connectionID := uuid.NewString()
	c := &connection{conn: conn}

	// Broadcasts wait until the initial state is written.
	c.mu.Lock()
	h.mu.Lock()
	h.connections[connectionID] = c
	h.mu.Unlock()
	err = h.sendInitial(c)
	c.mu.Unlock()
	if err != nil {
		h.Log(0, "WebSocket initial state for %s failed: %v", connectionID, err)
		h.onDisconnect(connectionID)
		conn.Close()
		return
	}

	h.Log(1, "WebSocket connected: conn=%s from %s", connectionID, r.RemoteAddr)

	go h.readPump(connectionID, conn)
}

// readPump drains a connection until it closes. Attached processes do not
// send messages; reading keeps control frames flowing.
func (h *Hub) readPump(connectionID string, conn *websocket.Conn) {
	defer func() {
		h.onDisconnect(connectionID)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.Log(0, "WebSocket error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) onDisconnect(connectionID string) {
	h.mu.Lock()
	delete(h.connections, connectionID)
	h.mu.Unlock()

	h.Log(1, "WebSocket disconnected: conn=%s", connectionID)
}

// sendInitial writes the current record set. The caller holds c.mu.
func (h *Hub) sendInitial(c *connection) error {
	if h.snapshot == nil {
		return nil
	}
	set := h.snapshot()
	if len(set) == 0 {
		return nil
	}
	msg, err := protocol.NewChange(set)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcast sends a message to every connection. Connections that fail to
// receive it are closed.
func (h *Hub) Broadcast(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns := make(map[string]*connection, len(h.connections))
	for id, c := range h.connections {
		conns[id] = c
	}
	h.mu.RUnlock()

	if h.config.Verbosity() >= 3 {
		h.Log(3, "[OUT] %s: to=%d connections data=%s", strings.ToUpper(string(msg.Type)), len(conns), string(msg.Data))
	} else {
		h.Log(2, "[OUT] %s: to=%d connections", strings.ToUpper(string(msg.Type)), len(conns))
	}

	for id, c := range conns {
		if err := c.write(data); err != nil {
			h.Log(1, "WebSocket send to %s failed: %v", id, err)
			c.conn.Close()
		}
	}
	return nil
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.connections {
		c.conn.Close()
		delete(h.connections, id)
	}
}
