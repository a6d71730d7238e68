package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	// writeWait bounds a single frame write
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before it is dropped
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait
	pingPeriod = (pongWait * 9) / 10

	// clientBuffer is the per-connection send queue; a client that cannot
	// drain it is dropped rather than backpressuring the event bus
	clientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard is same-host; extension and dev UIs connect cross-origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one connected dashboard client with its own write pump
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHandler streams job lifecycle events to connected clients
type WebSocketHandler struct {
	logger arbor.ILogger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewWebSocketHandler creates the handler and subscribes it to every job
// event type on the bus.
func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger) (*WebSocketHandler, error) {
	h := &WebSocketHandler{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}

	eventTypes := []models.EventType{
		models.EventJobStarted,
		models.EventJobStateChanged,
		models.EventJobProgress,
		models.EventJobCompleted,
		models.EventJobFailed,
		models.EventMaintenanceRun,
	}
	for _, et := range eventTypes {
		if err := events.Subscribe(et, h.onEvent); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// HandleWebSocket handles GET /ws and upgrades the connection
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("WebSocket client connected")

	go h.writePump(client)
	go h.readPump(client)
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close drops every connected client
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
}

// onEvent receives bus events and fans them out to connected clients
func (h *WebSocketHandler) onEvent(_ context.Context, event models.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

func (h *WebSocketHandler) broadcast(data []byte) {
	h.mu.Lock()
	var slow []*wsClient
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn().Msg("Dropping slow WebSocket client")
		h.drop(c)
	}
}

// drop unregisters a client and closes its connection; safe to call twice
func (h *WebSocketHandler) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	close(c.send)
	c.conn.Close()
}

// writePump serializes all writes to one connection and drives keepalive pings
func (h *WebSocketHandler) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readPump discards inbound frames; its job is pong handling and noticing
// that the peer went away
func (h *WebSocketHandler) readPump(c *wsClient) {
	defer h.drop(c)

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
