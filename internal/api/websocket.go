// Package api provides WebSocket functionality for real-time updates.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSMessage is a WebSocket event frame.
type WSMessage struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// client is one WebSocket connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans engine events out to connected WebSocket clients. It satisfies
// engine.EventSink; Publish never blocks the trading loop.
type Hub struct {
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

// NewHub creates a hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run processes registrations and broadcasts until the process exits.
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("ws client registered", zap.String("id", c.id))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("ws client unregistered", zap.String("id", c.id))

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.publishRaw("heartbeat", nil)
		}
	}
}

// Publish implements engine.EventSink.
func (h *Hub) Publish(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("ws payload marshal failed", zap.Error(err))
		return
	}
	h.publishRaw(event, data)
}

func (h *Hub) publishRaw(event string, data json.RawMessage) {
	msg := WSMessage{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("ws frame marshal failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- frame:
	default:
		// Observers lag; drop rather than stall the publisher.
	}
}

// HandleWebSocket upgrades an HTTP request into a hub client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.register <- c
	go c.writePump(h)
	go c.readPump(h)
}

func (c *client) writePump(h *Hub) {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	// Clients are read-only observers; incoming frames are drained and
	// discarded to detect disconnects.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
