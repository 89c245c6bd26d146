// Package tap is a development tool: a websocket hub broadcasting every
// routed update to connected inspector clients. Slow consumers are
// disconnected rather than ever blocking dispatch.
package tap

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vkbox/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Frame is one inspector message.
type Frame struct {
	DispatchID string          `json:"dispatch_id"`
	Type       string          `json:"type"`
	Object     json.RawMessage `json:"object"`
	ObservedAt time.Time       `json:"observed_at"`
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

// Hub fans routed updates out to inspector connections.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*conn]bool
	publish  chan Frame
	closed   chan struct{}
	once     sync.Once
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		conns:   make(map[*conn]bool),
		publish: make(chan Frame, 256),
		closed:  make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Run drains the publish channel and fans frames out. Call in its own
// goroutine; returns after Close.
func (h *Hub) Run() {
	for {
		select {
		case frame := <-h.publish:
			msg, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.conns {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop the connection, not the event.
					h.mu.RUnlock()
					h.unregister(c)
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		case <-h.closed:
			return
		}
	}
}

// Publish implements the router tap. It never blocks: when the hub is
// saturated the frame is dropped.
func (h *Hub) Publish(dispatchID string, update *model.Update) {
	frame := Frame{
		DispatchID: dispatchID,
		Type:       string(update.Type),
		Object:     update.Object,
		ObservedAt: time.Now().UTC(),
	}
	select {
	case h.publish <- frame:
	default:
	}
}

// Handler upgrades an inspector connection.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("tap upgrade failed", zap.Error(err))
		return
	}

	c := &conn{ws: ws, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
	h.log.Debug("tap client connected", zap.String("remote", r.RemoteAddr))

	go h.writePump(c)
	go h.readPump(c)
}

// Close drops all connections and stops Run.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.closed)
		h.mu.Lock()
		for c := range h.conns {
			close(c.send)
			c.ws.Close()
			delete(h.conns, c)
		}
		h.mu.Unlock()
	})
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if h.conns[c] {
		delete(h.conns, c)
		close(c.send)
		c.ws.Close()
	}
	h.mu.Unlock()
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readPump discards client frames; the tap is broadcast-only, reading just
// keeps pong handling alive and detects disconnects.
func (h *Hub) readPump(c *conn) {
	defer h.unregister(c)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
