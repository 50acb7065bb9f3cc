// Package monitor streams audit entries to websocket subscribers.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/audit"
)

const writeTimeout = 5 * time.Second

// Message is the websocket frame sent to subscribers.
type Message struct {
	Type  string       `json:"type"`
	Entry *audit.Entry `json:"entry,omitempty"`
}

type client struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans audit entries out to connected clients. A client may subscribe
// to a single chat with the ?chat= query parameter.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a Hub. When allowAllOrigins is false only same-origin
// upgrades are accepted.
func NewHub(allowAllOrigins bool, log *logrus.Entry) *Hub {
	h := &Hub{
		log:     log,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if allowAllOrigins {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return h
}

// RegisterRoutes mounts the feed at /ws/events.
func (h *Hub) RegisterRoutes(r chi.Router) {
	r.Get("/ws/events", h.ServeHTTP)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and keeps it registered until the peer
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, chatID: r.URL.Query().Get("chat")}
	id := fmt.Sprintf("%p", conn)

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"client": id, "chat": c.chatID}).Debug("monitor client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		conn.Close()
		h.log.WithField("client", id).Debug("monitor client disconnected")
	}()

	if data, err := json.Marshal(Message{Type: "status"}); err == nil {
		if err := c.send(data); err != nil {
			return
		}
	}

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("monitor read error")
			}
			return
		}
	}
}

// Publish sends entry to every subscriber whose filter matches.
func (h *Hub) Publish(entry audit.Entry) {
	data, err := json.Marshal(Message{Type: "event", Entry: &entry})
	if err != nil {
		h.log.WithError(err).Warn("failed to encode monitor event")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.chatID == "" || c.chatID == entry.ChatID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(data); err != nil {
			h.log.WithError(err).Debug("failed to write monitor event")
			c.conn.Close()
		}
	}
}
