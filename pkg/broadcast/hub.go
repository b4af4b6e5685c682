// Package broadcast pushes new-incident events to connected dashboard
// clients over websockets. Broadcasting with no subscribers is a no-op.
package broadcast

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// Envelope is the wire format of a broadcast message.
type Envelope struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks connected websocket subscribers and fans events out to them.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]bool
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

// NewHub creates an empty Hub.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades the request and keeps the connection registered until
// the client disconnects. Mount it on the dashboard websocket route.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("Failed to upgrade websocket")
		return
	}
	h.register(conn)
	h.log.WithField("clients", h.Clients()).Info("Dashboard client connected")

	defer func() {
		h.unregister(conn)
		conn.Close()
		h.log.WithField("clients", h.Clients()).Info("Dashboard client disconnected")
	}()

	// Subscribers never send application data; the read loop only detects
	// disconnects and answers control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends the event to every connected client. Clients whose write
// fails are dropped.
func (h *Hub) Broadcast(event string, payload any) {
	env := Envelope{Event: event, Payload: payload, Timestamp: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(env); err != nil {
			h.log.WithError(err).Warn("Dropping unresponsive dashboard client")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}
