package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/models"
)

// ChangeEvent is the message pushed to change feed clients.
type ChangeEvent struct {
	index.Event
	Timestamp time.Time `json:"timestamp"`
}

// Subscription selects the events a client receives. A nil Network
// matches every network and an empty Kinds every kind. Network-wide
// invalidations carry no kind and reach every subscriber of the network.
type Subscription struct {
	Network uuid.UUID
	Kinds   []models.Kind
}

func (s Subscription) matches(ev index.Event) bool {
	if s.Network != uuid.Nil && ev.Network != s.Network {
		return false
	}
	if len(s.Kinds) == 0 || ev.Kind == "" {
		return true
	}
	for _, k := range s.Kinds {
		if k == ev.Kind {
			return true
		}
	}
	return false
}

// Client represents a WebSocket client connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	sub  Subscription
}

type outbound struct {
	event   index.Event
	message []byte
}

// Hub maintains the set of active clients and broadcasts index changes
type Hub struct {
	logger logrus.FieldLogger

	// Registered clients
	clients map[*Client]bool

	// Outbound events, fanned out to matching clients
	broadcast chan outbound

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done chan struct{}
	once sync.Once

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		logger:     logger.WithField("component", "changefeed"),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop; it returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("clients", n).Debug("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("clients", n).Debug("WebSocket client disconnected")

		case out := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.sub.matches(out.event) {
					continue
				}
				select {
				case client.send <- out.message:
				default:
					// Client is slow or disconnected, remove it
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Listener returns an index listener publishing every event to the hub.
func (h *Hub) Listener() index.Listener {
	return func(ev index.Event) {
		if err := h.BroadcastEvent(ev); err != nil {
			h.logger.WithError(err).Warn("Failed to publish change event")
		}
	}
}

// BroadcastEvent queues ev for every subscribed client. Listeners run on
// the mutating goroutine, so a full queue drops the event instead of
// blocking the index.
func (h *Hub) BroadcastEvent(ev index.Event) error {
	message, err := json.Marshal(ChangeEvent{Event: ev, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- outbound{event: ev, message: message}:
	default:
		h.logger.WithFields(logrus.Fields{"type": ev.Type, "kind": ev.Kind, "id": ev.ID}).Warn("Change feed queue full, dropping event")
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// readPump drains the connection until the peer goes away
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // Deadline errors are handled by ReadMessage
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // Deadline errors are handled by ReadMessage
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Warn("WebSocket read failed")
			}
			return
		}
		// Clients only listen; inbound messages are ignored
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Deadline errors are handled by WriteMessage
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck // Connection is closing, error can be ignored
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Deadline errors are handled by WriteMessage
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
