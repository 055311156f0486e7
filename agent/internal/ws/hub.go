package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

// Event names published by the daemon.
const (
	EventRanking   = "ranking"
	EventRecruits  = "recruits"
	EventRunFailed = "run_failed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	At    string `json:"at"` // RFC3339
	Data  any    `json:"data"`
}

// RunFailure is the data of an EventRunFailed message.
type RunFailure struct {
	Pipeline string `json:"pipeline"`
	Error    string `json:"error"`
}

// Hub manages WebSocket client connections and fans published events out to
// all of them.
type Hub struct {
	now func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    map[string][]byte // latest encoded message per event
	closed  bool
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{
		now:     time.Now,
		clients: make(map[*client]struct{}),
		last:    make(map[string][]byte),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Publish encodes data under event and sends it to every connected client.
// A client whose buffer is full is disconnected.
func (h *Hub) Publish(event string, data any) error {
	msg, err := json.Marshal(Message{Event: event, At: h.now().UTC().Format(time.RFC3339), Data: data})
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", event, err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.last[event] = msg
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.deliver(c, msg)
	}
	slog.Debug("ws: published", "event", event, "clients", len(targets))
	return nil
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// It replays the latest message of each event, then streams new ones. Blocks
// until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	replay, ok := h.register(c)
	if !ok {
		conn.Close()
		return
	}
	defer h.unregister(c)

	for _, msg := range replay {
		h.deliver(c, msg)
	}

	go c.writePump()
	c.readPump()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

// register adds c and returns the messages to replay, ordered by event name.
func (h *Hub) register(c *client) ([][]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.clients[c] = struct{}{}
	events := make([]string, 0, len(h.last))
	for e := range h.last {
		events = append(events, e)
	}
	slices.Sort(events)
	replay := make([][]byte, 0, len(events))
	for _, e := range events {
		replay = append(replay, h.last[e])
	}
	return replay, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// deliver queues msg for c under the read lock so it never races with the
// channel being closed.
func (h *Hub) deliver(c *client, msg []byte) {
	h.mu.RLock()
	_, live := h.clients[c]
	full := false
	if live {
		select {
		case c.send <- msg:
		default:
			full = true
		}
	}
	h.mu.RUnlock()
	if full {
		slog.Warn("ws: client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames to process control messages and detect disconnects.
// Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
