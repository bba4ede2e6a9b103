package progress

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer = 64
	writeWait  = 5 * time.Second
)

// Hub broadcasts events as JSON text messages to connected WebSocket
// clients. It is an http.Handler: mount it on the path clients connect to.
//
// Each client has a bounded send queue; when it is full, events for that
// client are dropped so a slow client never stalls the batch.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*client]bool
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub returns a Hub that accepts connections from any origin. Messages
// about its own clients are logged to logger, or the standard logger if nil.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger,
		clients: make(map[*client]bool),
	}
}

// ServeHTTP upgrades the request and registers the client until it
// disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[WARN] progress: websocket upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Printf("[INFO] progress: client connected, %d total", n)

	go h.writePump(c)
	go h.readPump(c)
}

// writePump sends queued messages until the queue is closed.
func (h *Hub) writePump(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Printf("[WARN] progress: sending to client: %v", err)
			h.unregister(c)
			break
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.conn.Close()
}

// readPump discards client messages and unregisters the client once the
// connection fails.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.unregister(c)
			return
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.once.Do(func() { close(c.send) })
	if ok {
		h.logger.Printf("[INFO] progress: client disconnected, %d remaining", n)
	}
}

// Publish queues e for every connected client without blocking.
func (h *Hub) Publish(e Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		h.logger.Printf("[ERROR] progress: encoding event: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Dropped for this client only.
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]bool)
	h.mu.Unlock()
	for _, c := range clients {
		c.once.Do(func() { close(c.send) })
	}
}
