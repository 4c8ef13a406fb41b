// Package events pushes refresh progress and session notifications to browser clients over WebSocket.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/stocktop/pkg/logger"
)

// Outbound message types
const (
	TypeRefreshTick     = "refresh_tick"
	TypeRefreshSettled  = "refresh_settled"
	TypeSessionExpired  = "session_expired"
	TypeSnapshotUpdated = "snapshot_updated"
)

// Inbound message types
const (
	TypeActivity   = "activity"
	TypeVisibility = "visibility"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 90 * time.Second
	pingInterval = 45 * time.Second
	sendBuffer   = 64
)

// Message is one frame sent to the browser
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Inbound is one frame received from the browser
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	out  chan Message
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks open connections per client id
// ⭐ SSOT: 브라우저 푸시는 이 허브를 통해서만
type Hub struct {
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:  log.Component("events"),
		clients: make(map[*client]struct{}),
	}
}

// Broadcast queues msg for every connection. Slow connections drop the message.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.out <- msg:
		default:
		}
	}
}

// Send queues msg for the connections of one client and returns how many received it
func (h *Hub) Send(clientID string, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients {
		if c.id != clientID {
			continue
		}
		select {
		case c.out <- msg:
			sent++
		default:
		}
	}
	return sent
}

// Count returns the number of open connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects everyone
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.close()
		c.conn.Close()
		delete(h.clients, c)
	}
}

// ServeWS upgrades the request and serves it until the browser disconnects.
// onMessage (optional) receives inbound frames on the reader goroutine.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientID string, onMessage func(Inbound)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	c := &client{
		id:   clientID,
		conn: conn,
		out:  make(chan Message, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.WithField("client_id", clientID).Debug("WebSocket connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()

		c.close()
		conn.Close()
		h.logger.WithField("client_id", clientID).Debug("WebSocket disconnected")
	}()

	go h.writeLoop(c)
	h.readLoop(c, onMessage)
}

func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.conn.Close()
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) readLoop(c *client, onMessage func(Inbound)) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// 브라우저 메시지도 연결이 살아있다는 신호
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if mt != websocket.TextMessage || onMessage == nil {
			continue
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			h.logger.WithField("client_id", c.id).Debug("Ignoring malformed WebSocket frame")
			continue
		}
		onMessage(in)
	}
}
