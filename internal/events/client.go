package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dextra-ledger/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// subscription narrows the events a client receives. Empty sets match everything.
type subscription struct {
	types map[domain.EventType]bool
	pools map[uint64]bool
}

// Client is one websocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	send chan *Message

	sendMu sync.Mutex
	closed bool

	mu  sync.RWMutex
	sub subscription
}

// ServeWS upgrades the request and registers the connection with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		hub:  h,
		send: make(chan *Message, sendBuffer),
		sub: subscription{
			types: make(map[domain.EventType]bool),
			pools: make(map[uint64]bool),
		},
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *Client) wants(e domain.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.sub.types) > 0 && !c.sub.types[e.Type] {
		return false
	}
	if len(c.sub.pools) > 0 && !c.sub.pools[e.PoolID] {
		return false
	}
	return true
}

// trySend queues m without blocking. Fails when the buffer is full or closed.
func (c *Client) trySend(m *Message) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump handles subscription requests until the connection fails.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).WithField("client", c.id).Warn("websocket read failed")
			}
			return
		}
		c.handle(data)
	}
}

// writePump forwards queued messages and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// request is a client message: {"type":"subscribe","event":"claim","pool_id":0}.
type request struct {
	Type   string  `json:"type"`
	Event  string  `json:"event,omitempty"`
	PoolID *uint64 `json:"pool_id,omitempty"`
}

func (c *Client) handle(data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		c.trySend(&Message{Type: "error", Data: "malformed message", Timestamp: time.Now().Unix()})
		return
	}

	c.mu.Lock()
	switch req.Type {
	case "subscribe":
		if req.Event != "" {
			c.sub.types[domain.EventType(req.Event)] = true
		}
		if req.PoolID != nil {
			c.sub.pools[*req.PoolID] = true
		}
	case "unsubscribe":
		if req.Event != "" {
			delete(c.sub.types, domain.EventType(req.Event))
		}
		if req.PoolID != nil {
			delete(c.sub.pools, *req.PoolID)
		}
	case "ping":
	default:
		c.mu.Unlock()
		c.trySend(&Message{Type: "error", Data: "unknown message type " + req.Type, Timestamp: time.Now().Unix()})
		return
	}
	c.mu.Unlock()

	reply := "pong"
	if req.Type != "ping" {
		reply = req.Type + "d"
	}
	c.trySend(&Message{Type: reply, Data: req, Timestamp: time.Now().Unix()})
}
