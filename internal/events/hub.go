package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/domain"
)

// Message is the websocket envelope.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Hub broadcasts events to connected websocket clients.
// All client bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan domain.Event
	count      chan chan int
	done       chan struct{}
	logger     logrus.FieldLogger
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan domain.Event, 256),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger.WithField("component", "ws_hub"),
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.closeSend()
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.WithFields(logrus.Fields{"client": c.id, "clients": len(h.clients)}).Info("client connected")
			c.trySend(&Message{Type: "connected", Timestamp: time.Now().Unix()})

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.closeSend()
				h.logger.WithFields(logrus.Fields{"client": c.id, "clients": len(h.clients)}).Info("client disconnected")
			}

		case e := <-h.broadcast:
			msg := &Message{Type: "event." + string(e.Type), Data: e, Timestamp: e.Timestamp}
			for c := range h.clients {
				if !c.wants(e) {
					continue
				}
				if !c.trySend(msg) {
					delete(h.clients, c)
					c.closeSend()
					h.logger.WithField("client", c.id).Warn("send buffer full, disconnecting")
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Emit queues e for broadcast. Drops the event when the queue is full.
func (h *Hub) Emit(_ context.Context, e domain.Event) error {
	select {
	case h.broadcast <- e:
	default:
		h.logger.WithField("event_id", e.ID).Warn("broadcast queue full, event dropped")
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	case <-ctx.Done():
		return 0
	}
}

var _ Sink = (*Hub)(nil)
