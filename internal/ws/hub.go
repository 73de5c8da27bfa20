// Package ws pushes newly ingested telemetry to WebSocket subscribers.
package ws

import (
	"context"
	"encoding/json"

	"github.com/motionlab-io/motiond/internal/logger"
	"github.com/motionlab-io/motiond/internal/models"
)

// Hub tracks connected clients and fans ingested records out to them. The
// feed is best-effort: a slow client loses frames, the write path never
// blocks on a subscriber.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// Closed when Run exits so connection goroutines never block on a hub
	// that has stopped consuming.
	done chan struct{}
}

// NewHub creates an idle hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Publish queues a record for broadcast. Drops the frame when the hub is
// backlogged.
func (h *Hub) Publish(record models.TelemetryRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		logger.Error("Failed to encode record %s for broadcast: %v", record.ID, err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logger.Debug("Dropping broadcast frame: hub backlog full")
	}
}

// Run owns the client set until ctx is canceled. All client registration,
// removal, and fan-out happens on this goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			logger.Debug("WebSocket client connected (%d total)", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				logger.Debug("WebSocket client disconnected (%d total)", len(h.clients))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer: cut it loose rather than stall the hub.
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}
