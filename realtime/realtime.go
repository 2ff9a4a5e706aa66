package realtime

import (
	"context"
	"sync"

	"registrar/services"

	"github.com/sirupsen/logrus"
)

// Conn is the part of a websocket connection the hub writes to
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Hub fans registration events out to the websocket clients watching each registration
type Hub struct {
	mu        sync.Mutex
	clients   map[string]map[Conn]bool // Map of registration ID to connected clients
	broadcast chan services.RegistrationEvent
	log       logrus.FieldLogger
}

func NewHub(buffer int, logger logrus.FieldLogger) *Hub {
	return &Hub{
		clients:   make(map[string]map[Conn]bool),
		broadcast: make(chan services.RegistrationEvent, buffer),
		log:       logger.WithField("component", "realtime"),
	}
}

// Register adds a client to a specific registration
func (h *Hub) Register(registrationID string, conn Conn) {
	h.mu.Lock()
	if h.clients[registrationID] == nil {
		h.clients[registrationID] = make(map[Conn]bool)
	}
	h.clients[registrationID][conn] = true
	h.mu.Unlock()
}

// Unregister removes a client from a specific registration
func (h *Hub) Unregister(registrationID string, conn Conn) {
	h.mu.Lock()
	if clients, exists := h.clients[registrationID]; exists {
		delete(clients, conn)
		if len(clients) == 0 {
			delete(h.clients, registrationID)
		}
	}
	h.mu.Unlock()
}

// Publish queues an event without blocking the caller, events are dropped when the hub lags
func (h *Hub) Publish(event services.RegistrationEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.log.WithField("registration_id", event.RegistrationID).Warn("Realtime buffer full, event dropped")
	}
}

// Run delivers queued events until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) deliver(event services.RegistrationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, exists := h.clients[event.RegistrationID]
	if !exists {
		return
	}
	for client := range clients {
		if err := client.WriteJSON(event); err != nil {
			h.log.WithError(err).Debug("WebSocket write error")
			client.Close()
			delete(clients, client)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, event.RegistrationID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, clients := range h.clients {
		for client := range clients {
			client.Close()
		}
		delete(h.clients, id)
	}
}

// Subscribers returns the number of clients watching a registration
func (h *Hub) Subscribers(registrationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[registrationID])
}

var _ services.Notifier = (*Hub)(nil)
