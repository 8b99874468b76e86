// Package websocket provides the WebSocket gateway for group chat clients.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/common/logger"
	ws "github.com/agentarena/agentarena/pkg/websocket"
)

// Hub manages all WebSocket client connections
type Hub struct {
	// All registered clients
	clients map[*Client]bool

	// Clients subscribed to specific groups
	groupSubscribers map[string]map[*Client]bool

	// Channels for client management
	register   chan *Client
	unregister chan *Client

	// Channel for broadcasting notifications to every client
	broadcast chan *ws.Message

	// Message dispatcher
	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:          make(map[*Client]bool),
		groupSubscribers: make(map[string]map[*Client]bool),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		broadcast:        make(chan *ws.Message, 256),
		dispatcher:       dispatcher,
		logger:           log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

// closeAllClients closes all client connections
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.groupSubscribers = make(map[string]map[*Client]bool)
}

// removeClient removes a client from the hub
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		// Remove from all group subscriptions
		for groupID := range client.subscriptions {
			if clients, ok := h.groupSubscribers[groupID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.groupSubscribers, groupID)
				}
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// broadcastMessage sends a message to every connected client
func (h *Hub) broadcastMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, will be cleaned up by write pump
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a notification to all connected clients
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- msg
}

// BroadcastToGroup sends a notification to clients subscribed to a group.
// A subscriber whose send buffer is full is dropped from the hub rather
// than allowed to stall the group's fan-out.
func (h *Hub) BroadcastToGroup(groupID string, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	var stalled []*Client
	h.mu.RLock()
	for client := range h.groupSubscribers[groupID] {
		select {
		case client.send <- data:
		default:
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stalled {
		h.logger.Warn("Dropping slow group subscriber",
			zap.String("client_id", client.ID),
			zap.String("group_id", groupID))
		h.Unregister(client)
	}
}

// SubscribeToGroup subscribes a client to a group's notifications
func (h *Hub) SubscribeToGroup(client *Client, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.groupSubscribers[groupID]; !ok {
		h.groupSubscribers[groupID] = make(map[*Client]bool)
	}
	h.groupSubscribers[groupID][client] = true
	client.subscriptions[groupID] = true

	h.logger.Debug("Client subscribed to group",
		zap.String("client_id", client.ID),
		zap.String("group_id", groupID))
}

// UnsubscribeFromGroup unsubscribes a client from a group's notifications
func (h *Hub) UnsubscribeFromGroup(client *Client, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, groupID)
	if clients, ok := h.groupSubscribers[groupID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groupSubscribers, groupID)
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetGroupSubscriberCount returns the number of clients subscribed to a group
func (h *Hub) GetGroupSubscriberCount(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groupSubscribers[groupID])
}

// GetDispatcher returns the message dispatcher
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}
