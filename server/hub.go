package server

import (
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Message is the frame sent to clients over the socket.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub is the connection registry: it tracks which users currently have open
// connections and through which handles. It is owned by the transport
// gateway (only the gateway registers and unregisters); the orchestrator
// only pushes through it. It holds no durable state and is rebuilt empty on
// restart, so clients must reconnect and re-register.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[*Client]struct{}
}

// NewHub creates an empty connection registry.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[uint]map[*Client]struct{}),
	}
}

// Register adds the client to the user's connection set. Registering the
// same client twice is a no-op.
func (h *Hub) Register(userID uint, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[userID] = set
	}
	set[client] = struct{}{}
}

// Unregister removes the client from the user's set, dropping the user
// entry entirely once the set is empty so the map doesn't grow with churn.
// Unknown clients are a no-op.
func (h *Hub) Unregister(userID uint, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

// ClientsFor returns a snapshot of the user's current connections.
func (h *Hub) ClientsFor(userID uint) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.clients[userID]
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	return clients
}

// IsConnected reports whether the user has at least one open connection.
func (h *Hub) IsConnected(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// ConnectedUsers returns the number of distinct users with open connections.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PushToUser sends a frame to every open connection of the user. A handle
// that can't accept the frame is dropped from the registry; delivery to the
// user's other handles continues.
func (h *Hub) PushToUser(userID uint, event string, data interface{}) {
	raw, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		log.WithFields(log.Fields{"event": event, "error": err}).Error("unable to marshal push frame")
		return
	}
	for _, client := range h.ClientsFor(userID) {
		h.deliver(client, raw, event)
	}
}

// Broadcast sends a frame to every open connection of every user.
func (h *Hub) Broadcast(event string, data interface{}) {
	raw, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		log.WithFields(log.Fields{"event": event, "error": err}).Error("unable to marshal push frame")
		return
	}

	h.mu.RLock()
	var clients []*Client
	for _, set := range h.clients {
		for client := range set {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.deliver(client, raw, event)
	}
}

func (h *Hub) deliver(client *Client, raw []byte, event string) {
	if client.enqueue(raw) {
		return
	}
	log.WithFields(log.Fields{
		"handle":  client.ID,
		"user_id": client.UserID,
		"event":   event,
	}).Warn("dropping unresponsive connection")
	h.Unregister(client.UserID, client)
	client.close()
}
