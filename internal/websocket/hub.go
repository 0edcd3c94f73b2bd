package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"ai-research-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BroadcastChannel is the Redis pub/sub channel shared by all instances.
const BroadcastChannel = "research_broadcast"

type broadcastPayload struct {
	Origin  string `json:"origin"`
	Message string `json:"message"`
}

type Hub struct {
	// Registered clients map: UserID -> connections (multi-device)
	clients map[string][]*Client

	mu       sync.RWMutex
	shutdown bool

	// Redis connection for cross-instance broadcasts, nil on a single instance
	rdb        *redis.Client
	instanceID string

	deps   SessionDeps
	logger logger.ILogger
}

func NewHub(rdb *redis.Client, deps SessionDeps, log logger.ILogger) *Hub {
	return &Hub{
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		instanceID: uuid.NewString(),
		deps:       deps,
		logger:     log,
	}
}

// Run relays broadcasts from other instances until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	pubsub := h.rdb.Subscribe(ctx, BroadcastChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload broadcastPayload
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn("Hub", "Redis msg parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if payload.Origin == h.instanceID {
				continue
			}
			h.notifyLocal(payload.Message)
		}
	}
}

func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.clients[c.UserID] = append(h.clients[c.UserID], c)
	h.logger.Info("Hub", "Client registered", map[string]interface{}{"user_id": c.UserID, "client_id": c.ID})
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.clients[c.UserID]
	for i, other := range clients {
		if other == c {
			h.clients[c.UserID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(h.clients[c.UserID]) == 0 {
		delete(h.clients, c.UserID)
		h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"user_id": c.UserID})
	}
}

// Count returns the number of live connections on this instance.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}

// Broadcast appends an operator notice to every live session, here and on
// the other instances.
func (h *Hub) Broadcast(ctx context.Context, message string) error {
	h.notifyLocal(message)

	if h.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(broadcastPayload{Origin: h.instanceID, Message: message})
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, BroadcastChannel, payload).Err()
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var all []*Client
	for _, clients := range h.clients {
		all = append(all, clients...)
	}
	return all
}

func (h *Hub) notifyLocal(message string) {
	for _, c := range h.snapshot() {
		c.protocol.Machine().Notice(message)
	}
}

// Shutdown closes every session and connection and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.shutdown = true
	var all []*Client
	for _, clients := range h.clients {
		all = append(all, clients...)
	}
	h.clients = make(map[string][]*Client)
	h.mu.Unlock()

	for _, c := range all {
		c.protocol.Close()
		c.closeSend()
	}
	h.logger.Info("Hub", "Hub shut down", map[string]interface{}{"sessions_closed": len(all)})
}
