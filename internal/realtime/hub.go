package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sampleday/backend/internal/checkin"
	"github.com/sampleday/backend/internal/favorites"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Events pushed to clients.
const (
	EventCheckInStatus    = "checkin_status"
	EventCheckInError     = "checkin_error"
	EventFavoritesChanged = "favorites_changed"
)

// Hub maintains user_id -> set of connections. A user may be connected from
// several devices; every connection receives that user's events.
// With Redis configured, events are published once and delivered by each
// instance's subscriber so users connected elsewhere also receive them.
type Hub struct {
	users    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per user
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance delivery).
type RedisPublisher interface {
	PublishUserEvent(userID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to user channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeUser(userID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client. Starts the user's Redis subscription on their first connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
		if h.redisSub != nil {
			userID := c.UserID
			cancel, err := h.redisSub.SubscribeUser(userID, func(event string, payload []byte) {
				h.SendToUser(userID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.Error(err), zap.String("user_id", userID.String()))
			} else {
				h.subs[userID] = cancel
			}
		}
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister removes a client. Cancels the Redis subscription when the user's last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.users[c.UserID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.users, c.UserID)
			if cancel, ok := h.subs[c.UserID]; ok {
				cancel()
				delete(h.subs, c.UserID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}

// SendToUser delivers a message to every local connection of the user.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload any) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode realtime payload", zap.Error(err), zap.String("event", event))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.users[userID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishToUser delivers a message to the user on every instance. With Redis
// the local subscriber performs the delivery, so it happens exactly once.
func (h *Hub) PublishToUser(userID uuid.UUID, event string, payload any) {
	if h.redis == nil {
		h.SendToUser(userID, event, payload)
		return
	}
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode realtime payload", zap.Error(err), zap.String("event", event))
		return
	}
	if err := h.redis.PublishUserEvent(userID, event, data); err != nil {
		h.logger.Warn("redis publish failed, delivering locally", zap.Error(err))
		h.SendToUser(userID, event, payload)
	}
}

// ClientCount returns the number of local connections for a user.
func (h *Hub) ClientCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// NotifyCheckIn forwards a check-in status change to the user's connections.
func (h *Hub) NotifyCheckIn(s checkin.Snapshot) {
	h.PublishToUser(s.UserID, EventCheckInStatus, s)
}

// NotifyFavorites forwards a favorites change to the user's connections.
func (h *Hub) NotifyFavorites(c favorites.Change) {
	h.PublishToUser(c.UserID, EventFavoritesChanged, c)
}
