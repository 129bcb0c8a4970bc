package ws

import (
	"sync"

	"github.com/avask/ringline/internal/core/domain"
	"github.com/avask/ringline/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Hub is the connection registry and fan-out. It owns the mapping from
// logical targets to the clients subscribed to them. One connection per
// user: registering a second connection for the same user closes the
// previous one. Implements port.Gateway.
type Hub struct {
	mu      sync.Mutex
	clients map[domain.UserID]port.Client
	targets map[domain.Target]map[domain.UserID]port.Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[domain.UserID]port.Client),
		targets: make(map[domain.Target]map[domain.UserID]port.Client),
	}
}

// Register adds the client and subscribes it to its personal target.
func (h *Hub) Register(c port.Client) {
	uid := c.UserID()

	h.mu.Lock()
	if old, ok := h.clients[uid]; ok {
		h.dropLocked(old)
	}
	h.clients[uid] = c
	h.subscribeLocked(uid, domain.UserTarget(uid))
	h.mu.Unlock()

	log.Info().Str("user_id", uid.String()).Msg("Client registered")
}

// Unregister removes the client and all its subscriptions. A stale
// unregister for an already-replaced connection is a no-op.
func (h *Hub) Unregister(c port.Client) {
	uid := c.UserID()

	h.mu.Lock()
	if cur, ok := h.clients[uid]; !ok || cur != c {
		h.mu.Unlock()
		return
	}
	h.dropLocked(c)
	h.mu.Unlock()

	log.Info().Str("user_id", uid.String()).Msg("Client unregistered")
}

// Subscribe adds a target to the user's subscription set, idempotently.
// Authorization is the caller's problem.
func (h *Hub) Subscribe(user domain.UserID, target domain.Target) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[user]; !ok {
		return
	}
	h.subscribeLocked(user, target)
}

func (h *Hub) Unsubscribe(user domain.UserID, target domain.Target) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.targets[target]; ok {
		delete(subs, user)
		if len(subs) == 0 {
			delete(h.targets, target)
		}
	}
}

// Publish delivers the event to every client subscribed to the target.
func (h *Hub) Publish(target domain.Target, ev domain.Event) {
	h.publish(target, nil, ev)
}

// PublishExcept is Publish minus one user, for sender-excluding relays.
func (h *Hub) PublishExcept(target domain.Target, except domain.UserID, ev domain.Event) {
	h.publish(target, &except, ev)
}

func (h *Hub) publish(target domain.Target, except *domain.UserID, ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for uid, client := range h.targets[target] {
		if except != nil && uid == *except {
			continue
		}
		if err := client.Send(ev); err != nil {
			log.Error().Err(err).Str("user_id", uid.String()).Str("event", ev.Name).Msg("Error sending event")
			h.dropLocked(client)
		}
	}
}

// Broadcast delivers the event to every connected client.
func (h *Hub) Broadcast(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for uid, client := range h.clients {
		if err := client.Send(ev); err != nil {
			log.Error().Err(err).Str("user_id", uid.String()).Str("event", ev.Name).Msg("Error broadcasting event")
			h.dropLocked(client)
		}
	}
}

// Stop disconnects all clients.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		h.dropLocked(client)
	}
}

func (h *Hub) subscribeLocked(user domain.UserID, target domain.Target) {
	subs, ok := h.targets[target]
	if !ok {
		subs = make(map[domain.UserID]port.Client)
		h.targets[target] = subs
	}
	subs[user] = h.clients[user]
}

func (h *Hub) dropLocked(c port.Client) {
	uid := c.UserID()
	if cur, ok := h.clients[uid]; ok && cur == c {
		delete(h.clients, uid)
	}
	for target, subs := range h.targets {
		if sub, ok := subs[uid]; ok && sub == c {
			delete(subs, uid)
			if len(subs) == 0 {
				delete(h.targets, target)
			}
		}
	}
	c.Close()
}
