package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akimenko/authd/internal/logger"
	"github.com/akimenko/authd/internal/models"
)

const (
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventUserRegistered = "user_registered"
)

// Event is the wire format pushed to every connected client.
type Event struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
	User EventUser `json:"user"`
}

type EventUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func eventUser(p models.Principal) EventUser {
	return EventUser{
		ID:          p.ID.String(),
		Email:       p.Email,
		DisplayName: p.DisplayName(),
	}
}

// client is one websocket session attached to the hub.
//
// Send is never closed by the hub: broadcasters may hold a reference
// concurrently with shutdown, so termination is signalled through done.
type client struct {
	id        string
	principal models.Principal
	send      chan Event

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(principal models.Principal, queueSize int) *client {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &client{
		id:        uuid.NewString(),
		principal: principal,
		send:      make(chan Event, queueSize),
		done:      make(chan struct{}),
	}
}

func (c *client) doneCh() <-chan struct{} { return c.done }

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub tracks connected clients and which users are online.
//
// A user is online while at least one of their connections is attached,
// so presence events fire on the first join and the last leave only.
type Hub struct {
	logger logger.Logger

	mu      sync.RWMutex
	clients map[string]*client
	online  map[uuid.UUID]int
}

func NewHub(logger logger.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*client),
		online:  make(map[uuid.UUID]int),
	}
}

// join attaches the client and announces the user when this is their
// first connection. Returns the list of users already online so the
// new client can build its initial presence view.
func (h *Hub) join(c *client) []EventUser {
	h.mu.Lock()
	snapshot := make([]EventUser, 0, len(h.online))
	seen := make(map[uuid.UUID]struct{}, len(h.online))
	for _, other := range h.clients {
		if _, ok := seen[other.principal.ID]; ok {
			continue
		}
		seen[other.principal.ID] = struct{}{}
		snapshot = append(snapshot, eventUser(other.principal))
	}

	h.clients[c.id] = c
	h.online[c.principal.ID]++
	first := h.online[c.principal.ID] == 1
	h.mu.Unlock()

	if first {
		h.Broadcast(Event{Type: EventUserOnline, TS: time.Now().UTC(), User: eventUser(c.principal)})
	}
	return snapshot
}

// leave detaches the client and announces the user offline when their
// last connection is gone. Safe to call more than once.
func (h *Hub) leave(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	h.online[c.principal.ID]--
	last := h.online[c.principal.ID] <= 0
	if last {
		delete(h.online, c.principal.ID)
	}
	h.mu.Unlock()

	c.close()
	if last {
		h.Broadcast(Event{Type: EventUserOffline, TS: time.Now().UTC(), User: eventUser(c.principal)})
	}
}

// Broadcast fans the event out to every attached client. Clients whose
// queue is full drop the event rather than stall the sender.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case <-c.doneCh():
		case c.send <- event:
		default:
			h.logger.Info("realtime event dropped", "client_id", c.id, "type", event.Type)
		}
	}
}

// UserRegistered announces a freshly created account.
func (h *Hub) UserRegistered(p models.Principal) {
	h.Broadcast(Event{Type: EventUserRegistered, TS: time.Now().UTC(), User: eventUser(p)})
}

// Online reports whether any connection of the user is attached.
func (h *Hub) Online(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}

// ClientCount returns the number of attached connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
