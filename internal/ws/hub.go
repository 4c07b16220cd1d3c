package ws

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"chatapp/internal/domain"
)

// Conn is one live connection as seen by the hub.
type Conn interface {
	ID() string
	// Enqueue hands an event to the connection without blocking and reports
	// whether it was accepted.
	Enqueue(env domain.Envelope) bool
	Close()
}

// Hub is the session registry: it binds each user id to at most one live
// connection ("room") and routes events to it. A later join for the same
// user replaces the earlier binding; the replaced connection stays open but
// no longer receives user-targeted events.
//
// Every authenticated connection is also attached to its user, bound or
// not, so Disconnect can reach all of them.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[int64]Conn
	bound    map[string]int64 // conn id -> user id
	attached map[int64]map[string]Conn
	log      *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		rooms:    make(map[int64]Conn),
		bound:    make(map[string]int64),
		attached: make(map[int64]map[string]Conn),
		log:      log,
	}
}

// Attach records c as one of userID's open connections.
func (h *Hub) Attach(userID int64, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.attached[userID]
	if !ok {
		conns = make(map[string]Conn)
		h.attached[userID] = conns
	}
	conns[c.ID()] = c
}

// Detach forgets c. Call it once the connection is gone.
func (h *Hub) Detach(userID int64, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.attached[userID]
	delete(conns, c.ID())
	if len(conns) == 0 {
		delete(h.attached, userID)
	}
}

// Join binds userID to c and returns the connection it replaced, if any.
func (h *Hub) Join(userID int64, c Conn) Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, ok := h.rooms[userID]
	if ok && prev.ID() == c.ID() {
		return nil
	}
	if ok {
		delete(h.bound, prev.ID())
	}
	// A connection carries one identity; rebinding it moves it.
	if oldUser, ok := h.bound[c.ID()]; ok && oldUser != userID {
		delete(h.rooms, oldUser)
	}
	h.rooms[userID] = c
	h.bound[c.ID()] = userID
	if ok {
		h.log.Info("session replaced", "user_id", userID, "old_conn", prev.ID(), "new_conn", c.ID())
		return prev
	}
	return nil
}

// Leave drops c's binding. It reports the user c was bound to; wasBound is
// false when c had been replaced or never joined.
func (h *Hub) Leave(c Conn) (userID int64, wasBound bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID, wasBound = h.bound[c.ID()]
	if !wasBound {
		return 0, false
	}
	delete(h.bound, c.ID())
	if cur, ok := h.rooms[userID]; ok && cur.ID() == c.ID() {
		delete(h.rooms, userID)
	}
	return userID, true
}

// IsBound reports whether c currently owns a user's room.
func (h *Hub) IsBound(c Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.bound[c.ID()]
	return ok
}

// Publish delivers one event to userID's connection. Offline users are a
// silent miss: the event is dropped, not queued.
func (h *Hub) Publish(userID int64, event string, payload any) bool {
	h.mu.RLock()
	c, ok := h.rooms[userID]
	h.mu.RUnlock()
	if !ok {
		h.log.Debug("delivery miss", "user_id", userID, "event", event)
		return false
	}
	return c.Enqueue(domain.Envelope{Type: event, Data: payload})
}

// Broadcast delivers an event to every bound connection except
// exceptUserID's and returns how many accepted it.
func (h *Hub) Broadcast(event string, payload any, exceptUserID int64) int {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.rooms))
	for uid, c := range h.rooms {
		if uid != exceptUserID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	env := domain.Envelope{Type: event, Data: payload}
	delivered := 0
	for _, c := range targets {
		if c.Enqueue(env) {
			delivered++
		}
	}
	return delivered
}

// Disconnect closes every connection userID has open, bound or replaced.
// Their read loops then run the normal leave path.
func (h *Hub) Disconnect(userID int64) bool {
	h.mu.RLock()
	targets := lo.Values(h.attached[userID])
	if c, ok := h.rooms[userID]; ok {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	targets = lo.UniqBy(targets, func(c Conn) string { return c.ID() })
	for _, c := range targets {
		c.Close()
	}
	return len(targets) > 0
}

// Online returns the ids of users with a bound connection.
func (h *Hub) Online() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Keys(h.rooms)
}
