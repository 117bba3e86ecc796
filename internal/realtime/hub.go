// Package realtime fans domain events out to SSE and WebSocket subscribers.
// Subscribers join rooms; the dispatcher pushes every event to the rooms
// user:{userId} and tenant:{tenantId}.
package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/albion/platform/internal/events"
	"github.com/albion/platform/internal/metrics"
)

// UserRoom returns the room name for a user's private channel.
func UserRoom(userID string) string { return "user:" + userID }

// TenantRoom returns the room name for a tenant's broadcast channel.
func TenantRoom(tenantID string) string { return "tenant:" + tenantID }

var subscriberSeq atomic.Uint64

// subscriber is one connected SSE or WebSocket session with a bounded buffer.
type subscriber struct {
	id        uint64
	transport string
	userID    string
	tenantID  string
	send      chan *events.Event

	mu    sync.Mutex
	rooms map[string]bool
}

// Hub tracks rooms and their subscribers. Implements events.Sink.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[*subscriber]bool
	bufferSize int
}

// NewHub creates a hub. bufferSize bounds each subscriber's queue.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		rooms:      make(map[string]map[*subscriber]bool),
		bufferSize: bufferSize,
	}
}

// Deliver pushes an event to its user and tenant rooms. When a subscriber's
// buffer overflows the oldest buffered event is evicted; critical events are
// always enqueued.
func (h *Hub) Deliver(e *events.Event) {
	rooms := []string{TenantRoom(e.TenantID)}
	if e.UserID != "" {
		rooms = append(rooms, UserRoom(e.UserID))
	}

	seen := make(map[*subscriber]bool)
	h.mu.RLock()
	for _, room := range rooms {
		for sub := range h.rooms[room] {
			if !seen[sub] {
				seen[sub] = true
				h.push(sub, e)
			}
		}
	}
	h.mu.RUnlock()
}

func (h *Hub) push(sub *subscriber, e *events.Event) {
	select {
	case sub.send <- e:
		return
	default:
	}

	// Buffer full: evict the oldest queued event to make room.
	select {
	case dropped := <-sub.send:
		if !events.IsCritical(dropped.Type) {
			slog.Warn("Realtime buffer overflow, dropped oldest event",
				"subscriber", sub.id, "dropped_type", dropped.Type)
		}
	default:
	}
	select {
	case sub.send <- e:
	default:
		if events.IsCritical(e.Type) {
			// There is no retry path for the live push; the failure is
			// only logged.
			slog.Error("Realtime push failed for critical event",
				"subscriber", sub.id, "type", e.Type)
		}
	}
}

// subscribe registers a session in its default rooms.
func (h *Hub) subscribe(transport, userID, tenantID string) *subscriber {
	sub := &subscriber{
		id:        subscriberSeq.Add(1),
		transport: transport,
		userID:    userID,
		tenantID:  tenantID,
		send:      make(chan *events.Event, h.bufferSize),
		rooms:     make(map[string]bool),
	}
	h.joinRoom(sub, TenantRoom(tenantID))
	if userID != "" {
		h.joinRoom(sub, UserRoom(userID))
	}
	metrics.RealtimeConnections.WithLabelValues(transport).Inc()
	return sub
}

// unsubscribe removes a session from every room and closes its buffer.
func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	sub.mu.Lock()
	for room := range sub.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, sub)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	sub.rooms = make(map[string]bool)
	sub.mu.Unlock()
	h.mu.Unlock()

	close(sub.send)
	metrics.RealtimeConnections.WithLabelValues(sub.transport).Dec()
}

// joinRoom adds the subscriber to a room after an ownership check: sessions
// may only join their own user room and their tenant's rooms.
func (h *Hub) joinRoom(sub *subscriber, room string) bool {
	if !h.allowed(sub, room) {
		return false
	}
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*subscriber]bool)
		h.rooms[room] = members
	}
	members[sub] = true
	h.mu.Unlock()

	sub.mu.Lock()
	sub.rooms[room] = true
	sub.mu.Unlock()
	return true
}

// leaveRoom removes the subscriber from a room.
func (h *Hub) leaveRoom(sub *subscriber, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	sub.mu.Lock()
	delete(sub.rooms, room)
	sub.mu.Unlock()
}

func (h *Hub) allowed(sub *subscriber, room string) bool {
	switch {
	case room == UserRoom(sub.userID) && sub.userID != "":
		return true
	case room == TenantRoom(sub.tenantID):
		return true
	default:
		return false
	}
}

// RoomCount reports the number of active rooms, for the health endpoint.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
