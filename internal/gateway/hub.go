package gateway

import (
	"fmt"
	"sync"
)

// EventSender is the minimal interface the hub needs from a session: the
// ability to push one event to its client.
type EventSender interface {
	Send(Event) error
}

// Hub tracks the live sessions of every connected user, so events can be
// pushed to all of a user's devices at once.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[int64]EventSender
	nextID   int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[int64]EventSender)}
}

// Register adds a session for the user and returns the id to unregister it
// with when it closes.
func (h *Hub) Register(userID string, s EventSender) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[userID]; !ok {
		h.sessions[userID] = make(map[int64]EventSender)
	}

	h.nextID++
	id := h.nextID
	h.sessions[userID][id] = s
	return id
}

// Unregister removes a previously registered session.
func (h *Hub) Unregister(userID string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.sessions[userID]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.sessions, userID)
		}
	}
}

// SessionCount returns how many sessions the user currently has.
func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// SendToUser pushes an event to every session of the user, best effort: all
// sessions are attempted and the first error is returned. Sessions whose
// send failed are dropped from the hub so broken connections do not
// accumulate.
func (h *Hub) SendToUser(userID string, ev Event) error {
	h.mu.RLock()
	conns := make(map[int64]EventSender, len(h.sessions[userID]))
	for id, s := range h.sessions[userID] {
		conns[id] = s
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("user %s not connected", userID)
	}

	var firstErr error
	var failedIDs []int64
	for id, s := range conns {
		if err := s.Send(ev); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failedIDs = append(failedIDs, id)
		}
	}
	for _, id := range failedIDs {
		h.Unregister(userID, id)
	}
	return firstErr
}
