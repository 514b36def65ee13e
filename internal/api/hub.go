package api

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/session"
)

// ViewSender is the minimal interface the hub needs from a connection.
// Send must not block.
type ViewSender interface {
	Send(session.View) error
}

// ConnectionHub tracks the live state streams of connected clients, keyed by
// user id. One user may hold several connections (devices, tabs).
type ConnectionHub struct {
	mu      sync.RWMutex
	streams map[string]map[int64]ViewSender
	nextID  int64
}

// NewConnectionHub creates an empty hub.
func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{streams: make(map[string]map[int64]ViewSender)}
}

// Register adds a connection for userID and returns its id for Unregister.
func (h *ConnectionHub) Register(userID string, s ViewSender) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.streams[userID]; !ok {
		h.streams[userID] = make(map[int64]ViewSender)
	}
	h.nextID++
	id := h.nextID
	h.streams[userID][id] = s
	return id
}

// Unregister removes a connection.
func (h *ConnectionHub) Unregister(userID string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.streams[userID]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.streams, userID)
		}
	}
}

// Connections counts the live connections of a user.
func (h *ConnectionHub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[userID])
}

// SendToUser delivers v to every connection of userID. Connections that fail
// are unregistered; the first failure is returned after all were tried.
func (h *ConnectionHub) SendToUser(userID string, v session.View) error {
	h.mu.RLock()
	conns := make(map[int64]ViewSender, len(h.streams[userID]))
	for id, s := range h.streams[userID] {
		conns[id] = s
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return errors.Errorf("user %s not connected", userID)
	}

	var firstErr error
	var failedIDs []int64
	for id, s := range conns {
		if err := s.Send(v); err != nil {
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

// Publish is a session observer: it pushes every new view of the session
// user to that user's connections. Being offline is not an error here.
func (h *ConnectionHub) Publish(v session.View) {
	if v.Self == nil {
		return
	}
	_ = h.SendToUser(v.Self.ID, v)
}
