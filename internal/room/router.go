package room

import (
	"sync"

	"chatpulse/pkg/types"
)

// Router maps a chat identifier to the set of connections currently viewing
// that chat, for typing and other room-scoped broadcasts. Membership is not
// persisted; it lives and dies with the connections.
type Router struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]types.Emitter // chatID -> connID -> conn
	joined map[string]map[string]bool          // connID -> chatID set, for O(1) cleanup
}

// NewRouter creates an empty room router.
func NewRouter() *Router {
	return &Router{
		rooms:  make(map[string]map[string]types.Emitter),
		joined: make(map[string]map[string]bool),
	}
}

// Join adds the connection to chatID's room. A connection may be in any
// number of rooms at once; joining twice is a no-op.
func (r *Router) Join(chatID string, conn types.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[chatID] == nil {
		r.rooms[chatID] = make(map[string]types.Emitter)
	}
	r.rooms[chatID][conn.ID()] = conn

	if r.joined[conn.ID()] == nil {
		r.joined[conn.ID()] = make(map[string]bool)
	}
	r.joined[conn.ID()][chatID] = true
}

// Leave removes the connection from a single room.
func (r *Router) Leave(chatID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(chatID, connID)
	if set := r.joined[connID]; set != nil {
		delete(set, chatID)
		if len(set) == 0 {
			delete(r.joined, connID)
		}
	}
}

// LeaveAll removes the connection from every room it has joined. Called on
// disconnect; the reverse index avoids scanning all rooms.
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for chatID := range r.joined[connID] {
		r.removeLocked(chatID, connID)
	}
	delete(r.joined, connID)
}

// removeLocked deletes the connection from one room and drops the room when
// it empties. Caller holds the write lock.
func (r *Router) removeLocked(chatID, connID string) {
	if room := r.rooms[chatID]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, chatID)
		}
	}
}

// Broadcast emits an event to every connection in the room except the
// optional excluded connection id (empty string excludes nobody). Whether a
// given event type echoes back to its originator is the caller's policy.
func (r *Router) Broadcast(chatID, event string, payload interface{}, excludeConnID string) {
	r.mu.RLock()
	conns := make([]types.Emitter, 0, len(r.rooms[chatID]))
	for connID, conn := range r.rooms[chatID] {
		if connID == excludeConnID {
			continue
		}
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.EmitEvent(event, payload)
	}
}

// Members returns the connection ids currently in a room.
func (r *Router) Members(chatID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[chatID]))
	for connID := range r.rooms[chatID] {
		ids = append(ids, connID)
	}
	return ids
}

// Rooms returns the chat ids the connection has joined.
func (r *Router) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.joined[connID]))
	for chatID := range r.joined[connID] {
		ids = append(ids, chatID)
	}
	return ids
}
