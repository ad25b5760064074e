package session

import (
	"sync"

	"chatpulse/pkg/types"
)

// Registry maps a user identity to the set of its live connections. A user
// may be connected from several devices or tabs at once, so every lookup and
// delivery works on the full session set.
//
// Invariant: a user appears in the sessions map if and only if at least one
// of its connections is live. The owners map is the reverse index
// (connection id -> user id) that makes disconnect cleanup O(1).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]types.Emitter // userID -> connID -> conn
	owners   map[string]string                   // connID -> userID
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]types.Emitter),
		owners:   make(map[string]string),
	}
}

// Register adds conn to userID's session set, creating the set if absent.
// Registering the same (user, connection) pair twice is a no-op. The return
// value is true exactly when this call took the user from zero live
// connections to one.
func (r *Registry) Register(userID string, conn types.Emitter) (wentOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.sessions[userID]
	if !exists {
		set = make(map[string]types.Emitter)
		r.sessions[userID] = set
	}
	set[conn.ID()] = conn
	r.owners[conn.ID()] = userID

	return !exists
}

// Unregister removes the connection from its owner's session set. The owner
// is located through the reverse index; when the set empties the user entry
// is removed entirely and wentOffline reports the transition. Unknown
// connection ids are ignored.
func (r *Registry) Unregister(connID string) (userID string, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, exists := r.owners[connID]
	if !exists {
		return "", false
	}
	delete(r.owners, connID)

	set := r.sessions[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.sessions, userID)
		return userID, true
	}
	return userID, false
}

// SessionsOf returns the user's live connections. Unknown users yield an
// empty slice, not an error.
func (r *Registry) SessionsOf(userID string) []types.Emitter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sessions[userID]
	conns := make([]types.Emitter, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// ConnectionIDs returns the ids of the user's live connections.
func (r *Registry) ConnectionIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sessions[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions[userID]) > 0
}

// Owner returns the user identity that owns a connection id.
func (r *Registry) Owner(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, exists := r.owners[connID]
	return userID, exists
}

// Broadcast emits an event to every live connection of every user. Used for
// presence transitions, which any connected client's chat list may render.
func (r *Registry) Broadcast(event string, payload interface{}) {
	r.mu.RLock()
	conns := make([]types.Emitter, 0, len(r.owners))
	for _, set := range r.sessions {
		for _, conn := range set {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	// Emit outside the lock; EmitEvent never blocks on I/O.
	for _, conn := range conns {
		_ = conn.EmitEvent(event, payload)
	}
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"online_users":      len(r.sessions),
		"total_connections": len(r.owners),
	}
}
