package presence

import (
	"context"
	"log"
	"time"

	"chatpulse/internal/session"
	"chatpulse/pkg/interfaces"
	"chatpulse/pkg/types"
)

// Tracker turns session registry transitions into presence broadcasts and
// last-seen persistence. Online state itself is derived from the registry
// and never read back from the store while the relay is running.
type Tracker struct {
	registry *session.Registry
	store    interfaces.PresenceStore
	now      func() time.Time
}

// NewTracker creates a presence tracker over the given registry and store.
func NewTracker(registry *session.Registry, store interfaces.PresenceStore) *Tracker {
	return &Tracker{
		registry: registry,
		store:    store,
		now:      time.Now,
	}
}

// HandleOnline reacts to a user's 0->1 connection transition. The online
// flag is derived state, so nothing has to be persisted for correctness;
// the broadcast goes to every connection because any client's chat list may
// show this user's presence dot.
func (t *Tracker) HandleOnline(ctx context.Context, userID string) {
	if err := t.store.SetUserPresence(ctx, userID, true, t.now()); err != nil {
		log.Printf("Presence write failed for %s on online transition: %v", userID, err)
	}
	t.registry.Broadcast(types.EventUserStatus, types.UserStatus{UserID: userID, Online: true})
	log.Printf("User online: user=%s", userID)
}

// HandleOffline reacts to a user's 1->0 transition: persist last-seen, then
// broadcast. Presence is best effort, so a failed store write is logged and
// the broadcast still goes out.
func (t *Tracker) HandleOffline(ctx context.Context, userID string) {
	lastSeen := t.now()
	if err := t.store.SetUserPresence(ctx, userID, false, lastSeen); err != nil {
		log.Printf("Presence write failed for %s on offline transition: %v", userID, err)
	}
	t.registry.Broadcast(types.EventUserStatus, types.UserStatus{UserID: userID, Online: false, LastSeen: lastSeen})
	log.Printf("User offline: user=%s last_seen=%s", userID, lastSeen.Format(time.RFC3339))
}

// Statuses resolves the presence of each requested user: the online flag
// comes from the registry, and offline users get their persisted last-seen
// timestamp. Users the store has never seen yield a zero last-seen, not an
// error.
func (t *Tracker) Statuses(ctx context.Context, userIDs []string) []types.UserStatus {
	offline := make([]string, 0, len(userIDs))
	statuses := make([]types.UserStatus, 0, len(userIDs))
	for _, id := range userIDs {
		if t.registry.IsOnline(id) {
			statuses = append(statuses, types.UserStatus{UserID: id, Online: true})
		} else {
			statuses = append(statuses, types.UserStatus{UserID: id})
			offline = append(offline, id)
		}
	}

	if len(offline) == 0 {
		return statuses
	}

	lastSeen, err := t.store.GetUserPresence(ctx, offline)
	if err != nil {
		log.Printf("Presence lookup failed for %d users: %v", len(offline), err)
		return statuses
	}
	for i := range statuses {
		if !statuses[i].Online {
			statuses[i].LastSeen = lastSeen[statuses[i].UserID]
		}
	}
	return statuses
}
