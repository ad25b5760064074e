package relay

import (
	"sync"
	"time"
)

// RateLimiter bounds inbound events per connection over a fixed window.
// Typing events fire on every keystroke, so the limit has to be generous;
// it exists to stop a broken client from monopolizing the relay, not to
// meter normal chatter.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientWindow
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing limit events per window per
// connection id.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
	}
}

// Allow reports whether the connection may process another event. The first
// event of a fresh window always passes.
func (rl *RateLimiter) Allow(connID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	cw, exists := rl.clients[connID]
	if !exists || now.Sub(cw.windowStart) >= rl.window {
		rl.clients[connID] = &clientWindow{count: 1, windowStart: now}
		return true
	}

	if cw.count >= rl.limit {
		return false
	}
	cw.count++
	return true
}

// Forget drops a connection's window state. Called from the disconnect path
// so the map does not grow with connection churn.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, connID)
}
