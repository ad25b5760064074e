package interfaces

import "errors"

// Shared error types for store implementations. Lookup misses are sentinel
// errors so callers can distinguish them from infrastructure failures.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrChatNotFound = errors.New("chat not found")
	ErrStoreClosed  = errors.New("store is closed")
)
