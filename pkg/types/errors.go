package types

import "errors"

// Validation errors shared across the relay and store layers.
var (
	ErrMissingSender   = errors.New("envelope missing sender identity")
	ErrMissingChatID   = errors.New("missing chat identifier")
	ErrMissingMembers  = errors.New("missing resolved member list")
	ErrContentTooLarge = errors.New("content exceeds 64KB limit")
	ErrInvalidUserID   = errors.New("invalid user identifier")
	ErrMissingName     = errors.New("missing name")
)
