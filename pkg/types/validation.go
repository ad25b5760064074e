package types

import (
	"encoding/json"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// maxContentBytes caps message content size on the relay path.
const maxContentBytes = 65536

var (
	validate    = validator.New()
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidatePayload runs struct-tag validation on a decoded event payload.
func ValidatePayload(payload interface{}) error {
	return validate.Struct(payload)
}

// IsValidUserID reports whether s is usable as a registry key.
func IsValidUserID(s string) bool {
	return s != "" && len(s) <= 128 && userIDRegex.MatchString(s)
}

// Validate checks an envelope before fan-out. A missing member list is the
// one condition the relay treats as "log and skip" rather than an error
// surfaced to the sender, so it gets its own sentinel.
func (m *MessageEnvelope) Validate() error {
	if m.SenderID == "" {
		return ErrMissingSender
	}
	if m.ChatID == "" {
		return ErrMissingChatID
	}
	if len(m.Members) == 0 {
		return ErrMissingMembers
	}
	if len(m.Content) > maxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// Validate checks a user record before persistence.
func (u *User) Validate() error {
	if !IsValidUserID(u.ID) {
		return ErrInvalidUserID
	}
	if u.Name == "" {
		return ErrMissingName
	}
	return nil
}

// Validate checks a chat record before persistence.
func (c *Chat) Validate() error {
	if c.ID == "" {
		return ErrMissingChatID
	}
	if len(c.Members) == 0 {
		return ErrMissingMembers
	}
	for _, id := range c.Members {
		if !IsValidUserID(id) {
			return ErrInvalidUserID
		}
	}
	return nil
}

// DecodeAndValidate unmarshals raw event data into payload and validates it.
func DecodeAndValidate(data json.RawMessage, payload interface{}) error {
	if err := json.Unmarshal(data, payload); err != nil {
		return err
	}
	return validate.Struct(payload)
}
