package types

import (
	"encoding/json"
	"time"
)

// Inbound event names (client -> relay).
const (
	EventSetup          = "setup"
	EventJoinChat       = "join chat"
	EventTyping         = "typing"
	EventStopTyping     = "stop typing"
	EventNewMessage     = "new message"
	EventReactionUpdate = "reaction update"
	EventMessagesRead   = "messages read"
	EventGetOnlineUsers = "get online users"
)

// Outbound event names (relay -> client).
const (
	EventConnected          = "connected"
	EventMessageReceived    = "message received"
	EventReactionUpdated    = "reaction updated"
	EventMessagesMarkedRead = "messages marked read"
	EventUserStatus         = "user status"
	EventOnlineUsers        = "online users"
)

// Frame is the wire format for relay events in both directions. Data stays
// raw on the inbound path so the relay can decode it against the payload
// type the event name selects.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Emitter is one live client connection as seen by the core components.
// EmitEvent queues the event on the connection's outbound buffer and never
// blocks on network I/O; emitting to a connection that is already gone
// returns an error the caller may ignore.
type Emitter interface {
	ID() string
	EmitEvent(event string, payload interface{}) error
}

// User mirrors the persistence service's user record. Password material is
// owned by the identity service and never passes through this system.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Pic       string    `json:"pic,omitempty"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat is a conversation with its resolved member list.
type Chat struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	IsGroup         bool      `json:"is_group"`
	Members         []string  `json:"members"`
	LatestMessageID string    `json:"latest_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// MessageEnvelope is a message as fanned out over the relay, not as stored.
// Members carries the chat's member list resolved at creation time so the
// dispatcher never re-queries the store per delivery.
type MessageEnvelope struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStatus is one entry of a presence query result. LastSeen is only
// meaningful when Online is false.
type UserStatus struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// SetupPayload is informational only: the connection's identity is derived
// from the handshake token, never from this payload.
type SetupPayload struct {
	UserID string `json:"user_id"`
}

type JoinChatPayload struct {
	ChatID string `json:"chat_id" validate:"required"`
}

type TypingPayload struct {
	ChatID string `json:"chat_id" validate:"required"`
}

// ReactionUpdatePayload fans an already-persisted reaction change out to the
// chat's members. The message is passed through opaquely.
type ReactionUpdatePayload struct {
	Message json.RawMessage `json:"message" validate:"required"`
	Members []string        `json:"chat_members" validate:"required,min=1"`
}

type MessagesReadPayload struct {
	ChatID  string   `json:"chat_id" validate:"required"`
	ReadBy  string   `json:"read_by" validate:"required"`
	Members []string `json:"chat_members" validate:"required,min=1"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1"`
}

// MessagesMarkedRead is the outbound counterpart of MessagesReadPayload.
type MessagesMarkedRead struct {
	ChatID string `json:"chat_id"`
	ReadBy string `json:"read_by"`
}
