package interfaces

import (
	"context"
	"time"

	"chatpulse/pkg/types"
)

// ChatStore is the persistence service the relay core calls into. The
// concrete implementation lives in internal/store; core components depend on
// this interface so tests can substitute fakes.
type ChatStore interface {
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, userID string) (*types.User, error)

	CreateChat(ctx context.Context, chat *types.Chat) error
	GetChat(ctx context.Context, chatID string) (*types.Chat, error)
	GetChatMembers(ctx context.Context, chatID string) ([]string, error)

	CreateMessage(ctx context.Context, msg *types.MessageEnvelope) error
	ListMessages(ctx context.Context, chatID string) ([]*types.MessageEnvelope, error)

	SetUserPresence(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error
	GetUserPresence(ctx context.Context, userIDs []string) (map[string]time.Time, error)
}

// PresenceStore is the slice of ChatStore the presence tracker needs.
type PresenceStore interface {
	SetUserPresence(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error
	GetUserPresence(ctx context.Context, userIDs []string) (map[string]time.Time, error)
}
