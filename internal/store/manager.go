package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatpulse/pkg/interfaces"
	"chatpulse/pkg/types"
)

// Config holds SQLite settings.
type Config struct {
	Path           string
	MaxConnections int
	WriteTimeout   time.Duration
}

// Manager is the SQLite-backed persistence service. Reads run concurrently
// against the pool; all writes are funneled through a single goroutine,
// which is how SQLite stays out of its own way under concurrent load.
type Manager struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	timeout  time.Duration
	mu       sync.RWMutex
	closed   bool
}

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// NewManager opens the database, applies the schema and starts the writer.
func NewManager(cfg Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(time.Hour)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	m := &Manager{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
		timeout:  cfg.WriteTimeout,
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeCh:
			op.result <- op.fn(m.db)
		case <-m.shutdown:
			return
		}
	}
}

// executeWrite queues a write and waits for it to complete.
func (m *Manager) executeWrite(fn func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeCh <- writeOp{fn: fn, result: result}:
		return <-result
	case <-time.After(m.timeout):
		return fmt.Errorf("write operation timeout after %s", m.timeout)
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// Close stops the writer and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	log.Println("Store closed")
	return m.db.Close()
}

// Ping verifies database connectivity for the health endpoint.
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// CreateUser inserts a user record.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (id, name, email, pic, is_online, last_seen, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.Name, user.Email, user.Pic, user.IsOnline, user.LastSeen, user.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetUser retrieves a user by id.
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, name, email, pic, is_online, last_seen, created_at FROM users WHERE id = ?`, userID)

	var user types.User
	var lastSeen sql.NullTime
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Pic, &user.IsOnline, &lastSeen, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if lastSeen.Valid {
		user.LastSeen = lastSeen.Time
	}
	return &user, nil
}

// CreateChat inserts a chat and its member list atomically.
func (m *Manager) CreateChat(ctx context.Context, chat *types.Chat) error {
	if err := chat.Validate(); err != nil {
		return err
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}

	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO chats (id, name, is_group, created_at) VALUES (?, ?, ?, ?)`,
			chat.ID, chat.Name, chat.IsGroup, chat.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat: %w", err)
		}

		for _, userID := range chat.Members {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO chat_members (chat_id, user_id) VALUES (?, ?)`, chat.ID, userID)
			if err != nil {
				return fmt.Errorf("failed to insert chat member %s: %w", userID, err)
			}
		}

		return tx.Commit()
	})
}

// GetChat retrieves a chat with its resolved member list.
func (m *Manager) GetChat(ctx context.Context, chatID string) (*types.Chat, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, name, is_group, latest_message_id, created_at FROM chats WHERE id = ?`, chatID)

	var chat types.Chat
	var latest sql.NullString
	err := row.Scan(&chat.ID, &chat.Name, &chat.IsGroup, &latest, &chat.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	if latest.Valid {
		chat.LatestMessageID = latest.String
	}

	members, err := m.GetChatMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	chat.Members = members
	return &chat, nil
}

// GetChatMembers resolves a chat's member identities.
func (m *Manager) GetChatMembers(ctx context.Context, chatID string) ([]string, error) {
	var exists int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chats WHERE id = ?`, chatID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check chat: %w", err)
	}
	if exists == 0 {
		return nil, interfaces.ErrChatNotFound
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT user_id FROM chat_members WHERE chat_id = ? ORDER BY user_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan chat member: %w", err)
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

// CreateMessage persists a message and bumps the chat's latest message in
// one transaction. The write completes before any fan-out is attempted;
// durability is this layer's job, live delivery is the dispatcher's.
func (m *Manager) CreateMessage(ctx context.Context, msg *types.MessageEnvelope) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, chat_id, sender_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE chats SET latest_message_id = ? WHERE id = ?`, msg.ID, msg.ChatID)
		if err != nil {
			return fmt.Errorf("failed to update latest message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrChatNotFound
		}

		return tx.Commit()
	})
}

// ListMessages returns a chat's messages oldest first.
func (m *Manager) ListMessages(ctx context.Context, chatID string) ([]*types.MessageEnvelope, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, chat_id, sender_id, content, created_at FROM messages
		 WHERE chat_id = ? ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.MessageEnvelope
	for rows.Next() {
		var msg types.MessageEnvelope
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// SetUserPresence records a presence transition for a user.
func (m *Manager) SetUserPresence(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`, isOnline, lastSeen, userID)
		if err != nil {
			return fmt.Errorf("failed to update presence: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrUserNotFound
		}
		return nil
	})
}

// GetUserPresence returns last-seen timestamps for the requested users.
// Unknown users are simply absent from the result.
func (m *Manager) GetUserPresence(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	if len(userIDs) == 0 {
		return map[string]time.Time{}, nil
	}

	placeholders := strings.Repeat("?,", len(userIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT id, last_seen FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]time.Time, len(userIDs))
	for rows.Next() {
		var id string
		var lastSeen sql.NullTime
		if err := rows.Scan(&id, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan presence: %w", err)
		}
		if lastSeen.Valid {
			result[id] = lastSeen.Time
		}
	}
	return result, rows.Err()
}
