package store

import (
	"database/sql"
	"fmt"
)

// schema is applied in full at startup; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL UNIQUE,
		pic        TEXT NOT NULL DEFAULT '',
		is_online  INTEGER NOT NULL DEFAULT 0,
		last_seen  DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL DEFAULT '',
		is_group          INTEGER NOT NULL DEFAULT 0,
		latest_message_id TEXT,
		created_at        DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_members (
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (chat_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id  TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_members_user ON chat_members(user_id)`,
}

// applySchema creates all tables and indexes inside one transaction.
func applySchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	return tx.Commit()
}
