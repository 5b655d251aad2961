// Package store persists conversation history in a local SQLite database
// so follow-up questions can carry their session context.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Message is one turn of a conversation.
type Message struct {
	ID        int64
	Session   string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// History is a SQLite-backed conversation log. Safe for concurrent use;
// the pool is capped at one connection because modernc sqlite serialises
// writers anyway.
type History struct {
	db *sql.DB
}

// DefaultDBPath returns the default history location under the user's home.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".raina", "history.db")
}

// Open opens (and if needed creates) the history database at path.
func Open(path string) (*History, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session    TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session, id);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &History{db: db}, nil
}

// Append records one message at the end of a session.
func (h *History) Append(ctx context.Context, session, role, content string) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO messages (session, role, content) VALUES (?, ?, ?)`,
		session, role, content)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// Recent returns the last n messages of a session in chronological order.
func (h *History) Recent(ctx context.Context, session string, n int) ([]Message, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, session, role, content, created_at
		 FROM messages WHERE session = ?
		 ORDER BY id DESC LIMIT ?`, session, n)
	if err != nil {
		return nil, fmt.Errorf("store: query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Session, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Sessions lists distinct session names, most recently active first.
func (h *History) Sessions(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT session FROM messages GROUP BY session ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}
