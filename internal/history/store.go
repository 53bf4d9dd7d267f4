// Package history persists conversation transcripts in SQLite so a session
// can be inspected or resumed after the process exits.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"toolcall/internal/engine"
	"toolcall/internal/logger"
)

type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// NewID returns a fresh conversation identifier.
func NewID() string {
	return uuid.NewString()
}

func Open(path string, logger logger.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// single connection: SQLite serializes writers anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	store := &Store{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		model       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		tool_name       TEXT,
		content         TEXT,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

type Conversation struct {
	ID        string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) CreateConversation(ctx context.Context, id, model string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, model) VALUES (?, ?)`, id, model)
	return err
}

// AppendMessage satisfies conversation.Transcript.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg engine.Message) error {
	if conversationID == "" {
		return errors.New("missing conversation id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, tool_name, content) VALUES (?, ?, ?, ?)`,
		conversationID, string(msg.Role), msg.Tool, msg.Content)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, conversationID)
	return err
}

func (s *Store) Messages(ctx context.Context, conversationID string) ([]engine.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, tool_name, content FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	var messages []engine.Message
	for rows.Next() {
		var role, tool, content string
		if err := rows.Scan(&role, &tool, &content); err != nil {
			return nil, err
		}
		messages = append(messages, engine.Message{Role: engine.Role(role), Tool: tool, Content: content})
	}
	return messages, rows.Err()
}

func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Model, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}
