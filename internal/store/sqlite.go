// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			model TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner
			ON conversations(owner_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			parent TEXT,
			role TEXT NOT NULL,
			sent_at DATETIME NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			payload TEXT,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, sent_at);

		CREATE INDEX IF NOT EXISTS idx_messages_parent
			ON messages(parent);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// messagePayload is the role-specific part of a message, stored as JSON.
type messagePayload struct {
	Parts       []Part          `json:"parts,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	ToolCall    *ToolCall       `json:"toolCall,omitempty"`
	ToolResult  *ToolCallResult `json:"toolResult,omitempty"`
	Allow       bool            `json:"allow,omitempty"`
}

// CreateConversation inserts a new conversation
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.OwnerID, conv.Title, conv.Model, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv := &Conversation{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, model, created_at, updated_at
		 FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// UpdateConversationTitle sets a conversation's title
func (s *SQLiteStore) UpdateConversationTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating conversation title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversations returns conversations for an owner, most recent first
func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, model, created_at, updated_at
		 FROM conversations WHERE owner_id = ?
		 ORDER BY updated_at DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation and all of its messages
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return tx.Commit()
}

// SaveMessage inserts a message
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	payload := messagePayload{
		Parts:       msg.Parts,
		Attachments: msg.Attachments,
		ToolCall:    msg.ToolCall,
		ToolResult:  msg.ToolResult,
		Allow:       msg.Allow,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling message payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, parent, role, sent_at, content, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Parent, string(msg.Role), msg.SentAt, msg.Content, string(payloadJSON))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by id
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, parent, role, sent_at, content, payload
		 FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// ListMessages returns all messages of a conversation in sent_at order
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, parent, role, sent_at, content, payload
		 FROM messages WHERE conversation_id = ?
		 ORDER BY sent_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// DeleteMessages removes the given ids in a single transaction
func (s *SQLiteStore) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting message %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanMessage
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	msg := &Message{}
	var role string
	var parent sql.NullString
	var payloadJSON sql.NullString
	if err := row.Scan(&msg.ID, &msg.ConversationID, &parent, &role, &msg.SentAt, &msg.Content, &payloadJSON); err != nil {
		return nil, err
	}
	msg.Role = Role(role)
	if parent.Valid {
		msg.Parent = &parent.String
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		var payload messagePayload
		if err := json.Unmarshal([]byte(payloadJSON.String), &payload); err != nil {
			return nil, fmt.Errorf("unmarshaling message payload: %w", err)
		}
		msg.Parts = payload.Parts
		msg.Attachments = payload.Attachments
		msg.ToolCall = payload.ToolCall
		msg.ToolResult = payload.ToolResult
		msg.Allow = payload.Allow
	}
	return msg, nil
}
