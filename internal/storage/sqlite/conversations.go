package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/pkg/log"
)

// ConversationsRepo reads conversations from a SQLite database. Timestamps
// are stored as unix nanoseconds.
type ConversationsRepo struct {
	db   *sql.DB
	path string
}

func NewConversationsRepo(db *sql.DB, dbPath string) *ConversationsRepo {
	return &ConversationsRepo{db: db, path: dbPath}
}

type conversationRow struct {
	id          string
	title       string
	projectPath string
	updatedAt   int64
}

func (r *ConversationsRepo) ListRecentConversations(ctx context.Context, limit int) ([]core.Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, title, project_path, updated_at FROM conversations ORDER BY updated_at DESC, id ASC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}

	var heads []conversationRow
	for rows.Next() {
		var h conversationRow
		if err := rows.Scan(&h.id, &h.title, &h.projectPath, &h.updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		heads = append(heads, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	convs := make([]core.Conversation, 0, len(heads))
	for _, h := range heads {
		msgs, err := r.messages(ctx, h.id)
		if err != nil {
			return nil, err
		}
		convs = append(convs, h.conversation(msgs))
	}

	log.FromCtx(ctx).Debug().Int("count", len(convs)).Msg("loaded recent conversations")
	return convs, nil
}

func (r *ConversationsRepo) LoadConversation(ctx context.Context, id string) (*core.Conversation, error) {
	var h conversationRow
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, project_path, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&h.id, &h.title, &h.projectPath, &h.updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	msgs, err := r.messages(ctx, id)
	if err != nil {
		return nil, err
	}
	conv := h.conversation(msgs)
	return &conv, nil
}

func (h conversationRow) conversation(msgs []core.Message) core.Conversation {
	return core.Conversation{
		ID:          h.id,
		Title:       h.title,
		ProjectPath: h.projectPath,
		Messages:    msgs,
		UpdatedAt:   time.Unix(0, h.updatedAt).UTC(),
	}
}

// messages decodes leniently: broken content or metadata never fails the
// conversation, it just becomes unknown content or no metadata.
func (r *ConversationsRepo) messages(ctx context.Context, conversationID string) ([]core.Message, error) {
	query := `SELECT role, content, metadata, created_at FROM messages WHERE conversation_id = ? ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []core.Message{}
	for rows.Next() {
		var (
			role, content, metadata sql.NullString
			createdAt               int64
		)
		if err := rows.Scan(&role, &content, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		msg := core.Message{
			Role:      core.ParseRole(role.String),
			Content:   core.Content{Kind: core.ContentEmpty},
			Timestamp: time.Unix(0, createdAt).UTC(),
		}
		if content.Valid {
			_ = msg.Content.UnmarshalJSON([]byte(content.String))
		}
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &msg.Metadata)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// CreateConversation inserts or replaces conv together with its messages.
func (r *ConversationsRepo) CreateConversation(ctx context.Context, conv core.Conversation) error {
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conv.ID); err != nil {
		return fmt.Errorf("failed to replace conversation: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, project_path, updated_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.ProjectPath, conv.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	for _, msg := range conv.Messages {
		if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// AppendMessage adds msg and bumps the conversation's updated_at.
func (r *ConversationsRepo) AppendMessage(ctx context.Context, conversationID string, msg core.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		msg.Timestamp.UnixNano(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrConversationNotFound
	}

	if err := insertMessage(ctx, tx, conversationID, msg); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, msg core.Message) error {
	content, err := msg.Content.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}

	var metadata sql.NullString
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, string(msg.Role), string(content), metadata, msg.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// WatchPath is the directory holding the database and its WAL files.
func (r *ConversationsRepo) WatchPath() string {
	return filepath.Dir(r.path)
}

// ResolveChange cannot tell which conversation a database write touched, so
// any change to the database files asks for a rescan.
func (r *ConversationsRepo) ResolveChange(path string) (string, bool) {
	if filepath.Dir(path) != filepath.Dir(r.path) {
		return "", false
	}
	return "", strings.HasPrefix(filepath.Base(path), filepath.Base(r.path))
}
