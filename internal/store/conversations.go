package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskpilot/taskpilot/internal/models"
)

// ErrConversationNotFound covers both a missing conversation and one owned
// by a different user. The two cases are deliberately indistinguishable so
// that conversation ids cannot be probed for existence.
var ErrConversationNotFound = errors.New("store: conversation not found")

// DefaultHistoryLimit bounds how many messages are ever loaded into context.
const DefaultHistoryLimit = 50

// Conversations is the durable append-only log of conversations and
// messages. Messages are immutable once written; ordering is ascending
// created_at.
type Conversations struct {
	pool *pgxpool.Pool
}

func NewConversations(pg *Postgres) *Conversations {
	return &Conversations{pool: pg.Pool}
}

// ResolveOrCreate returns the conversation identified by conversationID if
// it exists and belongs to userID. A nil conversationID creates a fresh
// conversation owned by userID.
func (s *Conversations) ResolveOrCreate(ctx context.Context, conversationID *int64, userID string) (*models.Conversation, error) {
	if conversationID == nil {
		const insert = `INSERT INTO conversations (user_id) VALUES ($1) RETURNING id, user_id, created_at, updated_at`
		var conv models.Conversation
		if err := s.pool.QueryRow(ctx, insert, userID).Scan(&conv.ID, &conv.UserID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		return &conv, nil
	}

	const query = `SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = $1 AND user_id = $2`
	var conv models.Conversation
	if err := s.pool.QueryRow(ctx, query, *conversationID, userID).Scan(&conv.ID, &conv.UserID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	return &conv, nil
}

// AppendMessage persists one message and commits immediately. It is never
// batched with other writes: the inbound user message must survive even if
// every later step of the turn fails.
func (s *Conversations) AppendMessage(ctx context.Context, conversationID int64, userID, role, content string) (*models.Message, error) {
	const insert = `
        INSERT INTO messages (conversation_id, user_id, role, content)
        VALUES ($1, $2, $3, $4)
        RETURNING id, conversation_id, user_id, role, content, created_at`

	var msg models.Message
	if err := s.pool.QueryRow(ctx, insert, conversationID, userID, role, content).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.UserID,
		&msg.Role,
		&msg.Content,
		&msg.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &msg, nil
}

// LoadRecent returns at most limit of the newest messages, ordered oldest
// first. An unknown or foreign conversation yields an empty slice, not an
// error: the user_id filter pre-empts unauthorized access.
func (s *Conversations) LoadRecent(ctx context.Context, conversationID int64, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	const query = `
        SELECT id, conversation_id, user_id, role, content, created_at FROM (
            SELECT id, conversation_id, user_id, role, content, created_at
            FROM messages
            WHERE conversation_id = $1 AND user_id = $2
            ORDER BY created_at DESC, id DESC
            LIMIT $3
        ) recent
        ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, conversationID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// Touch advances the conversation's updated_at. Called after a successful
// assistant append; concurrent writers race last-write-wins here.
func (s *Conversations) Touch(ctx context.Context, conversationID int64) error {
	const update = `UPDATE conversations SET updated_at = NOW() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, update, conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}
