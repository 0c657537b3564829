package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/model"
)

// ConversationRepo defines the interface for two-party conversations.
// Participant ids are passed already ordered (p1 < p2).
type ConversationRepo interface {
	GetOrCreate(ctx context.Context, p1, p2 uuid.UUID) (model.Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (model.Conversation, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ConversationSummary, error)
}

type conversationRepo struct {
	db *sql.DB
}

// NewConversationRepo creates a new ConversationRepo instance
func NewConversationRepo(db *sql.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func scanConversation(row interface{ Scan(...any) error }) (model.Conversation, error) {
	var c model.Conversation
	var last sql.NullTime
	if err := row.Scan(&c.ID, &c.Participant1ID, &c.Participant2ID, &last, &c.CreatedAt); err != nil {
		return model.Conversation{}, err
	}
	if last.Valid {
		c.LastMessageAt = &last.Time
	}
	return c, nil
}

// GetOrCreate inserts the pair if missing; the unique (participant1_id, participant2_id)
// constraint makes concurrent creators converge on one row.
func (r *conversationRepo) GetOrCreate(ctx context.Context, p1, p2 uuid.UUID) (model.Conversation, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (participant1_id, participant2_id)
		VALUES ($1, $2)
		ON CONFLICT (participant1_id, participant2_id) DO NOTHING
	`, p1, p2)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	c, err := scanConversation(r.db.QueryRowContext(ctx, `
		SELECT id, participant1_id, participant2_id, last_message_at, created_at
		FROM conversations
		WHERE participant1_id = $1 AND participant2_id = $2
	`, p1, p2))
	if err != nil {
		return model.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	return c, nil
}

// Get retrieves a conversation by ID
func (r *conversationRepo) Get(ctx context.Context, id uuid.UUID) (model.Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx, `
		SELECT id, participant1_id, participant2_id, last_message_at, created_at
		FROM conversations
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Conversation{}, apperr.ErrNotFound.Withf("conversation not found")
		}
		return model.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	return c, nil
}

// ListForUser returns the user's conversations, most recently active first, with unread counts
func (r *conversationRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.participant1_id, c.participant2_id, c.last_message_at, c.created_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id
		          AND m.sender_id <> $1
		          AND m.is_read = false
		          AND m.is_deleted = false) AS unread
		FROM conversations c
		WHERE c.participant1_id = $1 OR c.participant2_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []model.ConversationSummary
	for rows.Next() {
		var s model.ConversationSummary
		var last sql.NullTime
		if err := rows.Scan(&s.ID, &s.Participant1ID, &s.Participant2ID, &last, &s.CreatedAt, &s.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if last.Valid {
			s.LastMessageAt = &last.Time
		}
		s.PeerID = s.Peer(userID)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}
