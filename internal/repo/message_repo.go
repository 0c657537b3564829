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

// MessageRepo defines the interface for encrypted message storage
type MessageRepo interface {
	// Create persists m and bumps the conversation's last_message_at atomically.
	Create(ctx context.Context, m model.Message) (model.Message, error)
	Get(ctx context.Context, id uuid.UUID) (model.Message, error)
	// List returns messages in creation order, starting after afterSeq.
	List(ctx context.Context, conversationID uuid.UUID, afterSeq int64, limit int) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error)
	// SoftDelete flags the message deleted and scrubs its ciphertext. Only the sender may do this.
	SoftDelete(ctx context.Context, id, senderID uuid.UUID) error
}

type messageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new MessageRepo instance
func NewMessageRepo(db *sql.DB) MessageRepo {
	return &messageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, recipient_id, encrypted_content, nonce,
	sender_key_version, recipient_key_version, is_read, is_deleted, created_at, seq`

func scanMessage(row interface{ Scan(...any) error }) (model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.EncryptedContent, &m.Nonce,
		&m.SenderKeyVersion, &m.RecipientKeyVersion, &m.IsRead, &m.IsDeleted, &m.CreatedAt, &m.Seq)
	return m, err
}

// Create inserts a message inside a transaction with the conversation update
func (r *messageRepo) Create(ctx context.Context, m model.Message) (model.Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	created, err := scanMessage(tx.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, recipient_id, encrypted_content, nonce,
		                      sender_key_version, recipient_key_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+messageColumns,
		m.ConversationID, m.SenderID, m.RecipientID, m.EncryptedContent, m.Nonce,
		m.SenderKeyVersion, m.RecipientKeyVersion))
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = $2 WHERE id = $1
	`, m.ConversationID, created.CreatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// Get retrieves a message by ID
func (r *messageRepo) Get(ctx context.Context, id uuid.UUID) (model.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, apperr.ErrNotFound.Withf("message not found")
		}
		return model.Message{}, fmt.Errorf("query message: %w", err)
	}
	return m, nil
}

// List returns messages ordered by seq
func (r *messageRepo) List(ctx context.Context, conversationID uuid.UUID, afterSeq int64, limit int) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// MarkRead marks every message not sent by readerID as read
func (r *messageRepo) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = true
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = false
	`, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// SoftDelete is idempotent for the sender
func (r *messageRepo) SoftDelete(ctx context.Context, id, senderID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET is_deleted = true, encrypted_content = NULL, nonce = NULL
		WHERE id = $1 AND sender_id = $2
	`, id, senderID)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 1 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return apperr.ErrForbidden.Withf("only the sender can delete a message")
}
