// Package messaging stores and relays end-to-end encrypted direct messages.
// The server only ever handles ciphertext.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/codec"
	"github.com/memechat/server/internal/keys"
	"github.com/memechat/server/internal/metrics"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/notify"
	"github.com/memechat/server/internal/repo"
)

const (
	// MaxCiphertextSize caps a single encrypted body
	MaxCiphertextSize = 64 * 1024

	DefaultPageSize = 100
	MaxPageSize     = 500
)

// SendParams is an already encrypted message. Zero key versions mean "current".
type SendParams struct {
	ConversationID      uuid.UUID
	SenderID            uuid.UUID
	EncryptedContent    []byte
	Nonce               []byte
	SenderKeyVersion    int
	RecipientKeyVersion int
}

// Service orchestrates conversations, keys and message storage
type Service struct {
	convs    *ConversationStore
	messages repo.MessageRepo
	keys     *keys.Directory
	notifier notify.Dispatcher
	log      *slog.Logger
}

// NewService creates a messaging Service
func NewService(convs *ConversationStore, messages repo.MessageRepo, keyDir *keys.Directory, notifier notify.Dispatcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.LogDispatcher{Log: log}
	}
	return &Service{convs: convs, messages: messages, keys: keyDir, notifier: notifier, log: log}
}

// GetOrCreateConversation opens (or reuses) the conversation between a and b
func (s *Service) GetOrCreateConversation(ctx context.Context, a, b uuid.UUID) (model.Conversation, error) {
	return s.convs.GetOrCreate(ctx, a, b)
}

// ListConversations returns the caller's conversations with unread counts
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]model.ConversationSummary, error) {
	return s.convs.List(ctx, userID)
}

// Send validates and stores an encrypted message, then notifies the recipient
func (s *Service) Send(ctx context.Context, p SendParams) (model.Message, error) {
	conv, err := s.convs.GetForParticipant(ctx, p.ConversationID, p.SenderID)
	if err != nil {
		return model.Message{}, err
	}
	recipientID := conv.Peer(p.SenderID)

	if len(p.Nonce) != codec.NonceSize {
		return model.Message{}, apperr.ErrInvalidArgument.Withf("nonce must be %d bytes", codec.NonceSize)
	}
	if len(p.EncryptedContent) < codec.Overhead || len(p.EncryptedContent) > MaxCiphertextSize {
		return model.Message{}, apperr.ErrInvalidArgument.Withf("encrypted content has invalid length")
	}

	recipientVersion, err := s.resolveVersion(ctx, recipientID, p.RecipientKeyVersion, apperr.ErrRecipientKeyUnavailable)
	if err != nil {
		return model.Message{}, err
	}
	senderVersion, err := s.resolveVersion(ctx, p.SenderID, p.SenderKeyVersion, apperr.ErrSenderKeyUnavailable)
	if err != nil {
		return model.Message{}, err
	}

	msg, err := s.messages.Create(ctx, model.Message{
		ConversationID:      conv.ID,
		SenderID:            p.SenderID,
		RecipientID:         recipientID,
		EncryptedContent:    p.EncryptedContent,
		Nonce:               p.Nonce,
		SenderKeyVersion:    senderVersion,
		RecipientKeyVersion: recipientVersion,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("store message: %w", err)
	}
	metrics.MessagesSent.Inc()

	ev := notify.NewMessageEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		CreatedAt:      msg.CreatedAt,
	}
	if err := s.notifier.NewMessage(ctx, ev); err != nil {
		metrics.NotifyFailures.Inc()
		s.log.Warn("new message notification failed", "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

// resolveVersion returns the user's current key version, or checks that a
// requested version was actually published.
func (s *Service) resolveVersion(ctx context.Context, userID uuid.UUID, requested int, missing *apperr.AppError) (int, error) {
	cur, err := s.keys.Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return 0, missing
		}
		return 0, fmt.Errorf("lookup key: %w", err)
	}
	if requested == 0 || requested == cur.KeyVersion {
		return cur.KeyVersion, nil
	}
	if requested > cur.KeyVersion {
		return 0, apperr.ErrInvalidArgument.Withf("unknown key version %d", requested)
	}
	if _, err := s.keys.LookupVersion(ctx, userID, requested); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return 0, apperr.ErrInvalidArgument.Withf("unknown key version %d", requested)
		}
		return 0, err
	}
	return requested, nil
}

// ListMessages returns the conversation's messages in creation order. Nothing is decrypted.
func (s *Service) ListMessages(ctx context.Context, conversationID, callerID uuid.UUID, afterSeq int64, limit int) ([]model.Message, error) {
	if _, err := s.convs.GetForParticipant(ctx, conversationID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return s.messages.List(ctx, conversationID, afterSeq, limit)
}

// MarkRead marks every message the caller received in the conversation as read
func (s *Service) MarkRead(ctx context.Context, conversationID, callerID uuid.UUID) (int64, error) {
	if _, err := s.convs.GetForParticipant(ctx, conversationID, callerID); err != nil {
		return 0, err
	}
	return s.messages.MarkRead(ctx, conversationID, callerID)
}

// SoftDelete hides a message; only its sender may delete it
func (s *Service) SoftDelete(ctx context.Context, messageID, callerID uuid.UUID) error {
	return s.messages.SoftDelete(ctx, messageID, callerID)
}
