package messaging

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/repo"
)

// FriendshipChecker answers whether two users may open a conversation.
// Friendship itself is managed elsewhere.
type FriendshipChecker interface {
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// AllowAll permits every pair
type AllowAll struct{}

func (AllowAll) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return true, nil
}

// CanonicalPair orders two user ids so (a, b) and (b, a) map to the same row
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

// ConversationStore manages two-party conversations
type ConversationStore struct {
	convs   repo.ConversationRepo
	users   repo.UserRepo
	friends FriendshipChecker
}

// NewConversationStore creates a ConversationStore. friends may be nil.
func NewConversationStore(convs repo.ConversationRepo, users repo.UserRepo, friends FriendshipChecker) *ConversationStore {
	if friends == nil {
		friends = AllowAll{}
	}
	return &ConversationStore{convs: convs, users: users, friends: friends}
}

// GetOrCreate returns the conversation between a and b, creating it on first use
func (s *ConversationStore) GetOrCreate(ctx context.Context, a, b uuid.UUID) (model.Conversation, error) {
	if a == b {
		return model.Conversation{}, apperr.ErrInvalidArgument.Withf("cannot start a conversation with yourself")
	}
	if _, err := s.users.GetByID(ctx, b); err != nil {
		return model.Conversation{}, err
	}
	ok, err := s.friends.AreFriends(ctx, a, b)
	if err != nil {
		return model.Conversation{}, err
	}
	if !ok {
		return model.Conversation{}, apperr.ErrForbidden.Withf("users are not friends")
	}
	p1, p2 := CanonicalPair(a, b)
	return s.convs.GetOrCreate(ctx, p1, p2)
}

// GetForParticipant loads a conversation and checks that userID belongs to it
func (s *ConversationStore) GetForParticipant(ctx context.Context, id, userID uuid.UUID) (model.Conversation, error) {
	c, err := s.convs.Get(ctx, id)
	if err != nil {
		return model.Conversation{}, err
	}
	if !c.Has(userID) {
		return model.Conversation{}, apperr.ErrForbidden.Withf("not a participant of this conversation")
	}
	return c, nil
}

// List returns userID's conversations, most recent first
func (s *ConversationStore) List(ctx context.Context, userID uuid.UUID) ([]model.ConversationSummary, error) {
	return s.convs.ListForUser(ctx, userID)
}
