package model

import (
	"time"

	"github.com/google/uuid"
)

// Challenge purposes
const (
	PurposeLogin = "login"
	PurposeLink  = "link"
)

// User represents an account. At least one of WalletAddress or Email is set.
type User struct {
	ID            uuid.UUID
	WalletAddress *string
	Email         *string
	PasswordHash  *string
	Role          string
	CreatedAt     time.Time
}

// HasWallet reports whether a wallet is bound to the user
func (u User) HasWallet() bool {
	return u.WalletAddress != nil && *u.WalletAddress != ""
}

// HasPasswordLogin reports whether the user can sign in without a wallet
func (u User) HasPasswordLogin() bool {
	return u.Email != nil && *u.Email != "" && u.PasswordHash != nil && *u.PasswordHash != ""
}

// AuthChallenge is a single-use string a wallet must sign
type AuthChallenge struct {
	ID            uuid.UUID
	WalletAddress string
	Challenge     string
	Purpose       string
	UserID        *uuid.UUID
	ExpiresAt     time.Time
	Used          bool
	UsedAt        *time.Time
	CreatedAt     time.Time
}

// Session is the server-side record behind a bearer token
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Active reports whether the session is usable at the given time
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// EncryptionKeyRecord is a user's published X25519 public key
type EncryptionKeyRecord struct {
	UserID     uuid.UUID
	PublicKey  []byte
	KeyVersion int
	UpdatedAt  time.Time
}

// Conversation is a two-party DM thread; Participant1ID < Participant2ID
type Conversation struct {
	ID             uuid.UUID
	Participant1ID uuid.UUID
	Participant2ID uuid.UUID
	LastMessageAt  *time.Time
	CreatedAt      time.Time
}

// Has reports whether userID is a participant
func (c Conversation) Has(userID uuid.UUID) bool {
	return c.Participant1ID == userID || c.Participant2ID == userID
}

// Peer returns the other participant
func (c Conversation) Peer(userID uuid.UUID) uuid.UUID {
	if c.Participant1ID == userID {
		return c.Participant2ID
	}
	return c.Participant1ID
}

// ConversationSummary is a conversation as listed for one participant
type ConversationSummary struct {
	Conversation
	PeerID      uuid.UUID
	UnreadCount int
}

// Message is an encrypted DM. Content and Nonce are cleared on soft delete.
type Message struct {
	ID                  uuid.UUID
	ConversationID      uuid.UUID
	SenderID            uuid.UUID
	RecipientID         uuid.UUID
	EncryptedContent    []byte
	Nonce               []byte
	SenderKeyVersion    int
	RecipientKeyVersion int
	IsRead              bool
	IsDeleted           bool
	CreatedAt           time.Time
	Seq                 int64
}
