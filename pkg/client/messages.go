package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/codec"
)

// ErrEncryptionNotEnabled is returned before RotateKey has been called
var ErrEncryptionNotEnabled = errors.New("memechat: no local encryption key; call RotateKey first")

// Conversation is a direct conversation as seen by the caller
type Conversation struct {
	ID            uuid.UUID  `json:"id"`
	PeerUserID    uuid.UUID  `json:"peerUserId"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	UnreadCount   int        `json:"unreadCount"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Message is a stored message. EncryptedContent and Nonce are base64 and empty once deleted.
type Message struct {
	ID                  uuid.UUID `json:"id"`
	ConversationID      uuid.UUID `json:"conversationId"`
	SenderID            uuid.UUID `json:"senderId"`
	RecipientID         uuid.UUID `json:"recipientId"`
	EncryptedContent    string    `json:"encryptedContent"`
	Nonce               string    `json:"nonce"`
	SenderKeyVersion    int       `json:"senderKeyVersion"`
	RecipientKeyVersion int       `json:"recipientKeyVersion"`
	IsRead              bool      `json:"isRead"`
	IsDeleted           bool      `json:"isDeleted"`
	Seq                 int64     `json:"seq"`
	CreatedAt           time.Time `json:"createdAt"`
}

// SendRequest is the wire form of an encrypted message
type SendRequest struct {
	EncryptedContent    string `json:"encryptedContent"`
	Nonce               string `json:"nonce"`
	SenderKeyVersion    int    `json:"senderKeyVersion,omitempty"`
	RecipientKeyVersion int    `json:"recipientKeyVersion,omitempty"`
}

type peerBody struct {
	PeerUserID uuid.UUID `json:"peerUserId"`
}

type markReadResult struct {
	Updated int64 `json:"updated"`
}

// OpenConversation returns the conversation with peer, creating it if needed
func (c *Client) OpenConversation(ctx context.Context, peer uuid.UUID) (*Conversation, error) {
	var conv Conversation
	if err := c.post(ctx, "/conversations", peerBody{PeerUserID: peer}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Conversations lists the caller's conversations, most recent first
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var list []Conversation
	if err := c.get(ctx, "/conversations", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SendRaw posts an already encrypted message
func (c *Client) SendRaw(ctx context.Context, conversationID uuid.UUID, req SendRequest) (*Message, error) {
	var m Message
	if err := c.post(ctx, "/conversations/"+conversationID.String()+"/messages", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SendText encrypts text for conv's peer under both parties' current keys and sends it
func (c *Client) SendText(ctx context.Context, conv *Conversation, text string) (*Message, error) {
	own, ownVersion, ok := c.keyring.Current()
	if !ok {
		return nil, ErrEncryptionNotEnabled
	}
	peerKey, err := c.GetKey(ctx, conv.PeerUserID, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch recipient key: %w", err)
	}
	raw, err := peerKey.Bytes()
	if err != nil {
		return nil, fmt.Errorf("decode recipient key: %w", err)
	}
	peerPub, err := codec.PublicKeyFromBytes(raw)
	if err != nil {
		return nil, err
	}
	c.keys.put(conv.PeerUserID, peerKey.KeyVersion, raw)

	secret := codec.DeriveSharedSecret(own.Private, peerPub)
	ciphertext, nonce, err := codec.Encrypt([]byte(text), &secret)
	if err != nil {
		return nil, err
	}
	return c.SendRaw(ctx, conv.ID, SendRequest{
		EncryptedContent:    base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:               base64.StdEncoding.EncodeToString(nonce[:]),
		SenderKeyVersion:    ownVersion,
		RecipientKeyVersion: peerKey.KeyVersion,
	})
}

// Messages returns up to limit messages with seq greater than afterSeq
func (c *Client) Messages(ctx context.Context, conversationID uuid.UUID, afterSeq int64, limit int) ([]Message, error) {
	q := url.Values{}
	if afterSeq > 0 {
		q.Set("after", strconv.FormatInt(afterSeq, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/conversations/" + conversationID.String() + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list []Message
	if err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Decrypt opens m with the local keyring. Deleted messages return codec.ErrMessageDeleted.
func (c *Client) Decrypt(ctx context.Context, m Message) (string, error) {
	opener := codec.Opener{Self: c.UserID(), Keyring: c.keyring, Resolver: c.keys}
	env := codec.Envelope{
		SenderID:            m.SenderID,
		RecipientID:         m.RecipientID,
		SenderKeyVersion:    m.SenderKeyVersion,
		RecipientKeyVersion: m.RecipientKeyVersion,
	}
	if m.IsDeleted {
		_, err := opener.Open(ctx, env, true, nil, nil)
		return "", err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(m.EncryptedContent)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(m.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	plaintext, err := opener.Open(ctx, env, false, ciphertext, nonce)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// MarkRead marks the caller's received messages in the conversation as read
func (c *Client) MarkRead(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	var res markReadResult
	if err := c.post(ctx, "/conversations/"+conversationID.String()+"/read", nil, &res); err != nil {
		return 0, err
	}
	return res.Updated, nil
}

// DeleteMessage soft-deletes a message the caller sent
func (c *Client) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	return c.delete(ctx, "/messages/"+messageID.String())
}
