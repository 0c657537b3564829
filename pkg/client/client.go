// Package client is a Go SDK for the memechat API. It signs wallet challenges
// and encrypts or decrypts direct messages locally; the server only ever sees
// ciphertext and public keys.
package client

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/codec"
)

// Client talks to one memechat server as one user
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu      sync.RWMutex
	token   string
	userID  uuid.UUID
	keyring *codec.Keyring
	keys    *keyCache
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSession resumes an existing session
func WithSession(token string, userID uuid.UUID) Option {
	return func(c *Client) {
		c.token = token
		c.userID = userID
	}
}

// New creates a Client for baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		keyring:    codec.NewKeyring(),
	}
	c.keys = newKeyCache(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current session token, if signed in
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// UserID returns the signed-in user's id
func (c *Client) UserID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Keyring exposes the local private keys, e.g. to persist them
func (c *Client) Keyring() *codec.Keyring {
	return c.keyring
}

func (c *Client) setSession(token string, userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.userID = userID
}
