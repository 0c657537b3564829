package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/codec"
)

// PublicKey is a directory entry
type PublicKey struct {
	UserID     uuid.UUID `json:"userId"`
	PublicKey  string    `json:"publicKey"`
	KeyVersion int       `json:"keyVersion"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Bytes decodes the base64 key
func (k PublicKey) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(k.PublicKey)
}

type publishKeyBody struct {
	PublicKey string `json:"publicKey"`
}

type publishKeyResult struct {
	KeyVersion int `json:"keyVersion"`
}

// PublishKey uploads a raw public key and returns its version
func (c *Client) PublishKey(ctx context.Context, publicKey []byte) (int, error) {
	var res publishKeyResult
	body := publishKeyBody{PublicKey: base64.StdEncoding.EncodeToString(publicKey)}
	if err := c.put(ctx, "/keys", body, &res); err != nil {
		return 0, err
	}
	return res.KeyVersion, nil
}

// GetKey fetches a user's current key, or a specific version when version > 0
func (c *Client) GetKey(ctx context.Context, userID uuid.UUID, version int) (*PublicKey, error) {
	path := "/keys/" + userID.String()
	if version > 0 {
		path += "?version=" + strconv.Itoa(version)
	}
	var k PublicKey
	if err := c.get(ctx, path, &k); err != nil {
		return nil, err
	}
	return &k, nil
}

// RotateKey generates a new encryption key pair, publishes it and makes it
// current in the local keyring. The first call enables encryption.
func (c *Client) RotateKey(ctx context.Context) (int, error) {
	kp, err := codec.GenerateKeyPair()
	if err != nil {
		return 0, err
	}
	version, err := c.PublishKey(ctx, kp.Public[:])
	if err != nil {
		return 0, fmt.Errorf("publish key: %w", err)
	}
	c.keyring.Add(version, kp)
	c.keys.put(c.UserID(), version, kp.Public[:])
	return version, nil
}

// keyCache resolves (user, version) to public keys. Published versions never
// change so entries are kept for the client's lifetime.
type keyCache struct {
	c  *Client
	mu sync.Mutex
	m  map[keyRef][]byte
}

type keyRef struct {
	user    uuid.UUID
	version int
}

func newKeyCache(c *Client) *keyCache {
	return &keyCache{c: c, m: make(map[keyRef][]byte)}
}

func (k *keyCache) put(user uuid.UUID, version int, pub []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[keyRef{user, version}] = append([]byte(nil), pub...)
}

// PublicKey implements codec.PublicKeyResolver
func (k *keyCache) PublicKey(ctx context.Context, userID uuid.UUID, version int) ([]byte, error) {
	k.mu.Lock()
	pub, ok := k.m[keyRef{userID, version}]
	k.mu.Unlock()
	if ok {
		return pub, nil
	}

	rec, err := k.c.GetKey(ctx, userID, version)
	if err != nil {
		return nil, err
	}
	raw, err := rec.Bytes()
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	k.put(userID, rec.KeyVersion, raw)
	return raw, nil
}
