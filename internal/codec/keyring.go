package codec

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
)

// ErrMessageDeleted is returned for deleted messages; clients show a placeholder.
var ErrMessageDeleted = errors.New("message deleted")

// Keyring holds a user's private keys by version. Old versions are kept so
// history encrypted before a rotation stays readable.
type Keyring struct {
	mu      sync.RWMutex
	pairs   map[int]KeyPair
	current int
}

// NewKeyring creates an empty keyring
func NewKeyring() *Keyring {
	return &Keyring{pairs: make(map[int]KeyPair)}
}

// Add stores kp under version and makes it current when it is the newest
func (k *Keyring) Add(version int, kp KeyPair) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pairs[version] = kp
	if version > k.current {
		k.current = version
	}
}

// Current returns the newest key pair and its version
func (k *Keyring) Current() (KeyPair, int, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	kp, ok := k.pairs[k.current]
	return kp, k.current, ok
}

// Get returns the key pair for version
func (k *Keyring) Get(version int) (KeyPair, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	kp, ok := k.pairs[version]
	return kp, ok
}

// Envelope is the addressing metadata of a stored message
type Envelope struct {
	SenderID            uuid.UUID
	RecipientID         uuid.UUID
	SenderKeyVersion    int
	RecipientKeyVersion int
}

// KeySelection says which keys open a message for one reader
type KeySelection struct {
	OwnVersion          int
	CounterpartyID      uuid.UUID
	CounterpartyVersion int
}

// SelectKeys picks keys relative to the message's sender, not to "the other
// participant". A self-sent message pairs our sender-side key with the
// recipient's key; a received one pairs our recipient-side key with the sender's.
func SelectKeys(env Envelope, self uuid.UUID) (KeySelection, error) {
	switch self {
	case env.SenderID:
		return KeySelection{
			OwnVersion:          env.SenderKeyVersion,
			CounterpartyID:      env.RecipientID,
			CounterpartyVersion: env.RecipientKeyVersion,
		}, nil
	case env.RecipientID:
		return KeySelection{
			OwnVersion:          env.RecipientKeyVersion,
			CounterpartyID:      env.SenderID,
			CounterpartyVersion: env.SenderKeyVersion,
		}, nil
	default:
		return KeySelection{}, apperr.ErrForbidden.Withf("not a participant of this message")
	}
}

// PublicKeyResolver fetches a user's public key at a version
type PublicKeyResolver interface {
	PublicKey(ctx context.Context, userID uuid.UUID, version int) ([]byte, error)
}

// Opener decrypts messages for one user
type Opener struct {
	Self     uuid.UUID
	Keyring  *Keyring
	Resolver PublicKeyResolver
}

// SecretFor derives the shared secret that seals the message described by env
func (o *Opener) SecretFor(ctx context.Context, env Envelope) (SharedSecret, error) {
	sel, err := SelectKeys(env, o.Self)
	if err != nil {
		return SharedSecret{}, err
	}
	own, ok := o.Keyring.Get(sel.OwnVersion)
	if !ok {
		return SharedSecret{}, fmt.Errorf("no private key for version %d: %w", sel.OwnVersion, apperr.ErrDecryptAuthenticationFailed)
	}
	raw, err := o.Resolver.PublicKey(ctx, sel.CounterpartyID, sel.CounterpartyVersion)
	if err != nil {
		return SharedSecret{}, fmt.Errorf("resolve counterparty key: %w", err)
	}
	peer, err := PublicKeyFromBytes(raw)
	if err != nil {
		return SharedSecret{}, apperr.ErrDecryptAuthenticationFailed.With(err)
	}
	return DeriveSharedSecret(own.Private, peer), nil
}

// Open decrypts one message
func (o *Opener) Open(ctx context.Context, env Envelope, deleted bool, ciphertext, nonce []byte) ([]byte, error) {
	if deleted {
		return nil, ErrMessageDeleted
	}
	secret, err := o.SecretFor(ctx, env)
	if err != nil {
		return nil, err
	}
	return Decrypt(ciphertext, nonce, &secret)
}
