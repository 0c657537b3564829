// Package codec is the encryption boundary for direct messages. It runs on the
// client: plaintext and private keys exist only here.
//
// Keys are X25519 and bodies are sealed with XSalsa20-Poly1305 (NaCl box) under
// the precomputed pairwise secret, so derive(a, B) == derive(b, A).
package codec

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/memechat/server/internal/apperr"
	"golang.org/x/crypto/nacl/box"
)

const (
	KeySize   = 32
	NonceSize = 24
	// Overhead is the authenticator length added to every ciphertext
	Overhead = box.Overhead
)

// KeyPair is an X25519 key pair
type KeyPair struct {
	Public  *[KeySize]byte
	Private *[KeySize]byte
}

// SharedSecret is the symmetric key shared by two parties
type SharedSecret [KeySize]byte

// GenerateKeyPair creates a fresh key pair from crypto/rand
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// PublicKeyFromBytes validates and copies a wire public key
func PublicKeyFromBytes(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", KeySize, len(b))
	}
	var k [KeySize]byte
	copy(k[:], b)
	return &k, nil
}

// DeriveSharedSecret combines our private key with the counterparty's public key
func DeriveSharedSecret(ownPrivate, counterpartyPublic *[KeySize]byte) SharedSecret {
	var s SharedSecret
	box.Precompute((*[KeySize]byte)(&s), counterpartyPublic, ownPrivate)
	return s
}

// Encrypt seals plaintext under secret with a fresh random nonce
func Encrypt(plaintext []byte, secret *SharedSecret) (ciphertext []byte, nonce [NonceSize]byte, err error) {
	return encrypt(rand.Reader, plaintext, secret)
}

func encrypt(rng io.Reader, plaintext []byte, secret *SharedSecret) ([]byte, [NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rng, nonce[:]); err != nil {
		return nil, nonce, fmt.Errorf("generate nonce: %w", err)
	}
	ct := box.SealAfterPrecomputation(nil, plaintext, &nonce, (*[KeySize]byte)(secret))
	return ct, nonce, nil
}

// Decrypt opens ciphertext. Any tampering or wrong key yields
// ErrDecryptAuthenticationFailed and no plaintext.
func Decrypt(ciphertext, nonce []byte, secret *SharedSecret) ([]byte, error) {
	if len(nonce) != NonceSize || len(ciphertext) < Overhead {
		return nil, apperr.ErrDecryptAuthenticationFailed
	}
	var n [NonceSize]byte
	copy(n[:], nonce)
	pt, ok := box.OpenAfterPrecomputation(nil, ciphertext, &n, (*[KeySize]byte)(secret))
	if !ok {
		return nil, apperr.ErrDecryptAuthenticationFailed
	}
	if pt == nil {
		pt = []byte{}
	}
	return pt, nil
}
