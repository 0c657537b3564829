package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// Wallet is an Ed25519 signing key whose base58 public key is its address
type Wallet struct {
	priv ed25519.PrivateKey
}

// NewWallet generates a fresh wallet
func NewWallet() (*Wallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	return &Wallet{priv: priv}, nil
}

// WalletFromSeed restores a wallet from a 32-byte seed
func WalletFromSeed(seed []byte) (*Wallet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes", ed25519.SeedSize)
	}
	return &Wallet{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Address is the base58-encoded public key
func (w *Wallet) Address() string {
	return base58.Encode(w.PublicKey())
}

// PublicKey returns the raw 32-byte public key
func (w *Wallet) PublicKey() []byte {
	return []byte(w.priv.Public().(ed25519.PublicKey))
}

// Sign signs the exact UTF-8 bytes of message and returns base58
func (w *Wallet) Sign(message string) string {
	return base58.Encode(ed25519.Sign(w.priv, []byte(message)))
}
