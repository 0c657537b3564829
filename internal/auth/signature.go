package auth

import (
	"crypto/ed25519"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// Verify reports whether signature is a valid Ed25519 signature of message by publicKey.
// The message is checked byte for byte; nothing is normalized.
func Verify(message, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// DeriveWalletAddress returns the base58 wallet address for an Ed25519 public key
func DeriveWalletAddress(publicKey []byte) (string, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	return base58.Encode(publicKey), nil
}

// DecodeBase58 decodes a base58 string, rejecting empty or invalid input
func DecodeBase58(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty base58 string")
	}
	b := base58.Decode(s)
	if len(b) == 0 {
		return nil, fmt.Errorf("invalid base58 string")
	}
	return b, nil
}

// ValidWalletAddress reports whether addr decodes to a 32-byte public key
func ValidWalletAddress(addr string) bool {
	b, err := DecodeBase58(addr)
	return err == nil && len(b) == ed25519.PublicKeySize
}
