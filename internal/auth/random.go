package auth

import (
	"crypto/rand"
	"encoding/hex"
)

// challengeNonceBytes gives each challenge 256 bits of entropy
const challengeNonceBytes = 32

// randomHex returns n random bytes encoded as hex
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
