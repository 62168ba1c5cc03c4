package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// secretBytes is the entropy of a generated daemon secret. 32 bytes
// gives a 64-character hex token.
const secretBytes = 32

// GenerateSecret returns a new random daemon secret. The secret is
// shown to the operator exactly once at node creation; afterwards only
// the daemon holds it.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// VerifySecret compares a presented token against the stored secret in
// constant time
func VerifySecret(stored, presented string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
