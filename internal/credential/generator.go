// Package credential generates API key secrets and turns them into storable
// digests.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// KeyBytes is the number of random bytes in a generated key (256 bits).
	KeyBytes = 32
	// KeyLength is the length of the hex-encoded key.
	KeyLength = KeyBytes * 2
	// PrefixLength is the number of leading characters stored in the clear
	// to narrow digest lookups.
	PrefixLength = 8
)

// GenerateKey returns a new hex-encoded secret read from crypto/rand.
func GenerateKey() (string, error) {
	b := make([]byte, KeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidKeyFormat reports whether s has the shape of a generated key.
func ValidKeyFormat(s string) bool {
	if len(s) != KeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Prefix returns the lookup prefix of a key. Callers must check the format
// first.
func Prefix(key string) string {
	if len(key) < PrefixLength {
		return key
	}
	return key[:PrefixLength]
}
