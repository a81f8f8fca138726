// ABOUTME: PBKDF2-SHA256 derivation and constant-time verification of client secrets
// ABOUTME: Salts are random hex text used verbatim as the salt bytes

package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 work factor.
	DefaultIterations = 100_000
	// KeyLength is the derived key size in bytes.
	KeyLength = 32
	// SaltLength is the number of random bytes behind a generated salt.
	SaltLength = 16
)

// Hasher derives and verifies secrets with PBKDF2-HMAC-SHA256.
type Hasher struct {
	Iterations int
}

// NewHasher returns a Hasher with the given work factor. Non-positive
// values select DefaultIterations.
func NewHasher(iterations int) Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return Hasher{Iterations: iterations}
}

// NewSalt returns SaltLength random bytes as lowercase hex.
func NewSalt() (string, error) {
	b := make([]byte, SaltLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash derives a key from secret. When salt is empty a fresh one is
// generated. The derived key and the salt actually used are returned as hex.
func (h Hasher) Hash(secret, salt string) (derivedKey, usedSalt string, err error) {
	if salt == "" {
		if salt, err = NewSalt(); err != nil {
			return "", "", err
		}
	}
	return hex.EncodeToString(h.derive(secret, salt)), salt, nil
}

// Verify reports whether secret derives to derivedKey under salt. A
// derivedKey that is not valid hex never verifies.
func (h Hasher) Verify(secret, derivedKey, salt string) bool {
	want, err := hex.DecodeString(derivedKey)
	if err != nil || len(want) != KeyLength {
		h.derive(secret, salt)
		return false
	}
	return subtle.ConstantTimeCompare(h.derive(secret, salt), want) == 1
}

func (h Hasher) derive(secret, salt string) []byte {
	iterations := h.Iterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key([]byte(secret), []byte(salt), iterations, KeyLength, sha256.New)
}
