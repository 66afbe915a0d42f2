// Package auth hashes and verifies account credentials.
package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	pbkdf2KeyLen     = 64
	saltLen          = 16
)

// Hasher derives and verifies credential digests.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(digest, password string) bool
}

// PBKDF2Hasher implements Hasher with salted PBKDF2-SHA512 digests in
// "salt:hash" hex form.
type PBKDF2Hasher struct{}

// NewHasher returns the default PBKDF2 hasher.
func NewHasher() *PBKDF2Hasher {
	return &PBKDF2Hasher{}
}

// Hash derives a salted digest of the password.
func (h *PBKDF2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha512.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// Compare reports whether password matches the stored digest. A malformed
// digest never matches.
func (h *PBKDF2Hasher) Compare(digest, password string) bool {
	parts := strings.SplitN(digest, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	stored, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha512.New)
	return subtle.ConstantTimeCompare(stored, key) == 1
}
