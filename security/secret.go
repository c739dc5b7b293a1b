package security

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrSecretMismatch is returned when a presented secret does not match its hash.
var ErrSecretMismatch = errors.New("secret mismatch")

// dummySecretHash is compared against when the real hash is unknown so that a lookup
// miss costs the same as a wrong secret.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashSecret hashes a client secret or user password with bcrypt.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// CompareSecret checks secret against a bcrypt hash. An empty hash still performs a
// bcrypt comparison against a dummy hash and then fails.
func CompareSecret(hash, secret string) error {
	target := hash
	if target == "" {
		target = dummySecretHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(target), []byte(secret))
	if hash == "" || err != nil {
		return ErrSecretMismatch
	}
	return nil
}

// ConstantTimeEqual compares two strings in constant time.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
