package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-engine/instrumentation"
)

// EncryptionKeySize is the required key length for AES-256.
const EncryptionKeySize = 32

// Encryptor seals storage payloads at rest using AES-256-GCM.
// A nil or disabled Encryptor passes data through unchanged.
type Encryptor struct {
	aead    cipher.AEAD
	metrics *instrumentation.Metrics
}

// NewEncryptor creates a new encryptor. An empty key disables encryption.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return &Encryptor{}, nil
	}
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d", EncryptionKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// SetInstrumentation enables encryption metrics.
func (e *Encryptor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if e != nil && inst != nil {
		e.metrics = inst.Metrics()
	}
}

// IsEnabled returns true if encryption is enabled
func (e *Encryptor) IsEnabled() bool {
	return e != nil && e.aead != nil
}

// Seal encrypts plaintext. Output layout is [nonce][ciphertext+tag].
func (e *Encryptor) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	if !e.IsEnabled() {
		return plaintext, nil
	}
	defer e.record(ctx, "encrypt", time.Now())

	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (e *Encryptor) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	if !e.IsEnabled() {
		return sealed, nil
	}
	defer e.record(ctx, "decrypt", time.Now())

	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plaintext, err := e.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (e *Encryptor) record(ctx context.Context, op string, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordEncryptionOperation(ctx, op, float64(time.Since(start).Microseconds())/1000)
	}
}

// GenerateKey generates a new random AES-256 key
func GenerateKey() ([]byte, error) {
	key := make([]byte, EncryptionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded encryption key
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", EncryptionKeySize, len(key))
	}
	return key, nil
}

// KeyToBase64 encodes an encryption key to base64
func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
