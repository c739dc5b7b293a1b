package testutil

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// MockTime provides a controllable time source for deterministic testing.
// Its Now method fits server.Config.Now.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for testing.
// Returns (challenge, verifier) where challenge is the S256 hash of the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// BasicAuth returns an Authorization header value for client credentials
// (RFC 6749 §2.3.1: both parts form-urlencoded before encoding).
func BasicAuth(clientID, clientSecret string) string {
	raw := url.QueryEscape(clientID) + ":" + url.QueryEscape(clientSecret)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// Form builds url.Values from alternating keys and values.
func Form(kv ...string) url.Values {
	if len(kv)%2 != 0 {
		panic("testutil.Form: odd number of arguments")
	}
	v := make(url.Values, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

// HashSecret hashes secret with bcrypt or fails the test.
func HashSecret(t testing.TB, secret string) string {
	t.Helper()
	hash, err := security.HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	return hash
}

// ClientSaver is implemented by stores that accept client registrations.
type ClientSaver interface {
	SaveClient(ctx context.Context, client *storage.Client) error
}

// SaveClient registers a client with the given secret ("" for a public client).
func SaveClient(t testing.TB, store ClientSaver, client *storage.Client, secret string) *storage.Client {
	t.Helper()
	if secret != "" {
		client.SecretHash = HashSecret(t, secret)
	}
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	return client
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
