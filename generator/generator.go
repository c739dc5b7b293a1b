// Package generator produces access tokens, refresh tokens and authorization codes.
//
// Opaque generates random strings and is the default. JWT signs self-describing
// access tokens with github.com/golang-jwt/jwt/v5 and falls back to Opaque for
// refresh tokens and codes. Whatever the generator, the engine still persists every
// token and validates it through the Store.
package generator

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-engine/storage"
)

// MinCodeLength is the shortest authorization code or token Opaque will produce.
const MinCodeLength = 32

// Params describes what a generated value is issued for.
type Params struct {
	Client    *storage.Client
	User      *storage.User
	Scope     storage.Scope
	IssuedAt  time.Time
	ExpiresAt time.Time // zero when the value does not expire
}

// Generator mints token and code strings.
type Generator interface {
	AccessToken(ctx context.Context, p Params) (string, error)
	RefreshToken(ctx context.Context, p Params) (string, error)
	AuthorizationCode(ctx context.Context, p Params) (string, error)
}

// Opaque generates URL-safe random strings.
type Opaque struct {
	// Bytes is the amount of randomness per value. Zero uses 32 bytes
	// (oauth2.GenerateVerifier, 43 characters). Values below 24 are raised to 24
	// so the encoded result is at least MinCodeLength characters.
	Bytes int
}

var _ Generator = Opaque{}

func (o Opaque) generate() (string, error) {
	if o.Bytes <= 0 {
		return oauth2.GenerateVerifier(), nil
	}
	n := o.Bytes
	if n < 24 {
		n = 24
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AccessToken returns a random access token.
func (o Opaque) AccessToken(context.Context, Params) (string, error) { return o.generate() }

// RefreshToken returns a random refresh token.
func (o Opaque) RefreshToken(context.Context, Params) (string, error) { return o.generate() }

// AuthorizationCode returns a random authorization code.
func (o Opaque) AuthorizationCode(context.Context, Params) (string, error) { return o.generate() }
