package generator

import (
	"context"
	"errors"
	"fmt"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSigningKeyLength is the shortest HMAC key JWT accepts.
const MinSigningKeyLength = 32

// Claims are the claims carried by a JWT access token.
type Claims struct {
	jwtv5.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// JWT issues HS256-signed access tokens. Refresh tokens and codes are opaque.
type JWT struct {
	Issuer string
	KeyID  string
	key    []byte
	opaque Opaque
}

var _ Generator = (*JWT)(nil)

// NewJWT creates a JWT generator signing with key.
func NewJWT(issuer string, key []byte) (*JWT, error) {
	if len(key) < MinSigningKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", MinSigningKeyLength, len(key))
	}
	return &JWT{Issuer: issuer, key: key}, nil
}

// AccessToken signs a token whose subject is the user, or the client for
// client-only tokens. Every token carries a unique jti.
func (g *JWT) AccessToken(_ context.Context, p Params) (string, error) {
	var clientID string
	if p.Client != nil {
		clientID = p.Client.ID
	}
	subject := clientID
	if p.User != nil && p.User.ID != "" {
		subject = p.User.ID
	}

	claims := Claims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:   g.Issuer,
			Subject:  subject,
			ID:       uuid.NewString(),
			IssuedAt: jwtv5.NewNumericDate(p.IssuedAt),
		},
		ClientID: clientID,
		Scope:    p.Scope.String(),
	}
	if clientID != "" {
		claims.Audience = jwtv5.ClaimStrings{clientID}
	}
	if !p.ExpiresAt.IsZero() {
		claims.ExpiresAt = jwtv5.NewNumericDate(p.ExpiresAt)
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "at+jwt"
	if g.KeyID != "" {
		tk.Header["kid"] = g.KeyID
	}
	signed, err := tk.SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// RefreshToken returns an opaque refresh token.
func (g *JWT) RefreshToken(ctx context.Context, p Params) (string, error) {
	return g.opaque.RefreshToken(ctx, p)
}

// AuthorizationCode returns an opaque code.
func (g *JWT) AuthorizationCode(ctx context.Context, p Params) (string, error) {
	return g.opaque.AuthorizationCode(ctx, p)
}

// Parse verifies a token signed by g and returns its claims.
func (g *JWT) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwtv5.ParseWithClaims(token, claims, func(t *jwtv5.Token) (any, error) {
		return g.key, nil
	},
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithIssuer(g.Issuer),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
