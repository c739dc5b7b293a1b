package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations. The engine maps them to
// protocol errors; any other error is treated as a server error.
var (
	ErrClientNotFound            = errors.New("client not found")
	ErrUserNotFound              = errors.New("user not found")
	ErrTokenNotFound             = errors.New("token not found")
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrInvalidCredentials        = errors.New("invalid credentials")
)

// Store is the capability interface every storage backend satisfies.
// All methods accept context.Context; the engine awaits each call before
// taking the next dependent step and imposes no timeout of its own.
type Store interface {
	// GetClient retrieves a client by ID. Returns ErrClientNotFound if unknown.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret checks a client's secret.
	// Returns ErrInvalidCredentials on mismatch and ErrClientNotFound if unknown.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// SaveToken persists an access token and, if set, its refresh token.
	SaveToken(ctx context.Context, token *Token) error

	// GetAccessToken looks a token up by its access token string.
	// Returns ErrTokenNotFound if unknown or revoked.
	GetAccessToken(ctx context.Context, accessToken string) (*Token, error)

	// GetRefreshToken looks a token up by its refresh token string.
	// Returns ErrTokenNotFound if unknown or revoked.
	GetRefreshToken(ctx context.Context, refreshToken string) (*Token, error)

	// RotateRefreshToken invalidates oldRefreshToken and saves next in one atomic step,
	// so there is no window where both refresh tokens are valid.
	// next.RefreshToken may equal oldRefreshToken when the refresh token is reused.
	// Returns ErrTokenNotFound if oldRefreshToken was already invalidated; in that case
	// next must not have been saved.
	RotateRefreshToken(ctx context.Context, oldRefreshToken string, next *Token) error

	// RevokeAccessToken invalidates an access token. Returns ErrTokenNotFound if unknown.
	RevokeAccessToken(ctx context.Context, accessToken string) error

	// RevokeRefreshToken invalidates a refresh token. Returns ErrTokenNotFound if unknown.
	RevokeRefreshToken(ctx context.Context, refreshToken string) error

	// SaveAuthorizationCode persists an issued authorization code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without consuming it.
	// Returns ErrAuthorizationCodeNotFound if unknown or already consumed.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// RevokeAuthorizationCode consumes a code with check-and-delete semantics.
	// SECURITY: This operation MUST be atomic. When two callers race on the same code,
	// exactly one gets nil and the other gets ErrAuthorizationCodeNotFound.
	RevokeAuthorizationCode(ctx context.Context, code string) error
}

// UserStore resolves resource owners by credentials (password grant).
// Optional: used when no password verifier hook is configured.
type UserStore interface {
	// GetUser returns the user for the given credentials.
	// Returns ErrInvalidCredentials or ErrUserNotFound when verification fails.
	GetUser(ctx context.Context, username, password string) (*User, error)
}

// ClientUserResolver resolves the user a client acts on behalf of (client_credentials grant).
// Optional: without it client_credentials tokens carry no user.
type ClientUserResolver interface {
	GetUserFromClient(ctx context.Context, client *Client) (*User, error)
}

// ScopeValidator overrides the engine's default scope validation at grant time.
// It returns the scope to grant and ok=true, or ok=false to reject the request
// with invalid_scope. A nil or empty scope with ok=true grants no scope.
type ScopeValidator interface {
	ValidateScope(ctx context.Context, user *User, client *Client, requested Scope) (granted Scope, ok bool, err error)
}

// ScopeVerifier overrides the engine's default scope check during authentication.
type ScopeVerifier interface {
	VerifyScope(ctx context.Context, token *Token, required Scope) (bool, error)
}

// ImplicitTokenSaver lets a backend decide how tokens issued by the implicit flow are kept.
// Without it the engine persists implicit tokens with SaveToken so they can be
// authenticated and revoked like any other token.
type ImplicitTokenSaver interface {
	SaveImplicitToken(ctx context.Context, token *Token) error
}

// Client represents a registered OAuth client
type Client struct {
	ID           string
	SecretHash   string // bcrypt hash; empty for public clients
	RedirectURIs []string
	Grants       []string // allowed grant types, e.g. "authorization_code", "implicit"
	Scopes       Scope    // allowed scope; empty means any scope the server supports

	// Per-client lifetime overrides. Zero uses the server configuration.
	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration
}

// IsConfidential reports whether the client has a secret.
func (c *Client) IsConfidential() bool {
	return c.SecretHash != ""
}

// HasGrant reports whether the client may use the grant type.
func (c *Client) HasGrant(grantType string) bool {
	for _, g := range c.Grants {
		if g == grantType {
			return true
		}
	}
	return false
}

// HasRedirectURI reports whether uri is registered for the client (exact match).
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// User is an opaque resource owner. The engine never interprets Attributes.
type User struct {
	ID         string
	Attributes map[string]string
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               Scope
	User                *User
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
}

// Token is an issued access token with its optional refresh token.
type Token struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time // required; Authenticate fails with server_error when zero
	RefreshToken          string
	RefreshTokenExpiresAt time.Time // zero means the refresh token never expires
	Scope                 Scope
	ClientID              string
	User                  *User
}

// UserID returns the ID of the token's user, or "" for client-only tokens.
func (t *Token) UserID() string {
	if t == nil || t.User == nil {
		return ""
	}
	return t.User.ID
}

// Clone returns a deep copy so backends never hand out references to stored state.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	c.Scope = t.Scope.Clone()
	c.User = t.User.Clone()
	return &c
}

// Clone returns a deep copy of the code.
func (a *AuthorizationCode) Clone() *AuthorizationCode {
	if a == nil {
		return nil
	}
	c := *a
	c.Scope = a.Scope.Clone()
	c.User = a.User.Clone()
	return &c
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.Grants = append([]string(nil), c.Grants...)
	cp.Scopes = c.Scopes.Clone()
	return &cp
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := &User{ID: u.ID}
	if u.Attributes != nil {
		cp.Attributes = make(map[string]string, len(u.Attributes))
		for k, v := range u.Attributes {
			cp.Attributes[k] = v
		}
	}
	return cp
}

// Unwrapper is implemented by decorators that wrap another Store, such as a cache.
type Unwrapper interface {
	Unwrap() Store
}

// As walks the Unwrap chain starting at s and returns the first store that implements T.
// The engine uses it to discover optional interfaces behind decorators.
func As[T any](s Store) (T, bool) {
	for s != nil {
		if v, ok := s.(T); ok {
			return v, true
		}
		u, ok := s.(Unwrapper)
		if !ok {
			break
		}
		s = u.Unwrap()
	}
	var zero T
	return zero, false
}
