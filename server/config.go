package server

import (
	"context"
	"time"

	"github.com/giantswarm/oauth2-engine/generator"
	"github.com/giantswarm/oauth2-engine/storage"
)

// PasswordVerifier authenticates a resource owner for the password grant.
// It returns the user on success. Returning storage.ErrInvalidCredentials or
// storage.ErrUserNotFound rejects the grant with invalid_grant.
type PasswordVerifier func(ctx context.Context, username, password string) (*storage.User, error)

// Config holds OAuth server configuration
type Config struct {
	// AccessTokenLifetime is how long access tokens are valid
	AccessTokenLifetime int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenLifetime is how long refresh tokens are valid
	RefreshTokenLifetime int64 // seconds, default: 1209600 (14 days)

	// AuthorizationCodeLifetime is how long authorization codes are valid
	AuthorizationCodeLifetime int64 // seconds, default: 300 (5 minutes)

	// AllowBearerTokensInQueryString accepts the access_token query parameter
	// WARNING: Tokens in URLs end up in access logs and browser history (RFC 6750 §2.3)
	// Default: false
	AllowBearerTokensInQueryString bool

	// AllowEmptyState lets authorization requests omit the state parameter
	// WARNING: Without state the client has no CSRF protection for the redirect
	// Default: false
	AllowEmptyState bool

	// AlwaysIssueNewRefreshToken rotates the refresh token on every refresh_token grant.
	// When false the presented refresh token is kept and only the access token changes.
	// Default: true (DefaultConfig)
	AlwaysIssueNewRefreshToken bool

	// DefaultScope is granted when a request does not ask for any scope
	DefaultScope storage.Scope

	// SupportedScopes lists the scopes the server knows about
	// If empty, any scope the client is allowed is accepted
	SupportedScopes storage.Scope

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// Default: false
	AllowPKCEPlain bool

	// RequirePKCEForPublicClients rejects code requests without a code_challenge
	// from clients that have no secret.
	// Default: true (DefaultConfig)
	RequirePKCEForPublicClients bool

	// RequireClientAuthentication controls, per grant type, whether the client must
	// present its secret at the token endpoint. Grants not listed require it.
	// client_credentials always requires authentication, and so does any client that
	// has a secret. The revocation endpoint is keyed EndpointRevocation.
	// Example: {"password": false} lets public clients use the password grant.
	// Default: {"authorization_code": false} (DefaultConfig), so public clients can
	// redeem the PKCE-bound codes they are issued.
	RequireClientAuthentication map[string]bool

	// IssueRefreshTokenForClientCredentials adds a refresh token to client_credentials
	// responses. RFC 6749 §4.4.3 says it SHOULD NOT be included.
	// Default: false
	IssueRefreshTokenForClientCredentials bool

	// ExtensionGrants registers additional grant types (RFC 6749 §4.5).
	// Keys must be absolute URIs, e.g. "urn:ietf:params:oauth:grant-type:jwt-bearer".
	ExtensionGrants map[string]GrantHandler

	// PasswordVerifier authenticates resource owners for the password grant.
	// If nil, the store must implement storage.UserStore.
	PasswordVerifier PasswordVerifier

	// Generator mints tokens and codes. Default: generator.Opaque{}
	Generator generator.Generator

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns a configuration with the secure defaults applied.
func DefaultConfig() *Config {
	config := &Config{
		AlwaysIssueNewRefreshToken:  true,
		RequirePKCEForPublicClients: true,
		RequireClientAuthentication: map[string]bool{GrantTypeAuthorizationCode: false},
	}
	applyLifetimeDefaults(config)
	return config
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Config) accessTokenLifetime() time.Duration {
	return time.Duration(c.AccessTokenLifetime) * time.Second
}

func (c *Config) refreshTokenLifetime() time.Duration {
	return time.Duration(c.RefreshTokenLifetime) * time.Second
}

func (c *Config) authorizationCodeLifetime() time.Duration {
	return time.Duration(c.AuthorizationCodeLifetime) * time.Second
}

// clientAuthenticationRequired reports whether grantType needs a client secret.
func (c *Config) clientAuthenticationRequired(grantType string) bool {
	if grantType == GrantTypeClientCredentials {
		return true
	}
	if required, ok := c.RequireClientAuthentication[grantType]; ok {
		return required
	}
	return true
}
