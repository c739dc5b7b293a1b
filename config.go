package oauth

import (
	"log/slog"
	"net/http"

	"github.com/giantswarm/oauth2-engine/server"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Adapter defaults
const (
	DefaultRealm = "Service"

	DefaultRateLimitRate  = 10
	DefaultRateLimitBurst = 20
)

// Endpoint names reported in Outcome and in HTTP metrics
const (
	EndpointAuthenticate = "authenticate"
	EndpointAuthorize    = "authorize"
	EndpointToken        = "token"
	EndpointRevoke       = "revoke"
	EndpointMetadata     = "metadata"
)

// Outcome describes how the Handler finished one request.
type Outcome struct {
	// Endpoint is one of the Endpoint* constants
	Endpoint string

	// Status is the HTTP status written to the client
	Status int

	// Token is the validated token (authenticate) or the issued token (token, implicit authorize)
	Token *storage.Token

	// Code is the issued authorization code (authorize with response_type=code)
	Code *storage.AuthorizationCode

	// Err is nil on success. Otherwise it is the *oautherr.Error rendered to the client.
	Err error
}

// CompletionHook runs exactly once for every request the Handler serves, after
// the response has been written or, for Authenticate, before next is called.
type CompletionHook func(r *http.Request, outcome *Outcome)

// Config holds the HTTP adapter configuration
// Engine behaviour lives in server.Config; this only covers transport concerns.
type Config struct {
	// Realm is sent in WWW-Authenticate challenges
	// Default: "Service"
	Realm string

	// Authenticate is applied by the Authenticate middleware when none is passed
	Authenticate server.AuthenticateOptions

	// Authorize tunes the authorization endpoint. Its UserResolver decides who
	// the resource owner is, typically from a session cookie.
	Authorize server.AuthorizeOptions

	// Token tunes the token endpoint
	Token server.TokenOptions

	// OnComplete is called once per request (success or failure)
	OnComplete CompletionHook

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Issuer is the public base URL used in authorization server metadata
	Issuer string

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration for the token and revocation endpoints
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the server
	// Default: 1
	TrustedProxyCount int
}

// SecurityConfig holds HTTP security settings
type SecurityConfig struct {
	// EnableHSTS adds Strict-Transport-Security to every response.
	// Only enable when the server is reached over HTTPS.
	EnableHSTS bool

	// DisableSecurityHeaders skips X-Frame-Options, CSP and friends.
	// WARNING: Only for deployments where a proxy sets them instead.
	DisableSecurityHeaders bool
}

func (c *Config) applyDefaults() {
	if c.Realm == "" {
		c.Realm = DefaultRealm
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
	if c.RateLimit.TrustProxy && c.RateLimit.TrustedProxyCount <= 0 {
		c.RateLimit.TrustedProxyCount = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
