package server

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/giantswarm/oauth2-engine/generator"
)

// applySecureDefaults fills in unset values and logs warnings for settings that
// weaken the server. It never turns an explicitly enabled option off.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyLifetimeDefaults(config)

	if config.Generator == nil {
		config.Generator = generator.Opaque{}
	}

	logSecurityWarnings(config, logger)

	return config
}

// applyLifetimeDefaults sets default values for token and code lifetimes.
func applyLifetimeDefaults(config *Config) {
	if config.AccessTokenLifetime == 0 {
		config.AccessTokenLifetime = 3600 // 1 hour
	}
	if config.RefreshTokenLifetime == 0 {
		config.RefreshTokenLifetime = 1209600 // 14 days
	}
	if config.AuthorizationCodeLifetime == 0 {
		config.AuthorizationCodeLifetime = 300 // 5 minutes
	}
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowBearerTokensInQueryString {
		logger.Warn("SECURITY WARNING: Bearer tokens accepted in query string",
			"risk", "Tokens leak into access logs, proxies and browser history",
			"recommendation", "Send tokens in the Authorization header",
			"rfc", "RFC 6750 Section 2.3")
	}
	if config.AllowEmptyState {
		logger.Warn("SECURITY WARNING: Authorization requests without state are accepted",
			"risk", "CSRF on the redirect back to the client",
			"recommendation", "Require clients to send state")
	}
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: 'plain' PKCE method is allowed",
			"risk", "Code challenge equals the verifier and offers no protection if intercepted",
			"recommendation", "Use S256 only",
			"rfc", "RFC 7636 Section 4.2")
	}
	if !config.RequirePKCEForPublicClients {
		logger.Warn("SECURITY WARNING: PKCE is optional for public clients",
			"risk", "Authorization code interception",
			"recommendation", "Set RequirePKCEForPublicClients=true")
	}
	if config.RequirePKCEForPublicClients && config.clientAuthenticationRequired(GrantTypeAuthorizationCode) {
		logger.Warn("Public clients can obtain authorization codes but not redeem them",
			"reason", "authorization_code requires client authentication",
			"recommendation", "Set RequireClientAuthentication[\"authorization_code\"]=false")
	}
	if config.IssueRefreshTokenForClientCredentials {
		logger.Warn("Refresh tokens are issued for client_credentials",
			"recommendation", "RFC 6749 Section 4.4.3 advises against it")
	}
}

// Validate checks the configuration for values that can never work.
func (c *Config) Validate() error {
	if c.AccessTokenLifetime < 0 {
		return fmt.Errorf("access token lifetime must not be negative")
	}
	if c.RefreshTokenLifetime < 0 {
		return fmt.Errorf("refresh token lifetime must not be negative")
	}
	if c.AuthorizationCodeLifetime < 0 {
		return fmt.Errorf("authorization code lifetime must not be negative")
	}
	if len(c.SupportedScopes) > 0 && !c.SupportedScopes.Contains(c.DefaultScope) {
		return fmt.Errorf("default scope %q is not a subset of the supported scopes", c.DefaultScope.String())
	}
	for grantType, handler := range c.ExtensionGrants {
		if handler == nil {
			return fmt.Errorf("extension grant %q has no handler", grantType)
		}
		if _, builtin := builtinGrantTypes[grantType]; builtin {
			return fmt.Errorf("extension grant %q shadows a built-in grant type", grantType)
		}
		u, err := url.Parse(grantType)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("extension grant type %q must be an absolute URI", grantType)
		}
	}
	return nil
}
