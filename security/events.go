package security

// Event type constants for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when the token endpoint or the implicit flow issues an access token
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed using a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked through the revocation endpoint
	EventTokenRevoked = "token_revoked"

	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when a code redemption loses the
	// single-use race or presents a code that was already consumed
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventAccessDenied is logged when the resource owner or the user hook denies an authorization
	EventAccessDenied = "access_denied"

	// Security violation events

	// EventAuthFailure is logged when client or resource owner authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventPKCEValidationFailed is logged when PKCE code_verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventPKCERequiredForPublicClient is logged when a public client attempts a code flow without PKCE
	EventPKCERequiredForPublicClient = "pkce_required_for_public_client"

	// EventRefreshTokenReuseDetected is logged when a refresh token is presented after rotation
	EventRefreshTokenReuseDetected = "refresh_token_reuse_detected" //nolint:gosec // event name, not a credential

	// EventInvalidRedirect is logged when an unregistered redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a client asks for more scope than it may have
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventInsufficientScope is logged when a bearer token lacks the scope a resource requires
	EventInsufficientScope = "insufficient_scope"
)
