package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Scope headers set by Authenticate (GitHub style)
const (
	HeaderAcceptedScopes   = "X-Accepted-OAuth-Scopes"
	HeaderAuthorizedScopes = "X-OAuth-Scopes"
)

// AuthenticateOptions tunes Authenticate.
type AuthenticateOptions struct {
	// Scope the token must grant. Empty means any valid token is accepted.
	Scope storage.Scope

	// AddAcceptedScopesHeader sets X-Accepted-OAuth-Scopes to Scope.
	AddAcceptedScopesHeader bool

	// AddAuthorizedScopesHeader sets X-OAuth-Scopes to the token's scope.
	AddAuthorizedScopesHeader bool
}

// Authenticate validates the bearer token carried by req (RFC 6750) and returns the
// stored token. res receives the scope headers requested in opts.
func (s *Server) Authenticate(ctx context.Context, req *Request, res *Response, opts *AuthenticateOptions) (token *storage.Token, err error) {
	ctx, span := s.startSpan(ctx, "oauth.authenticate")
	defer func() {
		s.metrics.RecordAuthenticate(ctx, errorCode(err))
		endSpan(span, err)
	}()

	if req == nil || res == nil {
		return nil, errNilEnvelope
	}
	res.reset()
	if opts == nil {
		opts = &AuthenticateOptions{}
	}

	accessToken, err := s.bearerToken(req)
	if err != nil {
		return nil, err
	}

	token, err = s.store.GetAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, oautherr.InvalidToken("invalid token: access token is invalid")
		}
		return nil, storeError("get access token", err)
	}
	if token == nil || token.AccessToken == "" {
		return nil, oautherr.InvalidToken("invalid token: access token is invalid")
	}
	if token.AccessTokenExpiresAt.IsZero() {
		return nil, oautherr.ServerError("stored access token has no expiry", nil)
	}

	if security.IsExpired(token.AccessTokenExpiresAt, s.now()) {
		s.Logger.Debug("Access token expired",
			"token_prefix", util.SafeTruncate(accessToken, 8),
			"client_id", token.ClientID)
		return nil, oautherr.InvalidToken("invalid token: access token has expired")
	}

	instrumentation.AddOAuthFlowAttributes(span, token.ClientID, token.UserID(), token.Scope.String())

	if len(opts.Scope) > 0 {
		ok, err := s.verifyScope(ctx, token, opts.Scope)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.Auditor.LogSecurityViolation(ctx, security.EventInsufficientScope, token.ClientID, req.ClientIP(), "token lacks "+opts.Scope.String())
			return nil, oautherr.InsufficientScope("insufficient scope: authorized scope is insufficient")
		}
		if opts.AddAcceptedScopesHeader {
			res.Header.Set(HeaderAcceptedScopes, opts.Scope.String())
		}
		if opts.AddAuthorizedScopesHeader {
			res.Header.Set(HeaderAuthorizedScopes, token.Scope.String())
		}
	}

	return token, nil
}

// bearerToken extracts the access token from exactly one of the three locations
// RFC 6750 §2 defines.
func (s *Server) bearerToken(req *Request) (string, error) {
	if err := rejectRepeated(req, "access_token"); err != nil {
		return "", err
	}
	if len(req.header.Values("Authorization")) > 1 {
		return "", oautherr.InvalidRequest("invalid request: only one authentication method is allowed")
	}
	header := req.Header("Authorization")
	query := req.Query("access_token")
	body := req.Body("access_token")

	found := 0
	for _, v := range []string{header, query, body} {
		if v != "" {
			found++
		}
	}
	if found > 1 {
		return "", oautherr.InvalidRequest("invalid request: only one authentication method is allowed")
	}

	switch {
	case header != "":
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", oautherr.InvalidRequest("invalid request: malformed authorization header")
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return "", oautherr.InvalidRequest("invalid request: malformed authorization header")
		}
		return token, nil

	case query != "":
		if !s.Config.AllowBearerTokensInQueryString {
			return "", oautherr.InvalidRequest("invalid request: do not send bearer tokens in query URLs")
		}
		return query, nil

	case body != "":
		if req.Method() == http.MethodGet {
			return "", oautherr.InvalidRequest("invalid request: token may not be passed in the body when using the GET verb")
		}
		if !req.IsForm() {
			return "", oautherr.InvalidRequest("invalid request: content must be application/x-www-form-urlencoded")
		}
		return body, nil
	}

	return "", oautherr.InvalidRequest("invalid request: no bearer token was found")
}
