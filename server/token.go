package server

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// TokenTypeBearer is the only token type the server issues (RFC 6750).
const TokenTypeBearer = "Bearer"

// TokenOptions tunes a single Token call.
type TokenOptions struct {
	// AccessTokenLifetime overrides the client and server lifetime when positive.
	AccessTokenLifetime time.Duration

	// RefreshTokenLifetime overrides the client and server lifetime when positive.
	RefreshTokenLifetime time.Duration
}

// Token handles a token endpoint request (RFC 6749 §3.2): it authenticates the
// client, dispatches to the grant handler for grant_type and writes the access token
// response into res.
func (s *Server) Token(ctx context.Context, req *Request, res *Response, opts *TokenOptions) (token *storage.Token, err error) {
	start := time.Now()
	grantType := ""
	ctx, span := s.startSpan(ctx, "oauth.token")
	defer func() {
		s.metrics.RecordTokenRequest(ctx, grantType, errorCode(err), float64(time.Since(start).Microseconds())/1000)
		endSpan(span, err)
	}()

	if req == nil || res == nil {
		return nil, errNilEnvelope
	}
	res.reset()

	if req.Method() != http.MethodPost {
		return nil, oautherr.InvalidRequest("invalid request: method must be POST")
	}
	if !req.IsForm() {
		return nil, oautherr.InvalidRequest("invalid request: content must be application/x-www-form-urlencoded")
	}
	if err := rejectRepeated(req, tokenParams...); err != nil {
		return nil, err
	}

	requestedGrant := req.Body("grant_type")
	if requestedGrant == "" {
		return nil, oautherr.InvalidRequest("missing parameter: grant_type")
	}
	handler, ok := s.grants[requestedGrant]
	if !ok {
		return nil, oautherr.UnsupportedGrantType("unsupported grant type: grant_type is invalid")
	}
	grantType = requestedGrant
	span.SetAttributes(attribute.String(instrumentation.AttrGrantType, grantType))

	client, err := s.authenticateClient(ctx, req, grantType)
	if err != nil {
		return nil, err
	}
	if !client.HasGrant(grantType) {
		s.Auditor.LogAuthFailure(ctx, "", client.ID, req.ClientIP(), "grant_type_not_allowed")
		return nil, oautherr.UnauthorizedClient("unauthorized client: grant_type is invalid")
	}

	gc := &GrantContext{
		Request:   req,
		Client:    client,
		GrantType: grantType,
		Now:       s.now(),
		srv:       s,
		opts:      opts,
	}

	token, err = handler.Handle(ctx, gc)
	if err != nil {
		return nil, oautherr.From(err)
	}
	if token == nil {
		return nil, oautherr.ServerError("grant handler returned no token", nil)
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ID, token.UserID(), token.Scope.String())
	if grantType != GrantTypeRefreshToken {
		s.Auditor.LogTokenIssued(ctx, grantType, token.UserID(), client.ID, req.ClientIP(), token.Scope.String())
	}

	writeTokenResponse(res, token, gc.Now)
	return token, nil
}

// writeTokenResponse renders the RFC 6749 §5.1 success body.
func writeTokenResponse(res *Response, token *storage.Token, now time.Time) {
	res.Status = http.StatusOK
	res.Body = map[string]any{
		"access_token": token.AccessToken,
		"token_type":   TokenTypeBearer,
	}
	if !token.AccessTokenExpiresAt.IsZero() {
		res.Body["expires_in"] = security.SecondsUntil(token.AccessTokenExpiresAt, now)
	}
	if token.RefreshToken != "" {
		res.Body["refresh_token"] = token.RefreshToken
	}
	if len(token.Scope) > 0 {
		res.Body["scope"] = token.Scope.String()
	}
	security.SetNoStore(res.Header)
}
