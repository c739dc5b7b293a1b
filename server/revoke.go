package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Token type hints (RFC 7009 §2.1)
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// EndpointRevocation is the RequireClientAuthentication key for the revocation endpoint.
const EndpointRevocation = "revocation"

// Revoke handles a token revocation request (RFC 7009). The client must own the
// token. Unknown tokens, and tokens of other clients, are answered with 200 like
// revoked ones so the endpoint cannot be used to discover tokens. Revoking a refresh
// token also revokes the access token issued with it.
func (s *Server) Revoke(ctx context.Context, req *Request, res *Response) (err error) {
	hint := ""
	clientID := ""
	ctx, span := s.startSpan(ctx, "oauth.revoke")
	defer func() {
		if err == nil {
			s.metrics.RecordTokenRevocation(ctx, clientID, hint)
		}
		endSpan(span, err)
	}()

	if req == nil || res == nil {
		return errNilEnvelope
	}
	res.reset()

	if req.Method() != http.MethodPost {
		return oautherr.InvalidRequest("invalid request: method must be POST")
	}
	if !req.IsForm() {
		return oautherr.InvalidRequest("invalid request: content must be application/x-www-form-urlencoded")
	}
	if err := rejectRepeated(req, revokeParams...); err != nil {
		return err
	}

	client, err := s.authenticateClient(ctx, req, EndpointRevocation)
	if err != nil {
		return err
	}
	clientID = client.ID

	value := req.Body("token")
	if value == "" {
		return oautherr.InvalidRequest("missing parameter: token")
	}

	// Unknown hints are ignored (RFC 7009 §2.1)
	switch req.Body("token_type_hint") {
	case TokenTypeHintRefreshToken:
		hint = TokenTypeHintRefreshToken
	case TokenTypeHintAccessToken:
		hint = TokenTypeHintAccessToken
	}

	lookups := []func(context.Context, *Request, *storage.Client, string) (bool, error){s.revokeAccessToken, s.revokeRefreshToken}
	if hint == TokenTypeHintRefreshToken {
		lookups[0], lookups[1] = lookups[1], lookups[0]
	}
	for _, revoke := range lookups {
		done, err := revoke(ctx, req, client, value)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	res.Status = http.StatusOK
	security.SetNoStore(res.Header)
	return nil
}

// revokeAccessToken revokes value as an access token of client. It reports false
// when value is not such a token.
func (s *Server) revokeAccessToken(ctx context.Context, req *Request, client *storage.Client, value string) (bool, error) {
	token, err := s.store.GetAccessToken(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return false, nil
		}
		return false, storeError("get access token", err)
	}
	if token == nil {
		return false, nil
	}
	if token.ClientID != client.ID {
		s.Auditor.LogAuthFailure(ctx, token.UserID(), client.ID, req.ClientIP(), "revoke_foreign_access_token")
		return true, nil
	}

	if err := s.store.RevokeAccessToken(ctx, value); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return false, storeError("revoke access token", err)
	}
	s.Auditor.LogTokenRevoked(ctx, token.UserID(), client.ID, req.ClientIP(), TokenTypeHintAccessToken)
	return true, nil
}

// revokeRefreshToken revokes value as a refresh token of client, together with the
// access token issued alongside it.
func (s *Server) revokeRefreshToken(ctx context.Context, req *Request, client *storage.Client, value string) (bool, error) {
	token, err := s.store.GetRefreshToken(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return false, nil
		}
		return false, storeError("get refresh token", err)
	}
	if token == nil {
		return false, nil
	}
	if token.ClientID != client.ID {
		s.Auditor.LogAuthFailure(ctx, token.UserID(), client.ID, req.ClientIP(), "revoke_foreign_refresh_token")
		return true, nil
	}

	if err := s.store.RevokeRefreshToken(ctx, value); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return false, storeError("revoke refresh token", err)
	}
	if token.AccessToken != "" {
		if err := s.store.RevokeAccessToken(ctx, token.AccessToken); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
			return false, storeError("revoke access token", err)
		}
	}
	s.Auditor.LogTokenRevoked(ctx, token.UserID(), client.ID, req.ClientIP(), TokenTypeHintRefreshToken)
	return true, nil
}
