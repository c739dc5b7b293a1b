package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// handleAuthorizationCode exchanges an authorization code (RFC 6749 §4.1.3).
// All checks run against a read of the code; the code is consumed with the store's
// atomic revoke only after they pass, and losing that race is invalid_grant.
func (s *Server) handleAuthorizationCode(ctx context.Context, gc *GrantContext) (*storage.Token, error) {
	req := gc.Request
	codeValue := req.Body("code")
	if codeValue == "" {
		return nil, oautherr.InvalidRequest("missing parameter: code")
	}
	if !isVSChar(codeValue) {
		return nil, oautherr.InvalidRequest("invalid parameter: code")
	}

	code, err := s.store.GetAuthorizationCode(ctx, codeValue)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			s.Auditor.LogAuthFailure(ctx, "", gc.Client.ID, req.ClientIP(), "unknown_authorization_code")
			return nil, oautherr.InvalidGrant("invalid grant: authorization code is invalid")
		}
		return nil, storeError("get authorization code", err)
	}
	if code == nil {
		return nil, oautherr.InvalidGrant("invalid grant: authorization code is invalid")
	}

	if code.ClientID != gc.Client.ID {
		s.Auditor.LogAuthFailure(ctx, userID(code.User), gc.Client.ID, req.ClientIP(), "authorization_code_client_mismatch")
		return nil, oautherr.InvalidGrant("invalid grant: authorization code is invalid")
	}
	if security.IsExpired(code.ExpiresAt, gc.Now) {
		return nil, oautherr.InvalidGrant("invalid grant: authorization code has expired")
	}

	// RFC 6749 §4.1.3: redirect_uri must be identical when it was part of the
	// authorization request.
	redirectURI := req.Body("redirect_uri")
	if code.RedirectURI != "" && redirectURI != code.RedirectURI {
		s.Auditor.LogSecurityViolation(ctx, security.EventInvalidRedirect, gc.Client.ID, req.ClientIP(), "redirect_uri differs from authorization request")
		return nil, oautherr.InvalidGrant("invalid grant: redirect_uri is invalid")
	}

	if err := verifyCodeVerifier(code.CodeChallenge, code.CodeChallengeMethod, req.Body("code_verifier")); err != nil {
		s.metrics.RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
		s.Auditor.LogSecurityViolation(ctx, security.EventPKCEValidationFailed, gc.Client.ID, req.ClientIP(), err.Error())
		return nil, err
	}

	if err := s.store.RevokeAuthorizationCode(ctx, code.Code); err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			s.metrics.RecordCodeReuseDetected(ctx)
			s.Auditor.LogSecurityViolation(ctx, security.EventAuthorizationCodeReuseDetected, gc.Client.ID, req.ClientIP(), "authorization code already used")
			s.Logger.Warn("Authorization code reuse detected",
				"client_id", gc.Client.ID,
				"code_prefix", util.SafeTruncate(code.Code, 8))
			return nil, oautherr.InvalidGrant("invalid grant: authorization code is invalid")
		}
		return nil, storeError("revoke authorization code", err)
	}

	token, err := gc.Issue(ctx, code.User, code.Scope, true)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCodeExchange(ctx, gc.Client.ID, util.FirstNonEmpty(code.CodeChallengeMethod, "none"))
	instrumentation.AddPKCEAttributes(trace.SpanFromContext(ctx), code.CodeChallengeMethod)
	return token, nil
}
