package server

import (
	"context"

	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// parseScope parses the scope parameter. A malformed value is invalid_scope.
func parseScope(raw string) (storage.Scope, error) {
	scope, err := storage.ParseScope(raw)
	if err != nil {
		return nil, oautherr.Wrap(oautherr.KindInvalidScope, "invalid parameter: scope", err)
	}
	return scope, nil
}

// validateScope decides the scope to grant. An empty request falls back to
// Config.DefaultScope. A store implementing storage.ScopeValidator replaces the
// default rule, which requires the request to be within both the supported scopes
// and the client's allowed scopes.
func (s *Server) validateScope(ctx context.Context, req *Request, user *storage.User, client *storage.Client, requested storage.Scope) (storage.Scope, error) {
	if len(requested) == 0 {
		requested = s.Config.DefaultScope.Clone()
	}

	if s.scopeValidator != nil {
		granted, ok, err := s.scopeValidator.ValidateScope(ctx, user, client, requested)
		if err != nil {
			return nil, storeError("validate scope", err)
		}
		if !ok {
			s.Auditor.LogSecurityViolation(ctx, security.EventScopeEscalationAttempt, client.ID, req.ClientIP(), "rejected by scope validator")
			return nil, oautherr.InvalidScope("invalid scope: requested scope is invalid")
		}
		return granted, nil
	}

	if len(s.Config.SupportedScopes) > 0 && !s.Config.SupportedScopes.Contains(requested) {
		return nil, oautherr.InvalidScope("invalid scope: requested scope is not supported")
	}
	if len(client.Scopes) > 0 && !client.Scopes.Contains(requested) {
		s.Auditor.LogSecurityViolation(ctx, security.EventScopeEscalationAttempt, client.ID, req.ClientIP(), "scope exceeds client allowance")
		return nil, oautherr.InvalidScope("invalid scope: requested scope exceeds what the client is allowed")
	}
	return requested, nil
}

// verifyScope checks that token grants every scope in required.
func (s *Server) verifyScope(ctx context.Context, token *storage.Token, required storage.Scope) (bool, error) {
	if s.scopeVerifier != nil {
		ok, err := s.scopeVerifier.VerifyScope(ctx, token, required)
		if err != nil {
			return false, storeError("verify scope", err)
		}
		return ok, nil
	}
	return token.Scope.Contains(required), nil
}
