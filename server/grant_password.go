package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// handlePassword exchanges resource owner credentials for a token (RFC 6749 §4.3).
func (s *Server) handlePassword(ctx context.Context, gc *GrantContext) (*storage.Token, error) {
	req := gc.Request
	username := req.Body("username")
	password := req.Body("password")
	if username == "" {
		return nil, oautherr.InvalidRequest("missing parameter: username")
	}
	if password == "" {
		return nil, oautherr.InvalidRequest("missing parameter: password")
	}
	if !isUnicodeCharNoCRLF(username) {
		return nil, oautherr.InvalidRequest("invalid parameter: username")
	}
	if !isUnicodeCharNoCRLF(password) {
		return nil, oautherr.InvalidRequest("invalid parameter: password")
	}

	requested, err := gc.RequestedScope()
	if err != nil {
		return nil, err
	}

	user, err := s.verifyPassword(ctx, username, password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrUserNotFound) {
			s.Auditor.LogAuthFailure(ctx, username, gc.Client.ID, req.ClientIP(), "invalid_user_credentials")
			return nil, oautherr.InvalidGrant("invalid grant: user credentials are invalid")
		}
		return nil, storeError("get user", err)
	}
	if user == nil {
		return nil, oautherr.InvalidGrant("invalid grant: user credentials are invalid")
	}

	scope, err := gc.ValidateScope(ctx, user, requested)
	if err != nil {
		return nil, err
	}

	return gc.Issue(ctx, user, scope, true)
}

func (s *Server) verifyPassword(ctx context.Context, username, password string) (*storage.User, error) {
	if s.Config.PasswordVerifier != nil {
		return s.Config.PasswordVerifier(ctx, username, password)
	}
	if s.users != nil {
		return s.users.GetUser(ctx, username, password)
	}
	return nil, oautherr.UnsupportedGrantType("unsupported grant type: password grant is not configured")
}
