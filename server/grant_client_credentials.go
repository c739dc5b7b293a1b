package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// handleClientCredentials issues a token to an authenticated client acting on its
// own behalf (RFC 6749 §4.4). The token carries the user returned by a store that
// implements storage.ClientUserResolver, or no user at all when the resolver has
// none bound to the client.
func (s *Server) handleClientCredentials(ctx context.Context, gc *GrantContext) (*storage.Token, error) {
	if !gc.Client.IsConfidential() {
		return nil, oautherr.UnauthorizedClient("unauthorized client: public clients cannot use client_credentials")
	}

	requested, err := gc.RequestedScope()
	if err != nil {
		return nil, err
	}

	var user *storage.User
	if s.clientUsers != nil {
		user, err = s.clientUsers.GetUserFromClient(ctx, gc.Client)
		if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
			return nil, storeError("get user from client", err)
		}
	}

	scope, err := gc.ValidateScope(ctx, user, requested)
	if err != nil {
		return nil, err
	}

	return gc.Issue(ctx, user, scope, s.Config.IssueRefreshTokenForClientCredentials)
}
