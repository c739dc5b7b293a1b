package server

import (
	"context"
	"time"

	"github.com/giantswarm/oauth2-engine/generator"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Grant types (RFC 6749)
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeImplicit          = "implicit"
)

var builtinGrantTypes = map[string]struct{}{
	GrantTypeAuthorizationCode: {},
	GrantTypeClientCredentials: {},
	GrantTypePassword:          {},
	GrantTypeRefreshToken:      {},
	GrantTypeImplicit:          {},
}

// GrantHandler exchanges a grant for a token at the token endpoint.
// The client has already been authenticated and is allowed to use the grant type
// when Handle is called. Handle must return protocol errors as *oautherr.Error;
// anything else is reported as server_error.
type GrantHandler interface {
	Handle(ctx context.Context, gc *GrantContext) (*storage.Token, error)
}

// GrantHandlerFunc adapts a function to GrantHandler.
type GrantHandlerFunc func(ctx context.Context, gc *GrantContext) (*storage.Token, error)

// Handle calls f.
func (f GrantHandlerFunc) Handle(ctx context.Context, gc *GrantContext) (*storage.Token, error) {
	return f(ctx, gc)
}

// GrantContext carries one token request through a GrantHandler and gives it the
// engine's minting and validation primitives.
type GrantContext struct {
	Request   *Request
	Client    *storage.Client
	GrantType string

	// Now is the instant the request is evaluated at. Expiry checks and the
	// lifetimes of minted tokens are relative to it.
	Now time.Time

	srv  *Server
	opts *TokenOptions
}

// Store returns the server's store.
func (gc *GrantContext) Store() storage.Store {
	return gc.srv.store
}

// RequestedScope parses the scope field of the request body.
func (gc *GrantContext) RequestedScope() (storage.Scope, error) {
	return parseScope(gc.Request.Body("scope"))
}

// ValidateScope decides the scope to grant for user, applying the same rules as
// the built-in grants.
func (gc *GrantContext) ValidateScope(ctx context.Context, user *storage.User, requested storage.Scope) (storage.Scope, error) {
	return gc.srv.validateScope(ctx, gc.Request, user, gc.Client, requested)
}

// NewToken mints a token for user with the given scope. It is not persisted.
func (gc *GrantContext) NewToken(ctx context.Context, user *storage.User, scope storage.Scope, withRefresh bool) (*storage.Token, error) {
	access, refresh := gc.srv.lifetimes(gc.Client, gc.opts)
	return gc.srv.mintToken(ctx, gc.Client, user, scope, gc.Now, access, refresh, withRefresh)
}

// SaveToken persists token.
func (gc *GrantContext) SaveToken(ctx context.Context, token *storage.Token) error {
	if err := gc.srv.store.SaveToken(ctx, token); err != nil {
		return storeError("save token", err)
	}
	return nil
}

// Issue mints and persists a token in one step.
func (gc *GrantContext) Issue(ctx context.Context, user *storage.User, scope storage.Scope, withRefresh bool) (*storage.Token, error) {
	token, err := gc.NewToken(ctx, user, scope, withRefresh)
	if err != nil {
		return nil, err
	}
	if err := gc.SaveToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *Server) builtinGrants() map[string]GrantHandler {
	return map[string]GrantHandler{
		GrantTypeAuthorizationCode: GrantHandlerFunc(s.handleAuthorizationCode),
		GrantTypeClientCredentials: GrantHandlerFunc(s.handleClientCredentials),
		GrantTypePassword:          GrantHandlerFunc(s.handlePassword),
		GrantTypeRefreshToken:      GrantHandlerFunc(s.handleRefreshToken),
	}
}

// lifetimes resolves token lifetimes: per-request options, then the client, then the config.
func (s *Server) lifetimes(client *storage.Client, opts *TokenOptions) (access, refresh time.Duration) {
	access = s.Config.accessTokenLifetime()
	refresh = s.Config.refreshTokenLifetime()
	if client != nil {
		if client.AccessTokenLifetime > 0 {
			access = client.AccessTokenLifetime
		}
		if client.RefreshTokenLifetime > 0 {
			refresh = client.RefreshTokenLifetime
		}
	}
	if opts != nil {
		if opts.AccessTokenLifetime > 0 {
			access = opts.AccessTokenLifetime
		}
		if opts.RefreshTokenLifetime > 0 {
			refresh = opts.RefreshTokenLifetime
		}
	}
	return access, refresh
}

// mintToken is the single minting primitive shared by the token endpoint and the
// implicit flow.
func (s *Server) mintToken(ctx context.Context, client *storage.Client, user *storage.User, scope storage.Scope, now time.Time, access, refresh time.Duration, withRefresh bool) (*storage.Token, error) {
	params := generator.Params{
		Client:    client,
		User:      user,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(access),
	}
	accessToken, err := s.Config.Generator.AccessToken(ctx, params)
	if err != nil {
		return nil, oautherr.ServerError("failed to generate access token", err)
	}

	token := &storage.Token{
		AccessToken:          accessToken,
		AccessTokenExpiresAt: params.ExpiresAt,
		Scope:                scope.Clone(),
		ClientID:             client.ID,
		User:                 user.Clone(),
	}

	if withRefresh {
		params.ExpiresAt = now.Add(refresh)
		refreshToken, err := s.Config.Generator.RefreshToken(ctx, params)
		if err != nil {
			return nil, oautherr.ServerError("failed to generate refresh token", err)
		}
		token.RefreshToken = refreshToken
		token.RefreshTokenExpiresAt = params.ExpiresAt
	}

	return token, nil
}
