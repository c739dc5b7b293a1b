// Package storagetest is a conformance suite for storage.Store implementations.
// Each backend's tests call Run with a factory that returns a fresh, empty store.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Backend is a Store that can be seeded with clients.
type Backend interface {
	storage.Store
	SaveClient(ctx context.Context, client *storage.Client) error
}

// UserBackend is a Backend that also resolves users by credentials.
type UserBackend interface {
	storage.UserStore
	SaveUser(ctx context.Context, username, passwordHash string, user *storage.User) error
}

// Factory returns a fresh, empty backend. Cleanup should be registered on t.
type Factory func(t *testing.T) Backend

// Run executes the conformance suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("Clients", func(t *testing.T) { testClients(t, newBackend(t)) })
	t.Run("ClientSecret", func(t *testing.T) { testClientSecret(t, newBackend(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newBackend(t)) })
	t.Run("Tokens", func(t *testing.T) { testTokens(t, newBackend(t)) })
	t.Run("TokenRevocation", func(t *testing.T) { testTokenRevocation(t, newBackend(t)) })
	t.Run("RefreshRotation", func(t *testing.T) { testRefreshRotation(t, newBackend(t)) })
	t.Run("RefreshRotationRace", func(t *testing.T) { testRefreshRotationRace(t, newBackend(t)) })
	t.Run("AuthorizationCodes", func(t *testing.T) { testAuthorizationCodes(t, newBackend(t)) })
	t.Run("AuthorizationCodeRace", func(t *testing.T) { testAuthorizationCodeRace(t, newBackend(t)) })
}

// Times are truncated to the second so backends with coarser timestamp precision compare equal.
func later(d time.Duration) time.Time {
	return time.Now().Add(d).Truncate(time.Second)
}

// NewToken returns a token fixture with both halves set.
func NewToken(clientID, suffix string) *storage.Token {
	return &storage.Token{
		AccessToken:           "access-" + suffix,
		AccessTokenExpiresAt:  later(time.Hour),
		RefreshToken:          "refresh-" + suffix,
		RefreshTokenExpiresAt: later(24 * time.Hour),
		Scope:                 storage.Scope{"read", "write"},
		ClientID:              clientID,
		User:                  &storage.User{ID: "user-1", Attributes: map[string]string{"email": "u1@example.com"}},
	}
}

func requireSameToken(t *testing.T, want, got *storage.Token) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, want.AccessToken, got.AccessToken)
	require.Equal(t, want.RefreshToken, got.RefreshToken)
	require.True(t, want.AccessTokenExpiresAt.Equal(got.AccessTokenExpiresAt),
		"access expiry %v != %v", want.AccessTokenExpiresAt, got.AccessTokenExpiresAt)
	require.True(t, want.RefreshTokenExpiresAt.Equal(got.RefreshTokenExpiresAt),
		"refresh expiry %v != %v", want.RefreshTokenExpiresAt, got.RefreshTokenExpiresAt)
	require.Equal(t, want.Scope.String(), got.Scope.String())
	require.Equal(t, want.ClientID, got.ClientID)
	if want.User == nil {
		require.Nil(t, got.User)
	} else {
		require.NotNil(t, got.User)
		require.Equal(t, want.User.ID, got.User.ID)
		require.Equal(t, len(want.User.Attributes), len(got.User.Attributes))
		for k, v := range want.User.Attributes {
			require.Equal(t, v, got.User.Attributes[k])
		}
	}
}

func testClients(t *testing.T, b Backend) {
	ctx := context.Background()

	client := &storage.Client{
		ID:                   "client-1",
		RedirectURIs:         []string{"https://app/cb", "https://app/cb2"},
		Grants:               []string{"authorization_code", "refresh_token"},
		Scopes:               storage.Scope{"read", "write"},
		AccessTokenLifetime:  30 * time.Minute,
		RefreshTokenLifetime: 48 * time.Hour,
	}
	require.NoError(t, b.SaveClient(ctx, client))

	got, err := b.GetClient(ctx, "client-1")
	require.NoError(t, err)
	require.Equal(t, client.ID, got.ID)
	require.Equal(t, client.RedirectURIs, got.RedirectURIs)
	require.Equal(t, client.Grants, got.Grants)
	require.Equal(t, client.Scopes.String(), got.Scopes.String())
	require.Equal(t, client.AccessTokenLifetime, got.AccessTokenLifetime)
	require.Equal(t, client.RefreshTokenLifetime, got.RefreshTokenLifetime)
	require.False(t, got.IsConfidential())

	// Returned clients must not alias stored state
	got.Grants[0] = "password"
	again, err := b.GetClient(ctx, "client-1")
	require.NoError(t, err)
	require.Equal(t, "authorization_code", again.Grants[0])

	_, err = b.GetClient(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrClientNotFound)
}

func testClientSecret(t *testing.T, b Backend) {
	ctx := context.Background()

	hash, err := security.HashSecret("s1")
	require.NoError(t, err)
	require.NoError(t, b.SaveClient(ctx, &storage.Client{ID: "c1", SecretHash: hash, Grants: []string{"client_credentials"}}))
	require.NoError(t, b.SaveClient(ctx, &storage.Client{ID: "public", Grants: []string{"authorization_code"}}))

	require.NoError(t, b.ValidateClientSecret(ctx, "c1", "s1"))
	require.ErrorIs(t, b.ValidateClientSecret(ctx, "c1", "wrong"), storage.ErrInvalidCredentials)
	require.ErrorIs(t, b.ValidateClientSecret(ctx, "public", "anything"), storage.ErrInvalidCredentials)
	require.ErrorIs(t, b.ValidateClientSecret(ctx, "missing", "s1"), storage.ErrClientNotFound)
}

func testUsers(t *testing.T, b Backend) {
	ub, ok := b.(UserBackend)
	if !ok {
		t.Skip("backend does not resolve users")
	}
	ctx := context.Background()

	hash, err := security.HashSecret("hunter2")
	require.NoError(t, err)
	require.NoError(t, ub.SaveUser(ctx, "alice", hash, &storage.User{ID: "u-alice", Attributes: map[string]string{"role": "admin"}}))

	user, err := ub.GetUser(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "u-alice", user.ID)
	require.Equal(t, "admin", user.Attributes["role"])

	_, err = ub.GetUser(ctx, "alice", "wrong")
	require.ErrorIs(t, err, storage.ErrInvalidCredentials)

	_, err = ub.GetUser(ctx, "bob", "hunter2")
	require.True(t, errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrUserNotFound),
		"unknown user error = %v", err)
}

func testTokens(t *testing.T, b Backend) {
	ctx := context.Background()

	tok := NewToken("client-1", "t1")
	require.NoError(t, b.SaveToken(ctx, tok))

	got, err := b.GetAccessToken(ctx, tok.AccessToken)
	require.NoError(t, err)
	requireSameToken(t, tok, got)

	got, err = b.GetRefreshToken(ctx, tok.RefreshToken)
	require.NoError(t, err)
	requireSameToken(t, tok, got)

	// Mutating the result must not affect the stored record
	got.Scope[0] = "admin"
	again, err := b.GetAccessToken(ctx, tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "read", again.Scope[0])

	// Access-only token without user
	clientOnly := &storage.Token{
		AccessToken:          "access-only",
		AccessTokenExpiresAt: later(time.Hour),
		ClientID:             "client-1",
	}
	require.NoError(t, b.SaveToken(ctx, clientOnly))
	got, err = b.GetAccessToken(ctx, "access-only")
	require.NoError(t, err)
	requireSameToken(t, clientOnly, got)

	_, err = b.GetAccessToken(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = b.GetRefreshToken(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func testTokenRevocation(t *testing.T, b Backend) {
	ctx := context.Background()

	tok := NewToken("client-1", "rev")
	require.NoError(t, b.SaveToken(ctx, tok))

	// The halves are independently revocable
	require.NoError(t, b.RevokeAccessToken(ctx, tok.AccessToken))
	_, err := b.GetAccessToken(ctx, tok.AccessToken)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = b.GetRefreshToken(ctx, tok.RefreshToken)
	require.NoError(t, err)
	require.ErrorIs(t, b.RevokeAccessToken(ctx, tok.AccessToken), storage.ErrTokenNotFound)

	require.NoError(t, b.RevokeRefreshToken(ctx, tok.RefreshToken))
	_, err = b.GetRefreshToken(ctx, tok.RefreshToken)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
	require.ErrorIs(t, b.RevokeRefreshToken(ctx, tok.RefreshToken), storage.ErrTokenNotFound)
}

func testRefreshRotation(t *testing.T, b Backend) {
	ctx := context.Background()

	old := NewToken("client-1", "gen1")
	require.NoError(t, b.SaveToken(ctx, old))

	next := NewToken("client-1", "gen2")
	require.NoError(t, b.RotateRefreshToken(ctx, old.RefreshToken, next))

	_, err := b.GetRefreshToken(ctx, old.RefreshToken)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)

	got, err := b.GetRefreshToken(ctx, next.RefreshToken)
	require.NoError(t, err)
	requireSameToken(t, next, got)
	got, err = b.GetAccessToken(ctx, next.AccessToken)
	require.NoError(t, err)
	requireSameToken(t, next, got)

	// A second rotation of the consumed token fails and saves nothing
	stale := NewToken("client-1", "gen2b")
	require.ErrorIs(t, b.RotateRefreshToken(ctx, old.RefreshToken, stale), storage.ErrTokenNotFound)
	_, err = b.GetAccessToken(ctx, stale.AccessToken)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = b.GetRefreshToken(ctx, stale.RefreshToken)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)

	// Reusing the same refresh token replaces its record
	reuse := NewToken("client-1", "gen3")
	reuse.RefreshToken = next.RefreshToken
	reuse.RefreshTokenExpiresAt = next.RefreshTokenExpiresAt
	require.NoError(t, b.RotateRefreshToken(ctx, next.RefreshToken, reuse))
	got, err = b.GetRefreshToken(ctx, next.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, reuse.AccessToken, got.AccessToken)
}

func testRefreshRotationRace(t *testing.T, b Backend) {
	ctx := context.Background()

	old := NewToken("client-1", "race")
	require.NoError(t, b.SaveToken(ctx, old))

	const workers = 10
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		winner    atomic.Value
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := NewToken("client-1", fmt.Sprintf("race-%d", i))
			err := b.RotateRefreshToken(ctx, old.RefreshToken, next)
			if err == nil {
				successes.Add(1)
				winner.Store(next.RefreshToken)
				return
			}
			if !errors.Is(err, storage.ErrTokenNotFound) {
				t.Errorf("RotateRefreshToken() unexpected error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, successes.Load(), "exactly one rotation must win")

	active := 0
	for i := 0; i < workers; i++ {
		if _, err := b.GetRefreshToken(ctx, fmt.Sprintf("refresh-race-%d", i)); err == nil {
			active++
		}
	}
	require.Equal(t, 1, active, "exactly one new refresh token must be active")
	_, err := b.GetRefreshToken(ctx, winner.Load().(string))
	require.NoError(t, err)
}

// NewCode returns an authorization code fixture.
func NewCode(clientID, code string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                code,
		ClientID:            clientID,
		RedirectURI:         "https://app/cb",
		Scope:               storage.Scope{"read"},
		User:                &storage.User{ID: "user-1"},
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: "S256",
		ExpiresAt:           later(5 * time.Minute),
	}
}

func testAuthorizationCodes(t *testing.T, b Backend) {
	ctx := context.Background()

	code := NewCode("client-1", "code-1")
	require.NoError(t, b.SaveAuthorizationCode(ctx, code))

	got, err := b.GetAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	require.Equal(t, code.Code, got.Code)
	require.Equal(t, code.ClientID, got.ClientID)
	require.Equal(t, code.RedirectURI, got.RedirectURI)
	require.Equal(t, code.Scope.String(), got.Scope.String())
	require.Equal(t, code.CodeChallenge, got.CodeChallenge)
	require.Equal(t, code.CodeChallengeMethod, got.CodeChallengeMethod)
	require.True(t, code.ExpiresAt.Equal(got.ExpiresAt))
	require.NotNil(t, got.User)
	require.Equal(t, "user-1", got.User.ID)

	// Get does not consume
	_, err = b.GetAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)

	require.NoError(t, b.RevokeAuthorizationCode(ctx, "code-1"))
	_, err = b.GetAuthorizationCode(ctx, "code-1")
	require.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
	require.ErrorIs(t, b.RevokeAuthorizationCode(ctx, "code-1"), storage.ErrAuthorizationCodeNotFound)

	_, err = b.GetAuthorizationCode(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
}

func testAuthorizationCodeRace(t *testing.T, b Backend) {
	ctx := context.Background()

	require.NoError(t, b.SaveAuthorizationCode(ctx, NewCode("client-1", "contended")))

	const workers = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.RevokeAuthorizationCode(ctx, "contended")
			if err == nil {
				successes.Add(1)
				return
			}
			if !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
				t.Errorf("RevokeAuthorizationCode() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, successes.Load(), "exactly one consumer must win")
}
