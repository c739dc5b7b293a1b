package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-engine/internal/testutil"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
	"github.com/giantswarm/oauth2-engine/storage/memory"
)

const (
	testClientID     = "c1"
	testClientSecret = "s1"
	testPublicID     = "spa"
	testRedirectURI  = "https://app/cb"
	testState        = "xyz"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	srv   *Server
	store *memory.Store
	clock *testutil.MockTime
	user  *storage.User
}

func setupTestServer(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()

	store := memory.NewWithInterval(0)
	t.Cleanup(store.Stop)

	clock := testutil.NewMockTime(testNow)
	config := DefaultConfig()
	config.Now = clock.Now
	for _, fn := range configure {
		fn(config)
	}

	srv, err := New(store, config, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	testutil.SaveClient(t, store, &storage.Client{
		ID:           testClientID,
		RedirectURIs: []string{testRedirectURI},
		Grants: []string{
			GrantTypeAuthorizationCode, GrantTypeClientCredentials,
			GrantTypePassword, GrantTypeRefreshToken, GrantTypeImplicit,
		},
	}, testClientSecret)
	testutil.SaveClient(t, store, &storage.Client{
		ID:           testPublicID,
		RedirectURIs: []string{testRedirectURI, "https://app/other"},
		Grants:       []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeImplicit},
	}, "")

	user := &storage.User{ID: "user-123", Attributes: map[string]string{"name": "Alice"}}
	if err := store.SaveUser(context.Background(), "alice", testutil.HashSecret(t, "wonderland"), user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	return &testEnv{srv: srv, store: store, clock: clock, user: user}
}

// approve is a UserResolver that always returns the env's user.
func (e *testEnv) approve(context.Context, *Request) (*storage.User, error) {
	return e.user, nil
}

func mustRequest(t *testing.T, method string, header http.Header, query, body url.Values) *Request {
	t.Helper()
	req, err := NewRequest(method, header, query, body)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	return req
}

// tokenRequest builds a form POST to the token endpoint authenticated with Basic credentials.
func tokenRequest(t *testing.T, clientID, secret string, body url.Values) *Request {
	t.Helper()
	header := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	if clientID != "" {
		header.Set("Authorization", testutil.BasicAuth(clientID, secret))
	}
	return mustRequest(t, http.MethodPost, header, nil, body)
}

func assertKind(t *testing.T, err error, want oautherr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want.Code())
	}
	var oe *oautherr.Error
	if !errors.As(err, &oe) {
		t.Fatalf("expected *oautherr.Error, got %T: %v", err, err)
	}
	if oe.Kind != want {
		t.Fatalf("error kind = %s (%v), want %s", oe.Kind.Code(), err, want.Code())
	}
}

func TestNew(t *testing.T) {
	store := memory.NewWithInterval(0)
	defer store.Stop()

	srv, err := New(store, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Logger == nil {
		t.Error("Logger should not be nil")
	}
	if srv.Instrumentation == nil {
		t.Error("Instrumentation should default to a disabled instance")
	}
	if srv.Config.AccessTokenLifetime != 3600 {
		t.Errorf("AccessTokenLifetime = %d, want 3600", srv.Config.AccessTokenLifetime)
	}
	if !srv.Config.AlwaysIssueNewRefreshToken {
		t.Error("nil config should rotate refresh tokens")
	}
	if srv.Config.Generator == nil {
		t.Error("Generator should default to opaque")
	}
	if srv.users == nil || srv.clientUsers == nil {
		t.Error("optional store capabilities were not discovered")
	}
	if len(srv.GrantTypes()) != 4 {
		t.Errorf("GrantTypes() = %v, want the four built-in grants", srv.GrantTypes())
	}
}

func TestNew_MissingStore(t *testing.T) {
	if _, err := New(nil, nil, nil); err == nil {
		t.Fatal("New() should fail without a store")
	}
}

func TestNew_ZeroConfigGetsLifetimeDefaults(t *testing.T) {
	store := memory.NewWithInterval(0)
	defer store.Stop()

	srv, err := New(store, &Config{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Config.RefreshTokenLifetime != 1209600 {
		t.Errorf("RefreshTokenLifetime = %d, want 1209600", srv.Config.RefreshTokenLifetime)
	}
	if srv.Config.AuthorizationCodeLifetime != 300 {
		t.Errorf("AuthorizationCodeLifetime = %d, want 300", srv.Config.AuthorizationCodeLifetime)
	}
}

func TestConfig_Validate(t *testing.T) {
	noop := GrantHandlerFunc(func(context.Context, *GrantContext) (*storage.Token, error) { return nil, nil })

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "defaults", config: *DefaultConfig()},
		{name: "negative lifetime", config: Config{AccessTokenLifetime: -1}, wantErr: true},
		{
			name:    "default scope outside supported",
			config:  Config{SupportedScopes: storage.Scope{"read"}, DefaultScope: storage.Scope{"write"}},
			wantErr: true,
		},
		{
			name:   "absolute extension grant",
			config: Config{ExtensionGrants: map[string]GrantHandler{"urn:ietf:params:oauth:grant-type:jwt-bearer": noop}},
		},
		{
			name:    "relative extension grant",
			config:  Config{ExtensionGrants: map[string]GrantHandler{"jwt-bearer": noop}},
			wantErr: true,
		},
		{
			name:    "extension shadows built-in",
			config:  Config{ExtensionGrants: map[string]GrantHandler{"password": noop}},
			wantErr: true,
		},
		{
			name:    "nil extension handler",
			config:  Config{ExtensionGrants: map[string]GrantHandler{"urn:example:grant": nil}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServer_NilEnvelope(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	if _, err := env.srv.Token(ctx, nil, NewResponse(), nil); err == nil {
		t.Error("Token() with nil request should fail")
	}
	if _, err := env.srv.Authenticate(ctx, nil, nil, nil); err == nil {
		t.Error("Authenticate() with nil request should fail")
	}
	if err := env.srv.Revoke(ctx, mustRequest(t, http.MethodPost, nil, nil, nil), nil); err == nil {
		t.Error("Revoke() with nil response should fail")
	}
}

// The four end-to-end scenarios every deployment relies on.
func TestServer_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("authorize code redirect", func(t *testing.T) {
		env := setupTestServer(t)
		req := mustRequest(t, http.MethodGet, nil, testutil.Form(
			"response_type", "code",
			"client_id", testClientID,
			"redirect_uri", testRedirectURI,
			"state", testState,
		), nil)
		res := NewResponse()

		result, err := env.srv.Authorize(ctx, req, res, &AuthorizeOptions{UserResolver: env.approve})
		if err != nil {
			t.Fatalf("Authorize() error = %v", err)
		}
		if res.Status != http.StatusFound {
			t.Errorf("status = %d, want 302", res.Status)
		}
		loc, err := url.Parse(res.Location())
		if err != nil {
			t.Fatalf("bad Location %q: %v", res.Location(), err)
		}
		if got := loc.Scheme + "://" + loc.Host + loc.Path; got != testRedirectURI {
			t.Errorf("redirect target = %q, want %q", got, testRedirectURI)
		}
		code := loc.Query().Get("code")
		if len(code) < 32 {
			t.Errorf("code %q shorter than 32 characters", code)
		}
		if loc.Query().Get("state") != testState {
			t.Errorf("state = %q, want %q", loc.Query().Get("state"), testState)
		}
		if result.Code == nil || result.Code.Code != code {
			t.Error("result should carry the issued code")
		}
	})

	t.Run("client credentials", func(t *testing.T) {
		env := setupTestServer(t)
		res := NewResponse()
		req := tokenRequest(t, testClientID, testClientSecret, testutil.Form("grant_type", "client_credentials"))

		if _, err := env.srv.Token(ctx, req, res, nil); err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if res.Status != http.StatusOK {
			t.Errorf("status = %d, want 200", res.Status)
		}
		if res.Body["access_token"] == "" || res.Body["access_token"] == nil {
			t.Error("access_token missing")
		}
		if res.Body["token_type"] != "Bearer" {
			t.Errorf("token_type = %v, want Bearer", res.Body["token_type"])
		}
		if res.Body["expires_in"] != int64(3600) {
			t.Errorf("expires_in = %v (%T), want 3600", res.Body["expires_in"], res.Body["expires_in"])
		}
		if _, ok := res.Body["refresh_token"]; ok {
			t.Error("client_credentials response must not contain refresh_token")
		}
	})

	t.Run("authenticate unknown token", func(t *testing.T) {
		env := setupTestServer(t)
		req := mustRequest(t, http.MethodGet, http.Header{"Authorization": {"Bearer unknown-token"}}, nil, nil)

		_, err := env.srv.Authenticate(ctx, req, NewResponse(), nil)
		assertKind(t, err, oautherr.KindInvalidToken)
		if oautherr.From(err).Status() != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", oautherr.From(err).Status())
		}
	})

	t.Run("expired refresh token", func(t *testing.T) {
		env := setupTestServer(t)
		expired := &storage.Token{
			AccessToken:           "old-access",
			AccessTokenExpiresAt:  testNow.Add(-2 * time.Hour),
			RefreshToken:          "expired-refresh",
			RefreshTokenExpiresAt: testNow.Add(-time.Hour),
			ClientID:              testClientID,
		}
		if err := env.store.SaveToken(ctx, expired); err != nil {
			t.Fatal(err)
		}

		req := tokenRequest(t, testClientID, testClientSecret, testutil.Form(
			"grant_type", "refresh_token",
			"refresh_token", "expired-refresh",
		))
		_, err := env.srv.Token(ctx, req, NewResponse(), nil)
		assertKind(t, err, oautherr.KindInvalidGrant)
		if oautherr.From(err).Status() != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", oautherr.From(err).Status())
		}
	})
}

func TestServer_RepeatedParameters(t *testing.T) {
	ctx := context.Background()
	basic := testutil.BasicAuth(testClientID, testClientSecret)
	formHeader := func(extra ...string) http.Header {
		h := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
		for i := 0; i+1 < len(extra); i += 2 {
			h.Add(extra[i], extra[i+1])
		}
		return h
	}

	tests := []struct {
		name string
		call func(t *testing.T, env *testEnv) (*Response, error)
	}{
		{
			name: "token grant_type",
			call: func(t *testing.T, env *testEnv) (*Response, error) {
				res := NewResponse()
				body := url.Values{"grant_type": {"client_credentials", "password"}}
				_, err := env.srv.Token(ctx, tokenRequest(t, testClientID, testClientSecret, body), res, nil)
				return res, err
			},
		},
		{
			name: "token code",
			call: func(t *testing.T, env *testEnv) (*Response, error) {
				res := NewResponse()
				body := url.Values{
					"grant_type":   {"authorization_code"},
					"code":         {"first", "second"},
					"redirect_uri": {testRedirectURI},
				}
				_, err := env.srv.Token(ctx, tokenRequest(t, testClientID, testClientSecret, body), res, nil)
				return res, err
			},
		},
		{
			name: "authorize client_id",
			call: func(t *testing.T, env *testEnv) (*Response, error) {
				res := NewResponse()
				query := url.Values{
					"response_type": {"code"},
					"client_id":     {testClientID, testPublicID},
					"redirect_uri":  {testRedirectURI},
					"state":         {testState},
				}
				_, err := env.srv.Authorize(ctx, mustRequest(t, http.MethodGet, nil, query, nil), res, &AuthorizeOptions{UserResolver: env.approve})
				return res, err
			},
		},
		{
			name: "revoke token",
			call: func(t *testing.T, env *testEnv) (*Response, error) {
				res := NewResponse()
				body := url.Values{"token": {"a", "b"}}
				err := env.srv.Revoke(ctx, tokenRequest(t, testClientID, testClientSecret, body), res)
				return res, err
			},
		},
		{
			name: "authenticate access_token in body",
			call: func(t *testing.T, env *testEnv) (*Response, error) {
				saveAccessToken(t, env, "valid", testNow.Add(time.Hour), nil)
				res := NewResponse()
				body := url.Values{"access_token": {"valid", "valid"}}
				_, err := env.srv.Authenticate(ctx, mustRequest(t, http.MethodPost, formHeader(), nil, body), res, nil)
				return res, err
			},
		},
		{
			name: "authenticate authorization header",
			call: func(t *testing.T, env *testEnv) (*Response, error) {
				saveAccessToken(t, env, "valid", testNow.Add(time.Hour), nil)
				res := NewResponse()
				header := formHeader("Authorization", "Bearer valid", "Authorization", basic)
				_, err := env.srv.Authenticate(ctx, mustRequest(t, http.MethodGet, header, nil, nil), res, nil)
				return res, err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)
			res, err := tt.call(t, env)
			assertKind(t, err, oautherr.KindInvalidRequest)
			if res.IsRedirect() {
				t.Errorf("repeated parameter answered with a redirect to %q", res.Location())
			}
		})
	}
}

// scopeValidatorStore replaces the default scope rule with fn.
type scopeValidatorStore struct {
	storage.Store
	fn func(requested storage.Scope) (storage.Scope, bool, error)
}

func (s *scopeValidatorStore) ValidateScope(_ context.Context, _ *storage.User, _ *storage.Client, requested storage.Scope) (storage.Scope, bool, error) {
	return s.fn(requested)
}

func TestServer_ScopeValidator(t *testing.T) {
	tests := []struct {
		name      string
		scope     string
		fn        func(requested storage.Scope) (storage.Scope, bool, error)
		wantScope storage.Scope
		wantKind  oautherr.Kind
	}{
		{
			name:  "empty request granted as empty",
			scope: "",
			fn: func(requested storage.Scope) (storage.Scope, bool, error) {
				return requested, true, nil
			},
		},
		{
			name:  "narrowed grant",
			scope: "read write",
			fn: func(storage.Scope) (storage.Scope, bool, error) {
				return storage.Scope{"read"}, true, nil
			},
			wantScope: storage.Scope{"read"},
		},
		{
			name:  "unsupported scope accepted by validator",
			scope: "custom",
			fn: func(requested storage.Scope) (storage.Scope, bool, error) {
				return requested, true, nil
			},
			wantScope: storage.Scope{"custom"},
		},
		{
			name:  "rejected",
			scope: "admin",
			fn: func(storage.Scope) (storage.Scope, bool, error) {
				return nil, false, nil
			},
			wantKind: oautherr.KindInvalidScope,
		},
		{
			name:  "store failure",
			scope: "read",
			fn: func(storage.Scope) (storage.Scope, bool, error) {
				return nil, false, errConnectionReset
			},
			wantKind: oautherr.KindServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)
			config := DefaultConfig()
			config.Now = env.clock.Now
			config.SupportedScopes = storage.Scope{"read", "write"}
			srv, err := New(&scopeValidatorStore{Store: env.store, fn: tt.fn}, config, nil)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			body := testutil.Form("grant_type", "client_credentials", "scope", tt.scope)
			token, err := srv.Token(context.Background(), tokenRequest(t, testClientID, testClientSecret, body), NewResponse(), nil)
			if tt.wantKind != 0 {
				assertKind(t, err, tt.wantKind)
				return
			}
			if err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			if token.Scope.String() != tt.wantScope.String() {
				t.Errorf("granted scope = %q, want %q", token.Scope.String(), tt.wantScope.String())
			}
		})
	}
}
