package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-engine/internal/testutil"
	"github.com/giantswarm/oauth2-engine/storage/cache"
	"github.com/giantswarm/oauth2-engine/storage/memory"
)

const testFixtures = `
clients:
  - id: web
    secret: web-secret
    redirect_uris: [https://app.example.com/callback]
    grants: [authorization_code, refresh_token]
    scope: read write
    access_token_lifetime: 10m
  - id: spa
    redirect_uris: [https://spa.example.com/cb]
    grants: [authorization_code]
  - id: worker
    secret: worker-secret
    grants: [client_credentials]
    user: alice
users:
  - username: alice
    password: wonderland
    id: user-1
    attributes:
      name: Alice
`

func TestParseFixtures(t *testing.T) {
	f, err := ParseFixtures([]byte(testFixtures))
	if err != nil {
		t.Fatalf("ParseFixtures() error = %v", err)
	}
	if len(f.Clients) != 3 || len(f.Users) != 1 {
		t.Fatalf("got %d clients and %d users, want 3 and 1", len(f.Clients), len(f.Users))
	}
	web := f.Clients[0]
	if web.AccessTokenLifetime != 10*time.Minute {
		t.Errorf("AccessTokenLifetime = %v, want 10m", web.AccessTokenLifetime)
	}
	if web.Scope != "read write" {
		t.Errorf("Scope = %q", web.Scope)
	}
	if f.Users[0].Attributes["name"] != "Alice" {
		t.Errorf("Attributes = %v", f.Users[0].Attributes)
	}
}

func TestParseFixtures_Empty(t *testing.T) {
	f, err := ParseFixtures(nil)
	if err != nil {
		t.Fatalf("ParseFixtures() error = %v", err)
	}
	if len(f.Clients) != 0 || len(f.Users) != 0 {
		t.Error("empty input should give empty fixtures")
	}
}

func TestParseFixtures_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "clients:\n  - id: web\n    grants: [password]\n    colour: blue\n",
			wantErr: "colour",
		},
		{
			name:    "missing id",
			yaml:    "clients:\n  - grants: [password]\n",
			wantErr: "id is required",
		},
		{
			name:    "duplicate client",
			yaml:    "clients:\n  - id: web\n    grants: [password]\n  - id: web\n    grants: [password]\n",
			wantErr: "defined twice",
		},
		{
			name:    "no grants",
			yaml:    "clients:\n  - id: web\n",
			wantErr: "grant",
		},
		{
			name:    "bad scope",
			yaml:    "clients:\n  - id: web\n    grants: [password]\n    scope: 'a\"b'\n",
			wantErr: "invalid scope",
		},
		{
			name:    "unknown user",
			yaml:    "clients:\n  - id: web\n    grants: [client_credentials]\n    user: bob\n",
			wantErr: "unknown user",
		},
		{
			name:    "user without password",
			yaml:    "users:\n  - username: bob\n",
			wantErr: "password",
		},
		{
			name:    "malformed",
			yaml:    "clients: {",
			wantErr: "parse fixtures",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixtures([]byte(tt.yaml))
			if err == nil {
				t.Fatal("ParseFixtures() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	if err := os.WriteFile(path, []byte(testFixtures), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadFixtures(path); err != nil {
		t.Fatalf("LoadFixtures() error = %v", err)
	}
	if _, err := LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFixtures() should fail for a missing file")
	}
}

func TestFixtures_Seed(t *testing.T) {
	ctx := context.Background()
	f, err := ParseFixtures([]byte(testFixtures))
	if err != nil {
		t.Fatalf("ParseFixtures() error = %v", err)
	}

	store := memory.NewWithInterval(0)
	t.Cleanup(store.Stop)
	cached := cache.New(store, time.Minute)

	if err := f.Seed(ctx, cached, testutil.DiscardLogger()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	if err := store.ValidateClientSecret(ctx, "web", "web-secret"); err != nil {
		t.Errorf("web secret should validate: %v", err)
	}
	web, err := cached.GetClient(ctx, "web")
	if err != nil {
		t.Fatalf("GetClient(web) error = %v", err)
	}
	if !web.IsConfidential() || web.AccessTokenLifetime != 10*time.Minute {
		t.Errorf("web = %+v", web)
	}
	if !web.Scopes.Has("write") {
		t.Errorf("web scopes = %v, want read write", web.Scopes)
	}

	spa, err := store.GetClient(ctx, "spa")
	if err != nil {
		t.Fatalf("GetClient(spa) error = %v", err)
	}
	if spa.IsConfidential() {
		t.Error("spa has no secret and should be public")
	}

	user, err := store.GetUser(ctx, "alice", "wonderland")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("user ID = %q, want user-1", user.ID)
	}

	worker, err := store.GetClient(ctx, "worker")
	if err != nil {
		t.Fatalf("GetClient(worker) error = %v", err)
	}
	bound, err := store.GetUserFromClient(ctx, worker)
	if err != nil {
		t.Fatalf("GetUserFromClient() error = %v", err)
	}
	if bound.ID != "user-1" {
		t.Errorf("bound user = %q, want user-1", bound.ID)
	}
}

func TestFixtures_SeedSecretHash(t *testing.T) {
	ctx := context.Background()
	hash := testutil.HashSecret(t, "pre-hashed")
	f := &Fixtures{Clients: []ClientFixture{{ID: "c1", SecretHash: hash, Grants: []string{"client_credentials"}}}}

	store := memory.NewWithInterval(0)
	t.Cleanup(store.Stop)
	if err := f.Seed(ctx, store, testutil.DiscardLogger()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := store.ValidateClientSecret(ctx, "c1", "pre-hashed"); err != nil {
		t.Errorf("ValidateClientSecret() error = %v", err)
	}

	both := &Fixtures{Clients: []ClientFixture{{ID: "c2", Secret: "x", SecretHash: hash, Grants: []string{"password"}}}}
	if err := both.Seed(ctx, store, testutil.DiscardLogger()); err == nil {
		t.Error("Seed() should reject a client with both secret and secret_hash")
	}
}
