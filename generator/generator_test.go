package generator

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-engine/storage"
)

var urlSafe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestOpaque(t *testing.T) {
	tests := []struct {
		name    string
		bytes   int
		wantLen int
	}{
		{"default", 0, 43},
		{"raised to minimum", 8, 32},
		{"custom", 48, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Opaque{Bytes: tt.bytes}
			seen := make(map[string]bool)
			for i := 0; i < 50; i++ {
				code, err := g.AuthorizationCode(context.Background(), Params{})
				if err != nil {
					t.Fatalf("AuthorizationCode() error = %v", err)
				}
				if len(code) != tt.wantLen {
					t.Errorf("len = %d, want %d", len(code), tt.wantLen)
				}
				if len(code) < MinCodeLength {
					t.Errorf("code %q shorter than %d", code, MinCodeLength)
				}
				if !urlSafe.MatchString(code) {
					t.Errorf("code %q is not URL safe", code)
				}
				if seen[code] {
					t.Fatalf("duplicate code %q", code)
				}
				seen[code] = true
			}
		})
	}
}

func TestNewJWT_ShortKey(t *testing.T) {
	if _, err := NewJWT("iss", []byte("short")); err == nil {
		t.Error("NewJWT() with short key should fail")
	}
}

func TestJWT_AccessToken(t *testing.T) {
	key := []byte(strings.Repeat("k", MinSigningKeyLength))
	g, err := NewJWT("https://auth.example.com", key)
	if err != nil {
		t.Fatal(err)
	}
	g.KeyID = "key-1"

	now := time.Now().Truncate(time.Second)
	p := Params{
		Client:    &storage.Client{ID: "c1"},
		User:      &storage.User{ID: "alice"},
		Scope:     storage.Scope{"read", "write"},
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}

	first, err := g.AccessToken(context.Background(), p)
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	second, _ := g.AccessToken(context.Background(), p)
	if first == second {
		t.Error("tokens should differ by jti")
	}

	claims, err := g.Parse(first)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("sub = %q, want alice", claims.Subject)
	}
	if claims.ClientID != "c1" {
		t.Errorf("client_id = %q, want c1", claims.ClientID)
	}
	if claims.Scope != "read write" {
		t.Errorf("scope = %q, want %q", claims.Scope, "read write")
	}
	if claims.ID == "" {
		t.Error("jti should be set")
	}
	if !claims.ExpiresAt.Time.Equal(p.ExpiresAt) {
		t.Errorf("exp = %v, want %v", claims.ExpiresAt.Time, p.ExpiresAt)
	}

	// Client-only token uses the client as subject
	clientOnly, err := g.AccessToken(context.Background(), Params{Client: &storage.Client{ID: "svc"}, IssuedAt: now, ExpiresAt: now.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	claims, err = g.Parse(clientOnly)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "svc" {
		t.Errorf("sub = %q, want svc", claims.Subject)
	}
}

func TestJWT_ParseRejectsOtherKey(t *testing.T) {
	a, _ := NewJWT("iss", []byte(strings.Repeat("a", MinSigningKeyLength)))
	b, _ := NewJWT("iss", []byte(strings.Repeat("b", MinSigningKeyLength)))

	now := time.Now()
	tok, err := a.AccessToken(context.Background(), Params{Client: &storage.Client{ID: "c1"}, IssuedAt: now, ExpiresAt: now.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Parse(tok); err == nil {
		t.Error("Parse() with another key should fail")
	}
}

func TestJWT_OpaqueRefreshAndCode(t *testing.T) {
	g, _ := NewJWT("iss", []byte(strings.Repeat("k", MinSigningKeyLength)))

	rt, err := g.RefreshToken(context.Background(), Params{})
	if err != nil || strings.Count(rt, ".") != 0 {
		t.Errorf("RefreshToken() = %q, %v; want opaque value", rt, err)
	}
	code, err := g.AuthorizationCode(context.Background(), Params{})
	if err != nil || len(code) < MinCodeLength {
		t.Errorf("AuthorizationCode() = %q, %v", code, err)
	}
}
