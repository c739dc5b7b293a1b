package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/storage"
	"github.com/giantswarm/oauth2-engine/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewWithInterval(0)
	t.Cleanup(s.Stop)
	return s
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		return newTestStore(t)
	})
}

func TestStore_SaveValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveClient(ctx, &storage.Client{}); err == nil {
		t.Error("SaveClient() with empty ID should fail")
	}
	if err := s.SaveToken(ctx, &storage.Token{}); err == nil {
		t.Error("SaveToken() with empty access token should fail")
	}
	if err := s.SaveToken(ctx, nil); err == nil {
		t.Error("SaveToken(nil) should fail")
	}
	if err := s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{}); err == nil {
		t.Error("SaveAuthorizationCode() with empty code should fail")
	}
	if err := s.SaveUser(ctx, "", "hash", &storage.User{ID: "u"}); err == nil {
		t.Error("SaveUser() with empty username should fail")
	}
}

func TestStore_RotateWithoutRefreshKeepsAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := storagetest.NewToken("c1", "a")
	if err := s.SaveToken(ctx, old); err != nil {
		t.Fatal(err)
	}

	// A rotated-out refresh token does not revoke its access token
	next := storagetest.NewToken("c1", "b")
	if err := s.RotateRefreshToken(ctx, old.RefreshToken, next); err != nil {
		t.Fatalf("RotateRefreshToken() error = %v", err)
	}
	if _, err := s.GetAccessToken(ctx, old.AccessToken); err != nil {
		t.Errorf("old access token should remain valid, got %v", err)
	}
}

func TestStore_Cleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	expired := &storage.Token{
		AccessToken:           "expired-access",
		AccessTokenExpiresAt:  now.Add(-time.Minute),
		RefreshToken:          "live-refresh",
		RefreshTokenExpiresAt: now.Add(time.Hour),
		ClientID:              "c1",
	}
	withinGrace := &storage.Token{
		AccessToken:          "grace-access",
		AccessTokenExpiresAt: now.Add(-time.Second),
		ClientID:             "c1",
	}
	neverExpires := &storage.Token{
		AccessToken:          "forever-access",
		AccessTokenExpiresAt: now.Add(time.Hour),
		RefreshToken:         "forever-refresh",
		ClientID:             "c1",
	}
	for _, tok := range []*storage.Token{expired, withinGrace, neverExpires} {
		if err := s.SaveToken(ctx, tok); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{Code: "old-code", ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}

	if got := s.Cleanup(); got != 2 {
		t.Errorf("Cleanup() = %d, want 2", got)
	}

	if _, err := s.GetAccessToken(ctx, "expired-access"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expired access token should be purged, got %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, "live-refresh"); err != nil {
		t.Errorf("live refresh token should survive, got %v", err)
	}
	if _, err := s.GetAccessToken(ctx, "grace-access"); err != nil {
		t.Errorf("token within grace period should survive, got %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, "forever-refresh"); err != nil {
		t.Errorf("refresh token without expiry should survive, got %v", err)
	}
	if _, err := s.GetAuthorizationCode(ctx, "old-code"); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("expired code should be purged, got %v", err)
	}
}

func TestStore_ClientUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	client := &storage.Client{ID: "svc"}

	if _, err := s.GetUserFromClient(ctx, client); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("GetUserFromClient() error = %v, want ErrUserNotFound", err)
	}

	s.SetClientUser("svc", &storage.User{ID: "svc-account"})
	user, err := s.GetUserFromClient(ctx, client)
	if err != nil {
		t.Fatalf("GetUserFromClient() error = %v", err)
	}
	if user.ID != "svc-account" {
		t.Errorf("user.ID = %q, want svc-account", user.ID)
	}

	s.SetClientUser("svc", nil)
	if _, err := s.GetUserFromClient(ctx, client); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("unbound client should have no user, got %v", err)
	}
}

func TestStore_Instrumentation(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:        true,
		SpanProcessors: []sdktrace.SpanProcessor{recorder},
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	s := newTestStore(t)
	s.SetInstrumentation(inst)

	_, _ = s.GetClient(context.Background(), "missing")

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "storage.get_client" {
		t.Errorf("span name = %q, want storage.get_client", spans[0].Name())
	}
}

func TestStore_StopIdempotent(t *testing.T) {
	s := New()
	s.Stop()
	s.Stop()
}
