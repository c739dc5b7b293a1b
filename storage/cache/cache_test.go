package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-engine/storage"
	"github.com/giantswarm/oauth2-engine/storage/memory"
	"github.com/giantswarm/oauth2-engine/storage/storagetest"
)

// countingStore counts GetClient calls that reach the backend.
type countingStore struct {
	*memory.Store
	gets int
}

func (c *countingStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	c.gets++
	return c.Store.GetClient(ctx, clientID)
}

func newCounting(t *testing.T) *countingStore {
	t.Helper()
	m := memory.NewWithInterval(0)
	t.Cleanup(m.Stop)
	return &countingStore{Store: m}
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		return New(newCounting(t), time.Minute)
	})
}

func TestStore_CachesClients(t *testing.T) {
	inner := newCounting(t)
	s := New(inner, time.Minute)
	ctx := context.Background()

	if err := s.SaveClient(ctx, &storage.Client{ID: "app", Grants: []string{"password"}}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		c, err := s.GetClient(ctx, "app")
		if err != nil {
			t.Fatalf("GetClient() error = %v", err)
		}
		c.Grants[0] = "mutated"
	}
	if inner.gets != 1 {
		t.Errorf("backend GetClient calls = %d, want 1", inner.gets)
	}

	c, _ := s.GetClient(ctx, "app")
	if c.Grants[0] != "password" {
		t.Error("cached client was mutated through a returned copy")
	}
}

func TestStore_NegativeCache(t *testing.T) {
	inner := newCounting(t)
	s := New(inner, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.GetClient(ctx, "ghost"); !errors.Is(err, storage.ErrClientNotFound) {
			t.Fatalf("GetClient() error = %v, want ErrClientNotFound", err)
		}
	}
	if inner.gets != 1 {
		t.Errorf("backend GetClient calls = %d, want 1", inner.gets)
	}

	// Saving the client clears the remembered miss
	if err := s.SaveClient(ctx, &storage.Client{ID: "ghost"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetClient(ctx, "ghost"); err != nil {
		t.Errorf("GetClient() after SaveClient error = %v", err)
	}
}

func TestStore_Unwrap(t *testing.T) {
	inner := newCounting(t)
	s := New(inner, 0)

	if _, ok := storage.As[storage.UserStore](s); !ok {
		t.Error("As() should find the UserStore behind the cache")
	}
	if _, ok := storage.As[storage.ScopeVerifier](s); ok {
		t.Error("As() found an interface no store implements")
	}

	s.Flush()
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Flush", s.Len())
	}
}
