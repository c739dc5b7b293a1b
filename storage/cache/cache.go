// Package cache provides a read-through client cache in front of any storage.Store.
//
// Client lookups happen on every token request, while client records change rarely.
// Store caches GetClient results (including misses) with github.com/patrickmn/go-cache
// and forwards every other call. Secret validation is never cached.
package cache

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/giantswarm/oauth2-engine/storage"
)

const (
	// DefaultTTL is how long a client record is served from cache
	DefaultTTL = 5 * time.Minute

	// DefaultNegativeTTL is how long an unknown client ID is remembered
	DefaultNegativeTTL = 30 * time.Second
)

// Store decorates a storage.Store with a client cache.
type Store struct {
	storage.Store
	clients     *gocache.Cache
	negativeTTL time.Duration
}

var _ storage.Unwrapper = (*Store)(nil)

// missing marks a cached ErrClientNotFound.
type missing struct{}

// New wraps inner. A non-positive ttl uses DefaultTTL.
func New(inner storage.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	negative := DefaultNegativeTTL
	if negative > ttl {
		negative = ttl
	}
	return &Store{
		Store:       inner,
		clients:     gocache.New(ttl, time.Minute),
		negativeTTL: negative,
	}
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() storage.Store {
	return s.Store
}

// GetClient serves clients from cache, falling back to the wrapped store.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if v, ok := s.clients.Get(clientID); ok {
		if c, ok := v.(*storage.Client); ok {
			return c.Clone(), nil
		}
		return nil, storage.ErrClientNotFound
	}

	client, err := s.Store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.clients.Set(clientID, missing{}, s.negativeTTL)
		}
		return nil, err
	}
	s.clients.SetDefault(clientID, client.Clone())
	return client, nil
}

// SaveClient forwards to the wrapped store if it supports seeding clients and
// drops the cached entry.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	saver, ok := storage.As[clientSaver](s.Store)
	if !ok {
		return errors.New("wrapped store cannot save clients")
	}
	if err := saver.SaveClient(ctx, client); err != nil {
		return err
	}
	if client != nil {
		s.Invalidate(client.ID)
	}
	return nil
}

type clientSaver interface {
	SaveClient(ctx context.Context, client *storage.Client) error
}

// Invalidate drops a cached client.
func (s *Store) Invalidate(clientID string) {
	s.clients.Delete(clientID)
}

// Flush drops all cached clients.
func (s *Store) Flush() {
	s.clients.Flush()
}

// Len returns the number of cached entries, including remembered misses.
func (s *Store) Len() int {
	return s.clients.ItemCount()
}
