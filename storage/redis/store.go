package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys
	DefaultKeyPrefix = "oauth2:"

	backendName = "redis"

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxRecordSize bounds a stored payload so a corrupted key cannot exhaust memory
	MaxRecordSize = 64 * 1024
)

var errRecordTooLarge = errors.New("stored record exceeds maximum allowed size")

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Redis authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth2:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// GracePeriod is added to every record TTL (default security.DefaultClockSkewGracePeriod)
	GracePeriod time.Duration
}

// Store is a Redis-backed implementation of storage.Store and storage.UserStore.
type Store struct {
	client      *rdb.Client
	prefix      string
	logger      *slog.Logger
	gracePeriod time.Duration

	mu              sync.RWMutex
	encryptor       *security.Encryptor
	instrumentation *instrumentation.Instrumentation
}

// Compile-time interface checks
var (
	_ storage.Store     = (*Store)(nil)
	_ storage.UserStore = (*Store)(nil)
)

// New connects to Redis and returns a store. The connection is verified with PING.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := rdb.NewClient(&rdb.Options{
		Addr:      cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLS,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewFromClient(client, cfg)
	s.logger.Info("Connected to Redis storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", s.prefix)
	return s, nil
}

// NewFromClient wraps an existing client. Address, Password, DB and TLS in cfg are ignored.
func NewFromClient(client *rdb.Client, cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = security.DefaultClockSkewGracePeriod
	}

	return &Store{
		client:      client,
		prefix:      prefix,
		logger:      logger,
		gracePeriod: grace,
	}
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	s.logger.Info("Redis storage connection closed")
	return s.client.Close()
}

// SetEncryptor enables encryption at rest for token, code and user records.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for Redis storage")
	}
}

// SetInstrumentation enables storage spans and operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instrumentation = inst
}

func (s *Store) startOp(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	inst := s.instrumentation
	s.mu.RUnlock()
	return inst.StartStorageOperation(ctx, backendName, operation)
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encryptor
}

// Key helpers
func (s *Store) clientKey(id string) string { return s.prefix + "client:" + id }
func (s *Store) userKey(username string) string { return s.prefix + "user:" + username }
func (s *Store) accessKey(token string) string { return s.prefix + "access:" + token }
func (s *Store) refreshKey(token string) string { return s.prefix + "refresh:" + token }
func (s *Store) codeKey(code string) string { return s.prefix + "code:" + code }

// encode marshals v to JSON and seals it when encryption is enabled.
func (s *Store) encode(ctx context.Context, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.getEncryptor().Seal(ctx, data)
}

// decode opens and unmarshals a stored record into v.
func (s *Store) decode(ctx context.Context, data []byte, v any) error {
	if len(data) > MaxRecordSize {
		return errRecordTooLarge
	}
	plain, err := s.getEncryptor().Open(ctx, data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// ttlFor returns the Redis TTL for a record expiring at expiresAt.
// Zero means the key does not expire.
func (s *Store) ttlFor(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(expiresAt) + s.gracePeriod
	if ttl < s.gracePeriod {
		// Already expired: keep it briefly so the engine reports it as expired
		ttl = s.gracePeriod
	}
	return ttl
}

func isNil(err error) bool {
	return errors.Is(err, rdb.Nil)
}
