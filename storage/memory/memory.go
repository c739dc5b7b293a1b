package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

const (
	backendName = "memory"

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// DefaultCleanupInterval is how often expired records are swept
	DefaultCleanupInterval = time.Minute
)

type userRecord struct {
	passwordHash string
	user         *storage.User
}

// Store is an in-memory implementation of storage.Store and its optional interfaces.
// Token records are shared between the access and refresh indexes, so revoking one
// half leaves the other usable.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	clientUsers   map[string]*storage.User // client ID -> user for client_credentials
	users         map[string]*userRecord   // username -> credentials
	accessTokens  map[string]*storage.Token
	refreshTokens map[string]*storage.Token
	codes         map[string]*storage.AuthorizationCode

	instrumentation *instrumentation.Instrumentation
	logger          *slog.Logger
	now             func() time.Time

	cleanupInterval time.Duration
	gracePeriod     time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Compile-time interface checks
var (
	_ storage.Store              = (*Store)(nil)
	_ storage.UserStore          = (*Store)(nil)
	_ storage.ClientUserResolver = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval.
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a store whose background sweep runs every interval.
// A non-positive interval disables the sweep; Cleanup can still be called directly.
func NewWithInterval(interval time.Duration) *Store {
	s := &Store{
		clients:         make(map[string]*storage.Client),
		clientUsers:     make(map[string]*storage.User),
		users:           make(map[string]*userRecord),
		accessTokens:    make(map[string]*storage.Token),
		refreshTokens:   make(map[string]*storage.Token),
		codes:           make(map[string]*storage.AuthorizationCode),
		logger:          slog.Default(),
		now:             time.Now,
		cleanupInterval: interval,
		gracePeriod:     security.DefaultClockSkewGracePeriod,
		stopCleanup:     make(chan struct{}),
	}

	if interval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation enables storage spans, operation metrics and size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	s.mu.Unlock()

	if inst == nil {
		return
	}

	err := inst.RegisterStorageSizeCallbacks(
		s.sizeOf(func() int { return len(s.accessTokens) }),
		s.sizeOf(func() int { return len(s.refreshTokens) }),
		s.sizeOf(func() int { return len(s.clients) }),
		s.sizeOf(func() int { return len(s.codes) }),
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) sizeOf(count func() int) instrumentation.StorageSizeCallback {
	return func() int64 {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return int64(count())
	}
}

// Stop stops the background cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

func (s *Store) startOp(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	inst := s.instrumentation
	s.mu.RUnlock()
	return inst.StartStorageOperation(ctx, backendName, operation)
}

// ============================================================
// Clients and users
// ============================================================

// SaveClient registers or replaces a client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	_, done := s.startOp(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = client.Clone()
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (client *storage.Client, err error) {
	_, done := s.startOp(ctx, "get_client")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return c.Clone(), nil
}

// ValidateClientSecret compares clientSecret to the stored bcrypt hash.
// Unknown and public clients still pay for a bcrypt comparison.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) (err error) {
	_, done := s.startOp(ctx, "validate_client_secret")
	defer func() { done(err) }()

	s.mu.RLock()
	c, ok := s.clients[clientID]
	var hash string
	if ok {
		hash = c.SecretHash
	}
	s.mu.RUnlock()

	if cmpErr := security.CompareSecret(hash, clientSecret); cmpErr != nil {
		if !ok {
			return storage.ErrClientNotFound
		}
		return storage.ErrInvalidCredentials
	}
	return nil
}

// SaveUser registers a resource owner for the password grant.
func (s *Store) SaveUser(ctx context.Context, username, passwordHash string, user *storage.User) (err error) {
	_, done := s.startOp(ctx, "save_user")
	defer func() { done(err) }()

	if username == "" || user == nil {
		return fmt.Errorf("username and user are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &userRecord{passwordHash: passwordHash, user: user.Clone()}
	return nil
}

// GetUser verifies credentials and returns the user.
func (s *Store) GetUser(ctx context.Context, username, password string) (user *storage.User, err error) {
	_, done := s.startOp(ctx, "get_user")
	defer func() { done(err) }()

	s.mu.RLock()
	rec, ok := s.users[username]
	var hash string
	if ok {
		hash = rec.passwordHash
	}
	s.mu.RUnlock()

	if cmpErr := security.CompareSecret(hash, password); cmpErr != nil || !ok {
		return nil, storage.ErrInvalidCredentials
	}
	return rec.user.Clone(), nil
}

// SetClientUser binds the user that client_credentials tokens for clientID act on behalf of.
func (s *Store) SetClientUser(clientID string, user *storage.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user == nil {
		delete(s.clientUsers, clientID)
		return
	}
	s.clientUsers[clientID] = user.Clone()
}

// GetUserFromClient returns the user bound with SetClientUser, or ErrUserNotFound.
func (s *Store) GetUserFromClient(ctx context.Context, client *storage.Client) (user *storage.User, err error) {
	_, done := s.startOp(ctx, "get_user_from_client")
	defer func() { done(err) }()

	if client == nil {
		return nil, storage.ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.clientUsers[client.ID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return u.Clone(), nil
}

// ============================================================
// Tokens
// ============================================================

// SaveToken stores a token under its access token and, if present, its refresh token.
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) (err error) {
	_, done := s.startOp(ctx, "save_token")
	defer func() { done(err) }()

	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("access token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveTokenLocked(token)

	s.logger.Debug("Saved token",
		"access_token_prefix", util.SafeTruncate(token.AccessToken, tokenIDLogLength),
		"client_id", token.ClientID,
		"has_refresh", token.RefreshToken != "")
	return nil
}

func (s *Store) saveTokenLocked(token *storage.Token) {
	rec := token.Clone()
	s.accessTokens[rec.AccessToken] = rec
	if rec.RefreshToken != "" {
		s.refreshTokens[rec.RefreshToken] = rec
	}
}

// GetAccessToken looks a token up by its access token string.
func (s *Store) GetAccessToken(ctx context.Context, accessToken string) (token *storage.Token, err error) {
	_, done := s.startOp(ctx, "get_access_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.accessTokens[accessToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return rec.Clone(), nil
}

// GetRefreshToken looks a token up by its refresh token string.
func (s *Store) GetRefreshToken(ctx context.Context, refreshToken string) (token *storage.Token, err error) {
	_, done := s.startOp(ctx, "get_refresh_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.refreshTokens[refreshToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return rec.Clone(), nil
}

// RotateRefreshToken atomically replaces oldRefreshToken with next.
func (s *Store) RotateRefreshToken(ctx context.Context, oldRefreshToken string, next *storage.Token) (err error) {
	_, done := s.startOp(ctx, "rotate_refresh_token")
	defer func() { done(err) }()

	if next == nil || next.AccessToken == "" {
		return fmt.Errorf("access token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[oldRefreshToken]; !ok {
		return storage.ErrTokenNotFound
	}
	delete(s.refreshTokens, oldRefreshToken)
	s.saveTokenLocked(next)

	s.logger.Debug("Rotated refresh token",
		"old_refresh_prefix", util.SafeTruncate(oldRefreshToken, tokenIDLogLength),
		"reused", next.RefreshToken == oldRefreshToken)
	return nil
}

// RevokeAccessToken removes the access half of a token.
func (s *Store) RevokeAccessToken(ctx context.Context, accessToken string) (err error) {
	_, done := s.startOp(ctx, "revoke_access_token")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accessTokens[accessToken]; !ok {
		return storage.ErrTokenNotFound
	}
	delete(s.accessTokens, accessToken)
	return nil
}

// RevokeRefreshToken removes the refresh half of a token.
func (s *Store) RevokeRefreshToken(ctx context.Context, refreshToken string) (err error) {
	_, done := s.startOp(ctx, "revoke_refresh_token")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[refreshToken]; !ok {
		return storage.ErrTokenNotFound
	}
	delete(s.refreshTokens, refreshToken)
	return nil
}

// ============================================================
// Authorization codes
// ============================================================

// SaveAuthorizationCode stores an issued code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	_, done := s.startOp(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code.Clone()
	return nil
}

// GetAuthorizationCode returns a code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (authCode *storage.AuthorizationCode, err error) {
	_, done := s.startOp(ctx, "get_authorization_code")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	return c.Clone(), nil
}

// RevokeAuthorizationCode consumes a code. The check and delete happen under one
// write lock, so exactly one concurrent caller succeeds.
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) (err error) {
	_, done := s.startOp(ctx, "revoke_authorization_code")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; !ok {
		return storage.ErrAuthorizationCodeNotFound
	}
	delete(s.codes, code)
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Cleanup removes expired codes and token halves, allowing a clock skew grace period.
// It returns the number of removed entries.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for id, tok := range s.accessTokens {
		if security.IsExpiredWithGracePeriod(tok.AccessTokenExpiresAt, now, s.gracePeriod) {
			delete(s.accessTokens, id)
			cleaned++
		}
	}

	// Zero refresh expiry never matches
	for id, tok := range s.refreshTokens {
		if security.IsExpiredWithGracePeriod(tok.RefreshTokenExpiresAt, now, s.gracePeriod) {
			delete(s.refreshTokens, id)
			cleaned++
		}
	}

	for id, code := range s.codes {
		if security.IsExpiredWithGracePeriod(code.ExpiresAt, now, s.gracePeriod) {
			delete(s.codes, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
	return cleaned
}
