package redis

import (
	"context"
	"fmt"

	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// SaveClient registers or replaces a client. Client records do not expire.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.startOp(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}

	data, err := s.encode(ctx, toClientJSON(client))
	if err != nil {
		return err
	}
	if err = s.client.Set(ctx, s.clientKey(client.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (client *storage.Client, err error) {
	ctx, done := s.startOp(ctx, "get_client")
	defer func() { done(err) }()

	return s.getClient(ctx, clientID)
}

func (s *Store) getClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Get(ctx, s.clientKey(clientID)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := s.decode(ctx, data, &j); err != nil {
		return nil, err
	}
	return j.toClient(), nil
}

// ValidateClientSecret compares clientSecret to the stored bcrypt hash.
// Unknown clients still pay for a bcrypt comparison.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) (err error) {
	ctx, done := s.startOp(ctx, "validate_client_secret")
	defer func() { done(err) }()

	client, err := s.getClient(ctx, clientID)
	if err != nil && err != storage.ErrClientNotFound {
		return err
	}

	var hash string
	if client != nil {
		hash = client.SecretHash
	}
	if cmpErr := security.CompareSecret(hash, clientSecret); cmpErr != nil {
		if client == nil {
			return storage.ErrClientNotFound
		}
		return storage.ErrInvalidCredentials
	}
	return nil
}

// SaveUser registers a resource owner for the password grant.
func (s *Store) SaveUser(ctx context.Context, username, passwordHash string, user *storage.User) (err error) {
	ctx, done := s.startOp(ctx, "save_user")
	defer func() { done(err) }()

	if username == "" || user == nil {
		return fmt.Errorf("username and user are required")
	}

	data, err := s.encode(ctx, &userRecordJSON{PasswordHash: passwordHash, User: toUserJSON(user)})
	if err != nil {
		return err
	}
	if err = s.client.Set(ctx, s.userKey(username), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUser verifies credentials and returns the user.
func (s *Store) GetUser(ctx context.Context, username, password string) (user *storage.User, err error) {
	ctx, done := s.startOp(ctx, "get_user")
	defer func() { done(err) }()

	var rec userRecordJSON
	data, getErr := s.client.Get(ctx, s.userKey(username)).Bytes()
	switch {
	case getErr == nil:
		if err = s.decode(ctx, data, &rec); err != nil {
			return nil, err
		}
	case !isNil(getErr):
		return nil, fmt.Errorf("failed to get user: %w", getErr)
	}

	// Empty hash for unknown users still runs a comparison
	if cmpErr := security.CompareSecret(rec.PasswordHash, password); cmpErr != nil || rec.User == nil {
		return nil, storage.ErrInvalidCredentials
	}
	return rec.User.toUser(), nil
}
