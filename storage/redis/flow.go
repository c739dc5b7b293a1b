package redis

import (
	"context"
	"fmt"

	"github.com/giantswarm/oauth2-engine/storage"
)

// SaveAuthorizationCode stores an issued code with a TTL of its lifetime plus grace.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.startOp(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	data, err := s.encode(ctx, toCodeJSON(code))
	if err != nil {
		return err
	}
	if err = s.client.Set(ctx, s.codeKey(code.Code), data, s.ttlFor(code.ExpiresAt)).Err(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// GetAuthorizationCode returns a code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (authCode *storage.AuthorizationCode, err error) {
	ctx, done := s.startOp(ctx, "get_authorization_code")
	defer func() { done(err) }()

	data, err := s.client.Get(ctx, s.codeKey(code)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var j codeJSON
	if err = s.decode(ctx, data, &j); err != nil {
		return nil, err
	}
	return j.toCode(), nil
}

// RevokeAuthorizationCode consumes a code with GETDEL.
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, done := s.startOp(ctx, "revoke_authorization_code")
	defer func() { done(err) }()

	if err = s.client.GetDel(ctx, s.codeKey(code)).Err(); err != nil {
		if isNil(err) {
			return storage.ErrAuthorizationCodeNotFound
		}
		return fmt.Errorf("failed to consume authorization code: %w", err)
	}
	return nil
}
