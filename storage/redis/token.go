package redis

import (
	"context"
	"fmt"

	rdb "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oauth2-engine/internal/util"
	"github.com/giantswarm/oauth2-engine/storage"
)

// rotateScript deletes the old refresh key and, only if it existed, writes the new
// access and refresh records. KEYS: old refresh, new access, new refresh.
// ARGV: token payload, access TTL ms, refresh TTL ms (0 = no expiry).
var rotateScript = rdb.NewScript(`
if redis.call('DEL', KEYS[1]) == 0 then
  return 0
end
local function put(key, ttl)
  if tonumber(ttl) > 0 then
    redis.call('SET', key, ARGV[1], 'PX', ttl)
  else
    redis.call('SET', key, ARGV[1])
  end
end
put(KEYS[2], ARGV[2])
put(KEYS[3], ARGV[3])
return 1
`)

// SaveToken stores a token under its access key and, if present, its refresh key.
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) (err error) {
	ctx, done := s.startOp(ctx, "save_token")
	defer func() { done(err) }()

	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("access token cannot be empty")
	}

	data, err := s.encode(ctx, toTokenJSON(token))
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
		pipe.Set(ctx, s.accessKey(token.AccessToken), data, s.ttlFor(token.AccessTokenExpiresAt))
		if token.RefreshToken != "" {
			pipe.Set(ctx, s.refreshKey(token.RefreshToken), data, s.ttlFor(token.RefreshTokenExpiresAt))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	s.logger.Debug("Saved token",
		"access_token_prefix", util.SafeTruncate(token.AccessToken, tokenIDLogLength),
		"client_id", token.ClientID,
		"has_refresh", token.RefreshToken != "")
	return nil
}

func (s *Store) getToken(ctx context.Context, key string) (*storage.Token, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var j tokenJSON
	if err := s.decode(ctx, data, &j); err != nil {
		return nil, err
	}
	return j.toToken(), nil
}

// GetAccessToken looks a token up by its access token string.
func (s *Store) GetAccessToken(ctx context.Context, accessToken string) (token *storage.Token, err error) {
	ctx, done := s.startOp(ctx, "get_access_token")
	defer func() { done(err) }()

	return s.getToken(ctx, s.accessKey(accessToken))
}

// GetRefreshToken looks a token up by its refresh token string.
func (s *Store) GetRefreshToken(ctx context.Context, refreshToken string) (token *storage.Token, err error) {
	ctx, done := s.startOp(ctx, "get_refresh_token")
	defer func() { done(err) }()

	return s.getToken(ctx, s.refreshKey(refreshToken))
}

// RotateRefreshToken atomically replaces oldRefreshToken with next.
func (s *Store) RotateRefreshToken(ctx context.Context, oldRefreshToken string, next *storage.Token) (err error) {
	ctx, done := s.startOp(ctx, "rotate_refresh_token")
	defer func() { done(err) }()

	if next == nil || next.AccessToken == "" || next.RefreshToken == "" {
		return fmt.Errorf("rotated token must carry access and refresh tokens")
	}

	data, err := s.encode(ctx, toTokenJSON(next))
	if err != nil {
		return err
	}

	keys := []string{
		s.refreshKey(oldRefreshToken),
		s.accessKey(next.AccessToken),
		s.refreshKey(next.RefreshToken),
	}
	rotated, err := rotateScript.Run(ctx, s.client, keys,
		data,
		s.ttlFor(next.AccessTokenExpiresAt).Milliseconds(),
		s.ttlFor(next.RefreshTokenExpiresAt).Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if rotated == 0 {
		return storage.ErrTokenNotFound
	}

	s.logger.Debug("Rotated refresh token",
		"old_refresh_prefix", util.SafeTruncate(oldRefreshToken, tokenIDLogLength),
		"reused", next.RefreshToken == oldRefreshToken)
	return nil
}

func (s *Store) deleteToken(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if n == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// RevokeAccessToken removes the access half of a token.
func (s *Store) RevokeAccessToken(ctx context.Context, accessToken string) (err error) {
	ctx, done := s.startOp(ctx, "revoke_access_token")
	defer func() { done(err) }()

	return s.deleteToken(ctx, s.accessKey(accessToken))
}

// RevokeRefreshToken removes the refresh half of a token.
func (s *Store) RevokeRefreshToken(ctx context.Context, refreshToken string) (err error) {
	ctx, done := s.startOp(ctx, "revoke_refresh_token")
	defer func() { done(err) }()

	return s.deleteToken(ctx, s.refreshKey(refreshToken))
}
