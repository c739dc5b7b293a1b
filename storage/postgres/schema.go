package postgres

import (
	"context"
	"fmt"
)

// schema is idempotent so EnsureSchema can run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS oauth_clients (
	id                     TEXT PRIMARY KEY,
	secret_hash            TEXT NOT NULL DEFAULT '',
	redirect_uris          TEXT[] NOT NULL DEFAULT '{}',
	grants                 TEXT[] NOT NULL DEFAULT '{}',
	scopes                 TEXT[] NOT NULL DEFAULT '{}',
	access_token_lifetime  BIGINT NOT NULL DEFAULT 0,
	refresh_token_lifetime BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS oauth_users (
	username        TEXT PRIMARY KEY,
	password_hash   TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	user_attributes JSONB
);

CREATE TABLE IF NOT EXISTS oauth_access_tokens (
	access_token             TEXT PRIMARY KEY,
	access_token_expires_at  TIMESTAMPTZ NOT NULL,
	refresh_token            TEXT NOT NULL DEFAULT '',
	refresh_token_expires_at TIMESTAMPTZ,
	scope                    TEXT[] NOT NULL DEFAULT '{}',
	client_id                TEXT NOT NULL,
	user_id                  TEXT,
	user_attributes          JSONB
);

CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (
	refresh_token            TEXT PRIMARY KEY,
	refresh_token_expires_at TIMESTAMPTZ,
	access_token             TEXT NOT NULL,
	access_token_expires_at  TIMESTAMPTZ NOT NULL,
	scope                    TEXT[] NOT NULL DEFAULT '{}',
	client_id                TEXT NOT NULL,
	user_id                  TEXT,
	user_attributes          JSONB
);

CREATE TABLE IF NOT EXISTS oauth_authorization_codes (
	code                  TEXT PRIMARY KEY,
	client_id             TEXT NOT NULL,
	redirect_uri          TEXT NOT NULL DEFAULT '',
	scope                 TEXT[] NOT NULL DEFAULT '{}',
	user_id               TEXT,
	user_attributes       JSONB,
	code_challenge        TEXT NOT NULL DEFAULT '',
	code_challenge_method TEXT NOT NULL DEFAULT '',
	expires_at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS oauth_access_tokens_expires_idx ON oauth_access_tokens (access_token_expires_at);
CREATE INDEX IF NOT EXISTS oauth_refresh_tokens_expires_idx ON oauth_refresh_tokens (refresh_token_expires_at);
CREATE INDEX IF NOT EXISTS oauth_authorization_codes_expires_idx ON oauth_authorization_codes (expires_at);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
