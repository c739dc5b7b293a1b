package redis

import (
	"time"

	"github.com/giantswarm/oauth2-engine/storage"
)

// JSON shadows of the storage types. Durations are stored in seconds.

type userJSON struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func toUserJSON(u *storage.User) *userJSON {
	if u == nil {
		return nil
	}
	return &userJSON{ID: u.ID, Attributes: u.Attributes}
}

func (u *userJSON) toUser() *storage.User {
	if u == nil {
		return nil
	}
	return &storage.User{ID: u.ID, Attributes: u.Attributes}
}

type clientJSON struct {
	ID                   string   `json:"id"`
	SecretHash           string   `json:"secret_hash,omitempty"`
	RedirectURIs         []string `json:"redirect_uris,omitempty"`
	Grants               []string `json:"grants,omitempty"`
	Scopes               []string `json:"scopes,omitempty"`
	AccessTokenLifetime  int64    `json:"access_token_lifetime,omitempty"`
	RefreshTokenLifetime int64    `json:"refresh_token_lifetime,omitempty"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ID:                   c.ID,
		SecretHash:           c.SecretHash,
		RedirectURIs:         c.RedirectURIs,
		Grants:               c.Grants,
		Scopes:               c.Scopes,
		AccessTokenLifetime:  int64(c.AccessTokenLifetime / time.Second),
		RefreshTokenLifetime: int64(c.RefreshTokenLifetime / time.Second),
	}
}

func (c *clientJSON) toClient() *storage.Client {
	return &storage.Client{
		ID:                   c.ID,
		SecretHash:           c.SecretHash,
		RedirectURIs:         c.RedirectURIs,
		Grants:               c.Grants,
		Scopes:               c.Scopes,
		AccessTokenLifetime:  time.Duration(c.AccessTokenLifetime) * time.Second,
		RefreshTokenLifetime: time.Duration(c.RefreshTokenLifetime) * time.Second,
	}
}

type userRecordJSON struct {
	PasswordHash string    `json:"password_hash"`
	User         *userJSON `json:"user"`
}

type tokenJSON struct {
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token,omitempty"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at,omitempty"`
	Scope                 []string  `json:"scope,omitempty"`
	ClientID              string    `json:"client_id"`
	User                  *userJSON `json:"user,omitempty"`
}

func toTokenJSON(t *storage.Token) *tokenJSON {
	return &tokenJSON{
		AccessToken:           t.AccessToken,
		AccessTokenExpiresAt:  t.AccessTokenExpiresAt,
		RefreshToken:          t.RefreshToken,
		RefreshTokenExpiresAt: t.RefreshTokenExpiresAt,
		Scope:                 t.Scope,
		ClientID:              t.ClientID,
		User:                  toUserJSON(t.User),
	}
}

func (t *tokenJSON) toToken() *storage.Token {
	return &storage.Token{
		AccessToken:           t.AccessToken,
		AccessTokenExpiresAt:  t.AccessTokenExpiresAt,
		RefreshToken:          t.RefreshToken,
		RefreshTokenExpiresAt: t.RefreshTokenExpiresAt,
		Scope:                 t.Scope,
		ClientID:              t.ClientID,
		User:                  t.User.toUser(),
	}
}

type codeJSON struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri,omitempty"`
	Scope               []string  `json:"scope,omitempty"`
	User                *userJSON `json:"user,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
}

func toCodeJSON(c *storage.AuthorizationCode) *codeJSON {
	return &codeJSON{
		Code:                c.Code,
		ClientID:            c.ClientID,
		RedirectURI:         c.RedirectURI,
		Scope:               c.Scope,
		User:                toUserJSON(c.User),
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		ExpiresAt:           c.ExpiresAt,
	}
}

func (c *codeJSON) toCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                c.Code,
		ClientID:            c.ClientID,
		RedirectURI:         c.RedirectURI,
		Scope:               c.Scope,
		User:                c.User.toUser(),
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		ExpiresAt:           c.ExpiresAt,
	}
}
