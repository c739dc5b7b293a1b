package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Fixtures are the clients and users seeded into the store on start.
//
//	clients:
//	  - id: web
//	    secret: s3cret
//	    redirect_uris: [https://app.example.com/callback]
//	    grants: [authorization_code, refresh_token]
//	    scope: read write
//	users:
//	  - username: alice
//	    password: wonderland
//	    id: user-1
type Fixtures struct {
	Clients []ClientFixture `yaml:"clients"`
	Users   []UserFixture   `yaml:"users"`
}

// ClientFixture describes one client. Secret is hashed on load; SecretHash is
// taken as is. Neither makes a public client.
type ClientFixture struct {
	ID                   string        `yaml:"id"`
	Secret               string        `yaml:"secret"`
	SecretHash           string        `yaml:"secret_hash"`
	RedirectURIs         []string      `yaml:"redirect_uris"`
	Grants               []string      `yaml:"grants"`
	Scope                string        `yaml:"scope"`
	AccessTokenLifetime  time.Duration `yaml:"access_token_lifetime"`
	RefreshTokenLifetime time.Duration `yaml:"refresh_token_lifetime"`

	// User names the user client_credentials tokens act on behalf of
	User string `yaml:"user"`
}

// UserFixture describes one resource owner for the password grant.
type UserFixture struct {
	Username     string            `yaml:"username"`
	Password     string            `yaml:"password"`
	PasswordHash string            `yaml:"password_hash"`
	ID           string            `yaml:"id"`
	Attributes   map[string]string `yaml:"attributes"`
}

// LoadFixtures reads and validates a fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFixtures(b)
}

// ParseFixtures decodes YAML fixtures. Unknown keys are rejected.
func ParseFixtures(b []byte) (*Fixtures, error) {
	var f Fixtures
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the fixtures for missing and duplicate identifiers.
func (f *Fixtures) Validate() error {
	users := make(map[string]struct{}, len(f.Users))
	for i, u := range f.Users {
		if u.Username == "" {
			return fmt.Errorf("users[%d]: username is required", i)
		}
		if u.Password == "" && u.PasswordHash == "" {
			return fmt.Errorf("user %q: password or password_hash is required", u.Username)
		}
		if _, dup := users[u.Username]; dup {
			return fmt.Errorf("user %q defined twice", u.Username)
		}
		users[u.Username] = struct{}{}
	}

	clients := make(map[string]struct{}, len(f.Clients))
	for i, c := range f.Clients {
		if c.ID == "" {
			return fmt.Errorf("clients[%d]: id is required", i)
		}
		if _, dup := clients[c.ID]; dup {
			return fmt.Errorf("client %q defined twice", c.ID)
		}
		clients[c.ID] = struct{}{}
		if len(c.Grants) == 0 {
			return fmt.Errorf("client %q: at least one grant is required", c.ID)
		}
		if _, err := storage.ParseScope(c.Scope); err != nil {
			return fmt.Errorf("client %q: %w", c.ID, err)
		}
		if c.User != "" {
			if _, ok := users[c.User]; !ok {
				return fmt.Errorf("client %q: unknown user %q", c.ID, c.User)
			}
		}
	}
	return nil
}

type clientSaver interface {
	SaveClient(ctx context.Context, client *storage.Client) error
}

type userSaver interface {
	SaveUser(ctx context.Context, username, passwordHash string, user *storage.User) error
}

// clientUserBinder is implemented by stores that resolve a user for client_credentials.
type clientUserBinder interface {
	SetClientUser(clientID string, user *storage.User)
}

// Seed writes the fixtures into store. Plain secrets and passwords are bcrypt
// hashed first.
func (f *Fixtures) Seed(ctx context.Context, store storage.Store, logger *slog.Logger) error {
	clients, ok := storage.As[clientSaver](store)
	if !ok {
		return errors.New("store cannot be seeded with clients")
	}
	userStore, ok := storage.As[userSaver](store)
	if !ok && len(f.Users) > 0 {
		return errors.New("store cannot be seeded with users")
	}
	binder, canBind := storage.As[clientUserBinder](store)

	users := make(map[string]*storage.User, len(f.Users))
	for _, u := range f.Users {
		hash, err := hashOrKeep(u.Password, u.PasswordHash)
		if err != nil {
			return fmt.Errorf("user %q: %w", u.Username, err)
		}
		id := u.ID
		if id == "" {
			id = u.Username
		}
		user := &storage.User{ID: id, Attributes: u.Attributes}
		if err := userStore.SaveUser(ctx, u.Username, hash, user); err != nil {
			return fmt.Errorf("save user %q: %w", u.Username, err)
		}
		users[u.Username] = user
	}

	for _, c := range f.Clients {
		hash, err := hashOrKeep(c.Secret, c.SecretHash)
		if err != nil {
			return fmt.Errorf("client %q: %w", c.ID, err)
		}
		scope, _ := storage.ParseScope(c.Scope)
		client := &storage.Client{
			ID:                   c.ID,
			SecretHash:           hash,
			RedirectURIs:         c.RedirectURIs,
			Grants:               c.Grants,
			Scopes:               scope,
			AccessTokenLifetime:  c.AccessTokenLifetime,
			RefreshTokenLifetime: c.RefreshTokenLifetime,
		}
		if err := clients.SaveClient(ctx, client); err != nil {
			return fmt.Errorf("save client %q: %w", c.ID, err)
		}

		if c.User != "" {
			if !canBind {
				logger.Warn("Store cannot bind users to clients, ignoring fixture user",
					"client_id", c.ID, "user", c.User)
				continue
			}
			binder.SetClientUser(c.ID, users[c.User])
		}
	}

	logger.Info("Seeded fixtures", "clients", len(f.Clients), "users", len(f.Users))
	return nil
}

func hashOrKeep(plain, hash string) (string, error) {
	if plain == "" {
		return hash, nil
	}
	if hash != "" {
		return "", errors.New("set either the plain value or the hash, not both")
	}
	return security.HashSecret(plain)
}
