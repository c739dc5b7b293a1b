// Package config loads the oauth2d daemon configuration.
//
// Values come, in increasing precedence, from flag defaults, an optional YAML
// config file, OAUTH2D_* environment variables (optionally seeded from .env files)
// and explicitly set command line flags. Client and user fixtures are loaded
// separately, see LoadFixtures.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/server"
	"github.com/giantswarm/oauth2-engine/storage"
)

// EnvPrefix is the prefix of every environment variable the daemon reads.
const EnvPrefix = "OAUTH2D"

// Storage backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the complete daemon configuration.
type Config struct {
	Listen        string
	MetricsListen string
	Issuer        string
	Realm         string

	LogLevel  slog.Level
	LogFormat string // "text" or "json"

	FixturesFile    string
	ShutdownTimeout time.Duration

	Storage  StorageConfig
	Tokens   TokenConfig
	Security SecurityConfig
}

// StorageConfig selects and tunes the storage backend.
type StorageConfig struct {
	Backend string

	RedisAddress   string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	PostgresDSN      string
	PostgresMaxConns int32

	// EncryptionKey is a base64 AES-256 key for encryption at rest (redis only)
	EncryptionKey string

	// ClientCacheTTL enables the client cache decorator when positive
	ClientCacheTTL time.Duration

	// CleanupInterval drives expired record cleanup (memory and postgres)
	CleanupInterval time.Duration
}

// TokenConfig holds token lifetimes and the token format.
type TokenConfig struct {
	AccessTokenLifetime        time.Duration
	RefreshTokenLifetime       time.Duration
	AuthorizationCodeLifetime  time.Duration
	AlwaysIssueNewRefreshToken bool

	// JWTSigningKey switches access tokens to HS256 JWTs when set
	JWTSigningKey string

	DefaultScope    storage.Scope
	SupportedScopes storage.Scope
}

// SecurityConfig holds protocol and transport hardening switches.
type SecurityConfig struct {
	AllowPKCEPlain                 bool
	RequirePKCEForPublicClients    bool
	AllowEmptyState                bool
	AllowBearerTokensInQueryString bool
	PublicPasswordGrant            bool

	EnableHSTS        bool
	TrustProxy        bool
	TrustedProxyCount int
	RateLimit         float64
	RateLimitBurst    int
	EnableAudit       bool
}

// RegisterFlags adds every daemon flag to flags with its default value.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("listen", ":8080", "listen address of the OAuth endpoints")
	flags.String("metrics-listen", "", "listen address of the Prometheus endpoint (empty disables)")
	flags.String("issuer", "http://localhost:8080", "public base URL advertised in metadata")
	flags.String("realm", "Service", "realm sent in WWW-Authenticate challenges")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("fixtures", "", "YAML file with clients and users to seed on start")
	flags.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")

	flags.String("storage", BackendMemory, "storage backend (memory, redis, postgres)")
	flags.String("redis-address", "localhost:6379", "redis server address")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-db", 0, "redis database number")
	flags.String("redis-key-prefix", "", "prefix of every redis key (default oauth2:)")
	flags.String("postgres-dsn", "", "postgres connection string")
	flags.Int32("postgres-max-conns", 0, "postgres pool size (default 10)")
	flags.String("encryption-key", "", "base64 AES-256 key for encryption at rest (redis)")
	flags.Duration("client-cache-ttl", 0, "cache client lookups for this long (0 disables)")
	flags.Duration("cleanup-interval", time.Minute, "interval of expired record cleanup")

	flags.Duration("access-token-lifetime", time.Hour, "access token lifetime")
	flags.Duration("refresh-token-lifetime", 14*24*time.Hour, "refresh token lifetime")
	flags.Duration("authorization-code-lifetime", 5*time.Minute, "authorization code lifetime")
	flags.Bool("rotate-refresh-tokens", true, "issue a new refresh token on every refresh")
	flags.String("jwt-signing-key", "", "HS256 key; issue JWT access tokens instead of opaque ones")
	flags.String("default-scope", "", "scope granted when a request asks for none")
	flags.String("supported-scopes", "", "space separated list of known scopes (empty accepts any)")

	flags.Bool("allow-pkce-plain", false, "accept the plain code_challenge_method")
	flags.Bool("require-pkce", true, "require PKCE from public clients")
	flags.Bool("allow-empty-state", false, "accept authorization requests without state")
	flags.Bool("allow-query-tokens", false, "accept bearer tokens in the access_token query parameter")
	flags.Bool("public-password-grant", false, "let public clients use the password grant")
	flags.Bool("hsts", false, "send Strict-Transport-Security")
	flags.Bool("trust-proxy", false, "trust X-Forwarded-For and X-Real-IP")
	flags.Int("trusted-proxy-count", 1, "number of trusted proxies in front of the server")
	flags.Float64("rate-limit", 10, "token and revocation requests per second per IP (0 disables)")
	flags.Int("rate-limit-burst", 20, "rate limit burst per IP")
	flags.Bool("audit", true, "emit security audit events")
}

// NewViper returns a viper instance reading OAUTH2D_* variables and bound to
// every flag in flags. configFile, when set, is read as YAML.
func NewViper(flags *pflag.FlagSet, configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("bind flag %q: %w", flag.Name, err)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", configFile, err)
		}
	}
	return v, nil
}

// LoadDotEnv loads .env style files into the process environment. Variables
// that are already set win. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log-level: %w", err)
	}

	defaultScope, err := storage.ParseScope(v.GetString("default-scope"))
	if err != nil {
		return nil, fmt.Errorf("invalid default-scope: %w", err)
	}
	supportedScopes, err := storage.ParseScope(v.GetString("supported-scopes"))
	if err != nil {
		return nil, fmt.Errorf("invalid supported-scopes: %w", err)
	}

	cfg := &Config{
		Listen:          v.GetString("listen"),
		MetricsListen:   v.GetString("metrics-listen"),
		Issuer:          v.GetString("issuer"),
		Realm:           v.GetString("realm"),
		LogLevel:        level,
		LogFormat:       strings.ToLower(v.GetString("log-format")),
		FixturesFile:    v.GetString("fixtures"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		Storage: StorageConfig{
			Backend:          strings.ToLower(v.GetString("storage")),
			RedisAddress:     v.GetString("redis-address"),
			RedisPassword:    v.GetString("redis-password"),
			RedisDB:          v.GetInt("redis-db"),
			RedisKeyPrefix:   v.GetString("redis-key-prefix"),
			PostgresDSN:      v.GetString("postgres-dsn"),
			PostgresMaxConns: v.GetInt32("postgres-max-conns"),
			EncryptionKey:    v.GetString("encryption-key"),
			ClientCacheTTL:   v.GetDuration("client-cache-ttl"),
			CleanupInterval:  v.GetDuration("cleanup-interval"),
		},
		Tokens: TokenConfig{
			AccessTokenLifetime:        v.GetDuration("access-token-lifetime"),
			RefreshTokenLifetime:       v.GetDuration("refresh-token-lifetime"),
			AuthorizationCodeLifetime:  v.GetDuration("authorization-code-lifetime"),
			AlwaysIssueNewRefreshToken: v.GetBool("rotate-refresh-tokens"),
			JWTSigningKey:              v.GetString("jwt-signing-key"),
			DefaultScope:               defaultScope,
			SupportedScopes:            supportedScopes,
		},
		Security: SecurityConfig{
			AllowPKCEPlain:                 v.GetBool("allow-pkce-plain"),
			RequirePKCEForPublicClients:    v.GetBool("require-pkce"),
			AllowEmptyState:                v.GetBool("allow-empty-state"),
			AllowBearerTokensInQueryString: v.GetBool("allow-query-tokens"),
			PublicPasswordGrant:            v.GetBool("public-password-grant"),
			EnableHSTS:                     v.GetBool("hsts"),
			TrustProxy:                     v.GetBool("trust-proxy"),
			TrustedProxyCount:              v.GetInt("trusted-proxy-count"),
			RateLimit:                      v.GetFloat64("rate-limit"),
			RateLimitBurst:                 v.GetInt("rate-limit-burst"),
			EnableAudit:                    v.GetBool("audit"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be fixed up with a default.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log-format %q", c.LogFormat)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.RedisAddress == "" {
			return errors.New("redis-address is required for the redis backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("postgres-dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Storage.EncryptionKey != "" {
		if c.Storage.Backend != BackendRedis {
			return errors.New("encryption-key is only supported by the redis backend")
		}
		if _, err := security.KeyFromBase64(c.Storage.EncryptionKey); err != nil {
			return fmt.Errorf("invalid encryption-key: %w", err)
		}
	}

	if c.Tokens.AccessTokenLifetime <= 0 || c.Tokens.RefreshTokenLifetime <= 0 || c.Tokens.AuthorizationCodeLifetime <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.Security.RateLimit < 0 {
		return errors.New("rate-limit must not be negative")
	}
	return nil
}

// ServerConfig translates the daemon settings into an engine configuration.
// Generator and hooks are left for the caller.
func (c *Config) ServerConfig() *server.Config {
	sc := server.DefaultConfig()
	sc.AccessTokenLifetime = int64(c.Tokens.AccessTokenLifetime / time.Second)
	sc.RefreshTokenLifetime = int64(c.Tokens.RefreshTokenLifetime / time.Second)
	sc.AuthorizationCodeLifetime = int64(c.Tokens.AuthorizationCodeLifetime / time.Second)
	sc.AlwaysIssueNewRefreshToken = c.Tokens.AlwaysIssueNewRefreshToken
	sc.DefaultScope = c.Tokens.DefaultScope
	sc.SupportedScopes = c.Tokens.SupportedScopes

	sc.AllowPKCEPlain = c.Security.AllowPKCEPlain
	sc.RequirePKCEForPublicClients = c.Security.RequirePKCEForPublicClients
	sc.AllowEmptyState = c.Security.AllowEmptyState
	sc.AllowBearerTokensInQueryString = c.Security.AllowBearerTokensInQueryString
	if c.Security.PublicPasswordGrant {
		sc.RequireClientAuthentication[server.GrantTypePassword] = false
	}
	return sc
}

// NewLogger builds the daemon logger on w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
