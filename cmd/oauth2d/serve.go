package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	oauth "github.com/giantswarm/oauth2-engine"
	"github.com/giantswarm/oauth2-engine/generator"
	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/internal/config"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/server"
	"github.com/giantswarm/oauth2-engine/storage"
	"github.com/giantswarm/oauth2-engine/storage/cache"
	"github.com/giantswarm/oauth2-engine/storage/memory"
	"github.com/giantswarm/oauth2-engine/storage/postgres"
	"github.com/giantswarm/oauth2-engine/storage/redis"
)

// TokenInfoPath serves the validated token back to its bearer.
const TokenInfoPath = "/oauth/tokeninfo"

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envFiles, err := cmd.Flags().GetStringSlice("env-file")
			if err != nil {
				return err
			}
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return err
			}

			configFile, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			v, err := config.NewViper(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			logger := cfg.NewLogger(cmd.ErrOrStderr()).With("app", "oauth2d")
			return run(cmd.Context(), cfg, logger)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// app holds everything one daemon instance owns.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	inst    *instrumentation.Instrumentation
	store   storage.Store
	server  *server.Server
	handler *oauth.Handler

	// sweep purges expired records for backends without their own loop
	sweep   func(context.Context) (int64, error)
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// init builds the app's components in dependency order. Whatever was opened
// before a failure is registered in closers.
func (a *app) init(ctx context.Context) error {
	cfg := a.cfg
	var err error
	a.inst, err = instrumentation.New(instrumentation.Config{
		ServiceName:    "oauth2d",
		ServiceVersion: version,
		Enabled:        cfg.MetricsListen != "",
	})
	if err != nil {
		return fmt.Errorf("failed to create instrumentation: %w", err)
	}

	if err := a.openStore(ctx); err != nil {
		return err
	}

	if cfg.FixturesFile != "" {
		fixtures, err := config.LoadFixtures(cfg.FixturesFile)
		if err != nil {
			return fmt.Errorf("load fixtures: %w", err)
		}
		if err := fixtures.Seed(ctx, a.store, a.logger); err != nil {
			return fmt.Errorf("seed fixtures: %w", err)
		}
	}

	sc := cfg.ServerConfig()
	if cfg.Tokens.JWTSigningKey != "" {
		jwtGen, err := generator.NewJWT(cfg.Issuer, []byte(cfg.Tokens.JWTSigningKey))
		if err != nil {
			return fmt.Errorf("invalid jwt-signing-key: %w", err)
		}
		sc.Generator = jwtGen
	}

	a.server, err = server.New(a.store, sc, a.logger)
	if err != nil {
		return err
	}
	a.server.SetInstrumentation(a.inst)
	auditor := security.NewAuditor(a.logger, cfg.Security.EnableAudit)
	auditor.SetInstrumentation(a.inst)
	a.server.SetAuditor(auditor)

	a.handler, err = oauth.NewHandler(a.server, &oauth.Config{
		Realm:  cfg.Realm,
		Issuer: cfg.Issuer,
		RateLimit: oauth.RateLimitConfig{
			Rate:              cfg.Security.RateLimit,
			Burst:             cfg.Security.RateLimitBurst,
			TrustProxy:        cfg.Security.TrustProxy,
			TrustedProxyCount: cfg.Security.TrustedProxyCount,
		},
		Security: oauth.SecurityConfig{EnableHSTS: cfg.Security.EnableHSTS},
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.handler.Close)
	return nil
}

// openStore connects the configured backend and wraps it in the client cache.
func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg.Storage
	var base storage.Store

	switch cfg.Backend {
	case config.BackendMemory:
		s := memory.NewWithInterval(cfg.CleanupInterval)
		s.SetLogger(a.logger)
		s.SetInstrumentation(a.inst)
		a.closers = append(a.closers, s.Stop)
		base = s

	case config.BackendRedis:
		s, err := redis.New(redis.Config{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
			Logger:    a.logger,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		if cfg.EncryptionKey != "" {
			key, err := security.KeyFromBase64(cfg.EncryptionKey)
			if err != nil {
				return fmt.Errorf("invalid encryption-key: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				return err
			}
			enc.SetInstrumentation(a.inst)
			s.SetEncryptor(enc)
		}
		s.SetInstrumentation(a.inst)
		base = s

	case config.BackendPostgres:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.PostgresDSN,
			MaxConns: cfg.PostgresMaxConns,
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		s.SetInstrumentation(a.inst)
		a.sweep = s.Cleanup
		base = s

	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.ClientCacheTTL > 0 {
		a.store = cache.New(base, cfg.ClientCacheTTL)
		a.logger.Info("Client cache enabled", "ttl", cfg.ClientCacheTTL)
	} else {
		a.store = base
	}
	return nil
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(a.handler.Wrap)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get(oauth.MetadataPath, a.handler.ServeMetadata)
	r.Get(oauth.AuthorizePath, a.handler.ServeAuthorize)
	r.Post(oauth.AuthorizePath, a.handler.ServeAuthorize)
	r.Post(oauth.TokenPath, a.handler.ServeToken)
	r.Post(oauth.RevokePath, a.handler.ServeRevoke)
	r.With(a.handler.Authenticate(nil)).Get(TokenInfoPath, serveTokenInfo)
	return r
}

type tokenInfo struct {
	ClientID  string `json:"client_id"`
	UserID    string `json:"user_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ExpiresIn int64  `json:"expires_in"`
}

func serveTokenInfo(w http.ResponseWriter, r *http.Request) {
	token, ok := oauth.TokenFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	security.SetNoStore(w.Header())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenInfo{
		ClientID:  token.ClientID,
		UserID:    token.UserID(),
		Scope:     token.Scope.String(),
		ExpiresIn: security.SecondsUntil(token.AccessTokenExpiresAt, time.Now()),
	})
}

// Close releases the store, the rate limiter and the telemetry providers.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.inst != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.inst.Shutdown(ctx); err != nil {
			a.logger.Warn("Failed to shut down instrumentation", "error", err)
		}
	}
}

// runSweep purges expired records every interval until ctx is done.
func (a *app) runSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := a.sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Warn("Expired record cleanup failed", "error", err)
				}
				continue
			}
			if cleaned > 0 {
				a.logger.Debug("Cleaned up expired records", "count", cleaned)
			}
		}
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	servers := []*http.Server{{
		Addr:              cfg.Listen,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}}
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.inst.MetricsHandler())
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	if a.sweep != nil && cfg.Storage.CleanupInterval > 0 {
		g.Go(func() error {
			a.runSweep(gctx, cfg.Storage.CleanupInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
