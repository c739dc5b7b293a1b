package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-engine/instrumentation"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/storage"
)

// errNilEnvelope is returned when a flow is called without a Request or Response.
var errNilEnvelope = errors.New("request and response are required")

// Server implements the OAuth 2.0 protocol state machine on top of a storage.Store.
// It is safe for concurrent use; every call is an independent unit of work.
type Server struct {
	store storage.Store

	// optional capabilities discovered on the store (through decorators)
	users          storage.UserStore
	clientUsers    storage.ClientUserResolver
	scopeValidator storage.ScopeValidator
	scopeVerifier  storage.ScopeVerifier
	implicitSaver  storage.ImplicitTokenSaver

	grants map[string]GrantHandler

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// New creates a new OAuth server. A nil config uses DefaultConfig.
func New(store storage.Store, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv := &Server{
		store:   store,
		Config:  config,
		Logger:  logger,
		Auditor: security.NewAuditor(logger, false),
	}
	srv.users, _ = storage.As[storage.UserStore](store)
	srv.clientUsers, _ = storage.As[storage.ClientUserResolver](store)
	srv.scopeValidator, _ = storage.As[storage.ScopeValidator](store)
	srv.scopeVerifier, _ = storage.As[storage.ScopeVerifier](store)
	srv.implicitSaver, _ = storage.As[storage.ImplicitTokenSaver](store)

	if config.PasswordVerifier == nil && srv.users == nil {
		logger.Debug("password grant disabled: no PasswordVerifier and store does not implement UserStore")
	}

	srv.grants = srv.builtinGrants()
	for grantType, handler := range config.ExtensionGrants {
		srv.grants[grantType] = handler
	}

	// Metrics are always recorded; without explicit instrumentation they go to no-op providers.
	inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation: %w", err)
	}
	srv.SetInstrumentation(inst)

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	if aud == nil {
		aud = security.NewAuditor(s.Logger, false)
	}
	s.Auditor = aud
}

// SetInstrumentation sets the OpenTelemetry instrumentation used for flow metrics and spans.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.Instrumentation = inst
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
}

// Store returns the store the server was created with.
func (s *Server) Store() storage.Store {
	return s.store
}

// GrantTypes returns the grant types the server accepts.
func (s *Server) GrantTypes() []string {
	types := make([]string, 0, len(s.grants))
	for grantType := range s.grants {
		types = append(types, grantType)
	}
	return types
}

func (s *Server) now() time.Time {
	return s.Config.now()
}

// storeError converts a store failure into a server_error, leaving protocol errors
// returned by the store untouched.
func storeError(op string, err error) error {
	var oe *oautherr.Error
	if errors.As(err, &oe) {
		return oe
	}
	return oautherr.ServerError("storage failure: "+op, err)
}

func userID(u *storage.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return oautherr.From(err).Code()
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if oe := oautherr.From(err); oe != nil {
		instrumentation.AddErrorAttributes(span, oe.Code(), oe.Description)
	}
	instrumentation.EndSpan(span, err)
}
