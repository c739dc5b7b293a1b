package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/security"
	"github.com/giantswarm/oauth2-engine/server"
	"github.com/giantswarm/oauth2-engine/storage"
)

// challenge selects the WWW-Authenticate scheme an error response carries
type challenge int

const (
	challengeNone challenge = iota
	challengeBearer
	challengeBasic
)

type tokenContextKey struct{}

// TokenFromContext returns the token the Authenticate middleware validated.
func TokenFromContext(ctx context.Context) (*storage.Token, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(*storage.Token)
	return token, ok
}

// ContextWithToken adds a validated token to the context
func ContextWithToken(ctx context.Context, token *storage.Token) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// Handler adapts the engine to net/http. It builds a server.Request from each
// *http.Request, runs the flow and writes the server.Response, or the error, back.
type Handler struct {
	server  *server.Server
	config  *Config
	logger  *slog.Logger
	limiter *security.RateLimiter
}

// NewHandler creates a Handler for srv. A nil config uses the defaults.
func NewHandler(srv *server.Server, config *Config) (*Handler, error) {
	if srv == nil {
		return nil, errors.New("server is required")
	}
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	cfg.applyDefaults()

	h := &Handler{
		server: srv,
		config: &cfg,
		logger: cfg.Logger,
	}
	if cfg.RateLimit.Rate > 0 {
		h.limiter = security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.Logger)
	}
	return h, nil
}

// Close stops background work started by the Handler.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// Wrap applies the request ID and security header middleware to next.
func (h *Handler) Wrap(next http.Handler) http.Handler {
	if !h.config.Security.DisableSecurityHeaders {
		next = security.SecurityHeadersMiddleware(h.config.Security.EnableHSTS)(next)
	}
	return security.RequestIDMiddleware(next)
}

// Authenticate returns middleware that validates the bearer token of every request.
// Valid requests reach next with the token in their context (see TokenFromContext).
// A nil opts uses Config.Authenticate.
func (h *Handler) Authenticate(opts *server.AuthenticateOptions) func(http.Handler) http.Handler {
	if opts == nil {
		defaults := h.config.Authenticate
		opts = &defaults
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			outcome := &Outcome{Endpoint: EndpointAuthenticate}
			res := server.NewResponse()

			req, err := h.envelope(r)
			var token *storage.Token
			if err == nil {
				token, err = h.server.Authenticate(r.Context(), req, res, opts)
			}
			if err != nil {
				outcome.Status, outcome.Err = h.writeError(w, r, res, err, challengeBearer)
				h.finish(r, outcome, start)
				return
			}

			copyHeader(w.Header(), res.Header)
			outcome.Token = token
			h.finish(r, outcome, start)
			next.ServeHTTP(w, r.WithContext(ContextWithToken(r.Context(), token)))
		})
	}
}

// ServeAuthorize handles the authorization endpoint (RFC 6749 §3.1).
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := &Outcome{Endpoint: EndpointAuthorize}
	defer h.finish(r, outcome, start)

	res := server.NewResponse()
	req, err := h.envelope(r)
	var result *server.AuthorizationResult
	if err == nil {
		opts := h.config.Authorize
		result, err = h.server.Authorize(r.Context(), req, res, &opts)
	}
	if err != nil {
		outcome.Status, outcome.Err = h.writeError(w, r, res, err, challengeNone)
		return
	}

	outcome.Code = result.Code
	outcome.Token = result.Token
	outcome.Status = h.writeResponse(w, res)
}

// ServeToken handles the token endpoint (RFC 6749 §3.2).
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := &Outcome{Endpoint: EndpointToken}
	defer h.finish(r, outcome, start)

	res := server.NewResponse()
	if h.rateLimited(w, r, outcome) {
		return
	}

	req, err := h.envelope(r)
	var token *storage.Token
	if err == nil {
		opts := h.config.Token
		token, err = h.server.Token(r.Context(), req, res, &opts)
	}
	if err != nil {
		outcome.Status, outcome.Err = h.writeError(w, r, res, err, challengeBasic)
		return
	}

	outcome.Token = token
	outcome.Status = h.writeResponse(w, res)
}

// ServeRevoke handles the revocation endpoint (RFC 7009).
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := &Outcome{Endpoint: EndpointRevoke}
	defer h.finish(r, outcome, start)

	res := server.NewResponse()
	if h.rateLimited(w, r, outcome) {
		return
	}

	req, err := h.envelope(r)
	if err == nil {
		err = h.server.Revoke(r.Context(), req, res)
	}
	if err != nil {
		outcome.Status, outcome.Err = h.writeError(w, r, res, err, challengeBasic)
		return
	}
	outcome.Status = h.writeResponse(w, res)
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.RateLimit.TrustProxy, h.config.RateLimit.TrustedProxyCount)
}

// envelope converts r into the engine's request type.
func (h *Handler) envelope(r *http.Request) (*server.Request, error) {
	req, err := server.RequestFromHTTP(r)
	if err != nil {
		return nil, oautherr.Wrap(oautherr.KindInvalidRequest, "invalid request: malformed request body", err)
	}
	return req.WithClientIP(h.clientIP(r)), nil
}

// rateLimited rejects the request when the caller's IP is over its limit.
func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request, outcome *Outcome) bool {
	if h.limiter == nil {
		return false
	}
	clientIP := h.clientIP(r)
	if h.limiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", outcome.Endpoint)
	h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	h.server.Auditor.LogEvent(r.Context(), security.Event{
		Type:      security.EventRateLimitExceeded,
		IPAddress: clientIP,
		Details:   map[string]any{"endpoint": outcome.Endpoint},
	})

	w.Header().Set("Retry-After", "60")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            ErrorCodeRateLimitExceeded,
		ErrorDescription: "Rate limit exceeded. Please try again later.",
	})

	outcome.Status = http.StatusTooManyRequests
	outcome.Err = errRateLimited
	return true
}

var errRateLimited = errors.New("rate limit exceeded")

// writeResponse forwards a populated response verbatim.
func (h *Handler) writeResponse(w http.ResponseWriter, res *server.Response) int {
	copyHeader(w.Header(), res.Header)
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}

	if res.IsRedirect() || len(res.Body) == 0 {
		w.WriteHeader(status)
		return status
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res.Body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
	return status
}

// writeError renders err. An authorization error the engine already turned into
// a redirect is sent as that redirect; everything else becomes the JSON error body
// with the status of the error kind.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, res *server.Response, err error, ch challenge) (int, error) {
	oe := oautherr.From(err)

	if res != nil && res.IsRedirect() {
		return h.writeResponse(w, res), oe
	}
	if res != nil {
		copyHeader(w.Header(), res.Header)
	}

	status := oe.Status()
	switch ch {
	case challengeBearer:
		// RFC 6750 §3.1 pairs invalid_request (400) with the challenge too
		if oe.Kind != oautherr.KindServerError {
			w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(oe.Code(), oe.Description))
		}
	case challengeBasic:
		// RFC 6749 §5.2: answer a failed Authorization header with a matching challenge
		if oe.Kind == oautherr.KindInvalidClient && r.Header.Get("Authorization") != "" {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, escapeQuoted(h.config.Realm)))
		}
	}

	if oe.Kind == oautherr.KindServerError {
		h.logger.Error("OAuth request failed", "path", r.URL.Path, "error", oe, "cause", oe.Cause)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(newErrorResponse(oe))
	return status, oe
}

// formatWWWAuthenticate builds an RFC 6750 §3 challenge.
func (h *Handler) formatWWWAuthenticate(errCode, errorDesc string) string {
	params := []string{fmt.Sprintf(`realm="%s"`, escapeQuoted(h.config.Realm))}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, errCode))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, escapeQuoted(errorDesc)))
	}
	return "Bearer " + strings.Join(params, ", ")
}

// escapeQuoted escapes s for an HTTP quoted-string. Backslashes first.
func escapeQuoted(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// finish records metrics and runs the completion hook. Every Serve method and the
// Authenticate middleware call it exactly once per request.
func (h *Handler) finish(r *http.Request, outcome *Outcome, start time.Time) {
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(r.Context(), r.Method, outcome.Endpoint, outcome.Status, durationMs)

	if outcome.Err != nil {
		h.logger.Debug("OAuth request rejected",
			"endpoint", outcome.Endpoint,
			"status", outcome.Status,
			"error", outcome.Err,
			"request_id", security.GetRequestID(r.Context()))
	}

	if h.config.OnComplete != nil {
		h.config.OnComplete(r, outcome)
	}
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		dst[key] = append([]string(nil), values...)
	}
}
