package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Result attribute values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds all metric instruments for the engine
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth Flow Metrics
	AuthenticateTotal    metric.Int64Counter
	AuthorizeTotal       metric.Int64Counter
	TokenRequestsTotal   metric.Int64Counter
	TokenRequestDuration metric.Float64Histogram
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRevoked         metric.Int64Counter

	// Security Metrics
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	TokenReuseDetected   metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageAccessTokens       metric.Int64ObservableGauge
	StorageRefreshTokens      metric.Int64ObservableGauge
	StorageClients            metric.Int64ObservableGauge
	StorageAuthorizationCodes metric.Int64ObservableGauge

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	m := &Metrics{}
	var err error

	counter := func(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("failed to create %s counter: %w", name, err)
		}
		return c
	}
	histogram := func(meter metric.Meter, name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
		if err != nil {
			err = fmt.Errorf("failed to create %s histogram: %w", name, err)
		}
		return h
	}
	gauge := func(name, desc string) metric.Int64ObservableGauge {
		if err != nil {
			return nil
		}
		var g metric.Int64ObservableGauge
		g, err = storageMeter.Int64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit("{item}"))
		if err != nil {
			err = fmt.Errorf("failed to create %s gauge: %w", name, err)
		}
		return g
	}

	m.HTTPRequestsTotal = counter(httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}")
	m.HTTPRequestDuration = histogram(httpMeter, "oauth.http.request.duration", "HTTP request duration in milliseconds")

	m.AuthenticateTotal = counter(serverMeter, "oauth.authenticate.total", "Number of bearer token authentications", "{request}")
	m.AuthorizeTotal = counter(serverMeter, "oauth.authorize.total", "Number of authorization requests", "{request}")
	m.TokenRequestsTotal = counter(serverMeter, "oauth.token.requests.total", "Number of token endpoint requests", "{request}")
	m.TokenRequestDuration = histogram(serverMeter, "oauth.token.request.duration", "Token endpoint duration in milliseconds")
	m.CodeExchanged = counter(serverMeter, "oauth.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}")
	m.TokenRefreshed = counter(serverMeter, "oauth.token.refreshed", "Number of tokens refreshed", "{refresh}")
	m.TokenRevoked = counter(serverMeter, "oauth.token.revoked", "Number of tokens revoked", "{revocation}")

	m.RateLimitExceeded = counter(securityMeter, "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}")
	m.PKCEValidationFailed = counter(securityMeter, "oauth.pkce.validation_failed", "Number of PKCE validation failures", "{failure}")
	m.CodeReuseDetected = counter(securityMeter, "oauth.code.reuse_detected", "Number of authorization code reuse attempts detected", "{attempt}")
	m.TokenReuseDetected = counter(securityMeter, "oauth.token.reuse_detected", "Number of refresh token reuse attempts detected", "{attempt}")

	m.StorageOperationTotal = counter(storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}")
	m.StorageOperationDuration = histogram(storageMeter, "storage.operation.duration", "Storage operation duration in milliseconds")
	m.StorageAccessTokens = gauge("storage.access_tokens", "Number of stored access tokens")
	m.StorageRefreshTokens = gauge("storage.refresh_tokens", "Number of stored refresh tokens")
	m.StorageClients = gauge("storage.clients", "Number of registered clients")
	m.StorageAuthorizationCodes = gauge("storage.authorization_codes", "Number of outstanding authorization codes")

	m.AuditEventsTotal = counter(securityMeter, "oauth.audit.events.total", "Total number of audit events", "{event}")
	m.EncryptionOperationsTotal = counter(securityMeter, "oauth.encryption.operations.total", "Total number of encryption/decryption operations", "{operation}")
	m.EncryptionDuration = histogram(securityMeter, "oauth.encryption.duration", "Encryption/decryption operation duration in milliseconds")

	if err != nil {
		return nil, err
	}
	return m, nil
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthenticate records a bearer token authentication. errorCode is "" on success.
func (m *Metrics) RecordAuthenticate(ctx context.Context, errorCode string) {
	m.AuthenticateTotal.Add(ctx, 1, metric.WithAttributes(outcome(errorCode)...))
}

// RecordAuthorize records an authorization request for a response type.
func (m *Metrics) RecordAuthorize(ctx context.Context, responseType, errorCode string) {
	attrs := append(outcome(errorCode), attribute.String("response_type", responseType))
	m.AuthorizeTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTokenRequest records a token endpoint request for a grant type.
func (m *Metrics) RecordTokenRequest(ctx context.Context, grantType, errorCode string, durationMs float64) {
	attrs := append(outcome(errorCode), attribute.String("grant_type", grantType))
	m.TokenRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.TokenRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("grant_type", grantType)))
}

func outcome(errorCode string) []attribute.KeyValue {
	if errorCode == "" {
		return []attribute.KeyValue{attribute.String("result", ResultSuccess)}
	}
	return []attribute.KeyValue{
		attribute.String("result", ResultError),
		attribute.String("error", errorCode),
	}
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, pkceMethod string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordTokenRefresh records a token refresh operation
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, rotated bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("rotated", rotated),
	))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID, tokenTypeHint string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("token_type", tokenTypeHint),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordTokenReuseDetected records a refresh token reuse attempt
func (m *Metrics) RecordTokenReuseDetected(ctx context.Context) {
	m.TokenReuseDetected.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation string, err error, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
		attribute.String("result", result(err)),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordEncryptionOperation records an encryption/decryption operation
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64) {
	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
	m.EncryptionDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
