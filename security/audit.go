package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth2-engine/instrumentation"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	now     func() time.Time

	// throttle bounds failure logging per client/IP so a brute force attempt
	// cannot flood the log. Nil disables throttling.
	throttle *RateLimiter
	metrics  *instrumentation.Metrics
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetThrottle sets the limiter used for noisy failure events.
func (a *Auditor) SetThrottle(rl *RateLimiter) {
	a.throttle = rl
}

// SetInstrumentation enables audit event counters.
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		a.metrics = inst.Metrics()
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()
	if a.metrics != nil {
		a.metrics.RecordAuditEvent(ctx, event.Type)
	}

	attrs := []any{
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"timestamp", event.Timestamp,
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}
	if rid := GetRequestID(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	a.logger.InfoContext(ctx, "security_audit", attrs...)
}

// logThrottled logs event unless the throttle for key is exhausted.
func (a *Auditor) logThrottled(ctx context.Context, key string, event Event) {
	if a == nil || !a.enabled {
		return
	}
	if a.throttle != nil && !a.throttle.Allow(event.Type+":"+key) {
		if a.metrics != nil {
			a.metrics.RecordRateLimitExceeded(ctx, "audit")
		}
		return
	}
	a.LogEvent(ctx, event)
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(ctx context.Context, grantType, userID, clientID, ipAddress, scope string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenRefreshed logs when a token is refreshed
func (a *Auditor) LogTokenRefreshed(ctx context.Context, userID, clientID, ipAddress string, rotated bool) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenRefreshed,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(ctx context.Context, userID, clientID, ipAddress, tokenType string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenRevoked,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(ctx context.Context, userID, clientID, ipAddress, pkceMethod string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthorizationCodeIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"pkce_method": pkceMethod,
		},
	})
}

// LogAuthFailure logs an authentication failure. Throttled per client and IP.
func (a *Auditor) LogAuthFailure(ctx context.Context, userID, clientID, ipAddress, reason string) {
	a.logThrottled(ctx, clientID+"|"+ipAddress, Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogSecurityViolation logs one of the violation event types. Throttled per client and IP.
func (a *Auditor) LogSecurityViolation(ctx context.Context, eventType, clientID, ipAddress, reason string) {
	a.logThrottled(ctx, clientID+"|"+ipAddress, Event{
		Type:      eventType,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
