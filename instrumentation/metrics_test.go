package instrumentation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newEnabled(t *testing.T) *Instrumentation {
	t.Helper()
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst
}

func scrape(t *testing.T, inst *Instrumentation) string {
	t.Helper()
	rec := httptest.NewRecorder()
	inst.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestMetrics_FlowCounters(t *testing.T) {
	inst := newEnabled(t)
	m := inst.Metrics()
	ctx := context.Background()

	m.RecordAuthenticate(ctx, "")
	m.RecordAuthenticate(ctx, "invalid_token")
	m.RecordAuthorize(ctx, "code", "")
	m.RecordAuthorize(ctx, "token", "access_denied")
	m.RecordCodeExchange(ctx, "client-1", "S256")
	m.RecordTokenRefresh(ctx, "client-1", true)
	m.RecordTokenRevocation(ctx, "client-1", "refresh_token")

	out := scrape(t, inst)
	for _, name := range []string{
		"oauth_authenticate_total",
		"oauth_authorize_total",
		"oauth_code_exchanged",
		"oauth_token_refreshed",
		"oauth_token_revoked",
	} {
		if !strings.Contains(out, name) {
			t.Errorf("scrape output missing %s", name)
		}
	}
	if !strings.Contains(out, `error="access_denied"`) {
		t.Error("authorize failure should carry the error code label")
	}
}

func TestMetrics_SecurityCounters(t *testing.T) {
	inst := newEnabled(t)
	m := inst.Metrics()
	ctx := context.Background()

	m.RecordRateLimitExceeded(ctx, "security_log")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordCodeReuseDetected(ctx)
	m.RecordTokenReuseDetected(ctx)
	m.RecordAuditEvent(ctx, "token_issued")
	m.RecordEncryptionOperation(ctx, "encrypt", 0.2)

	out := scrape(t, inst)
	for _, name := range []string{
		"oauth_rate_limit_exceeded",
		"oauth_pkce_validation_failed",
		"oauth_code_reuse_detected",
		"oauth_token_reuse_detected",
		"oauth_audit_events_total",
		"oauth_encryption_operations_total",
	} {
		if !strings.Contains(out, name) {
			t.Errorf("scrape output missing %s", name)
		}
	}
}

func TestMetrics_RecordStorageOperation(t *testing.T) {
	inst := newEnabled(t)
	ctx := context.Background()

	inst.Metrics().RecordStorageOperation(ctx, "memory", "get_client", nil, 0.1)
	inst.Metrics().RecordStorageOperation(ctx, "redis", "save_token", errors.New("down"), 3)

	out := scrape(t, inst)
	if !strings.Contains(out, `result="error"`) {
		t.Error("failed storage operation should be labelled result=error")
	}
	if !strings.Contains(out, `backend="redis"`) {
		t.Error("storage operation should carry the backend label")
	}
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	inst := newEnabled(t)
	ctx := context.Background()

	tests := []struct {
		method     string
		endpoint   string
		statusCode int
	}{
		{"GET", "/oauth/authorize", 302},
		{"POST", "/oauth/token", 200},
		{"POST", "/oauth/token", 400},
	}
	for _, tt := range tests {
		inst.Metrics().RecordHTTPRequest(ctx, tt.method, tt.endpoint, tt.statusCode, 12.5)
	}

	if out := scrape(t, inst); !strings.Contains(out, "oauth_http_requests_total") {
		t.Error("scrape output missing oauth_http_requests_total")
	}
}
