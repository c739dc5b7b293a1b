// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the engine.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:        true,
//		ServiceName:    "oauth2d",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//	http.Handle("/metrics", inst.MetricsHandler())
//
// When enabled, meters are backed by the OTEL Prometheus exporter registered into a
// dedicated prometheus.Registry. When disabled, no-op providers are used and nothing
// is allocated per call.
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// OAuth Flows:
//   - oauth.authenticate.total{result, error}
//   - oauth.authorize.total{response_type, result, error}
//   - oauth.token.requests.total{grant_type, result, error}
//   - oauth.token.request.duration{grant_type}
//   - oauth.code.exchanged{client_id, pkce_method}
//   - oauth.token.refreshed{client_id, rotated}
//   - oauth.token.revoked{client_id, token_type}
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.pkce.validation_failed{method}
//   - oauth.code.reuse_detected
//   - oauth.token.reuse_detected
//   - oauth.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{backend, operation, result}
//   - storage.operation.duration{backend, operation}
//   - storage.access_tokens, storage.refresh_tokens, storage.clients, storage.authorization_codes
//
// # Security Considerations
//
// Never record token values, authorization codes, client secrets or PKCE verifiers
// as span attributes or metric labels. client_id labels are high cardinality on
// deployments with many clients; aggregate with recording rules where needed.
package instrumentation
