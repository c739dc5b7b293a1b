package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpan(t *testing.T, fn func(ctx context.Context, inst *Instrumentation)) sdktrace.ReadOnlySpan {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	inst, err := New(Config{Enabled: true, SpanProcessors: []sdktrace.SpanProcessor{recorder}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	fn(context.Background(), inst)

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(ended))
	}
	return ended[0]
}

func attrMap(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestAddOAuthFlowAttributes(t *testing.T) {
	span := recordSpan(t, func(ctx context.Context, inst *Instrumentation) {
		_, s := inst.Tracer("server").Start(ctx, "flow")
		AddOAuthFlowAttributes(s, "client-1", "", "read write")
		AddPKCEAttributes(s, "S256")
		s.End()
	})

	attrs := attrMap(span)
	if attrs[AttrClientID].AsString() != "client-1" {
		t.Errorf("%s = %q", AttrClientID, attrs[AttrClientID].AsString())
	}
	if _, ok := attrs[AttrUserID]; ok {
		t.Error("empty user ID should not be recorded")
	}
	if attrs[AttrScope].AsString() != "read write" {
		t.Errorf("%s = %q", AttrScope, attrs[AttrScope].AsString())
	}
	if attrs[AttrPKCEMethod].AsString() != "S256" {
		t.Errorf("%s = %q", AttrPKCEMethod, attrs[AttrPKCEMethod].AsString())
	}
}

func TestEndSpan(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		span := recordSpan(t, func(ctx context.Context, inst *Instrumentation) {
			_, s := inst.Tracer("server").Start(ctx, "ok")
			EndSpan(s, nil)
		})
		if span.Status().Code != codes.Ok {
			t.Errorf("status = %v, want Ok", span.Status().Code)
		}
	})

	t.Run("error", func(t *testing.T) {
		span := recordSpan(t, func(ctx context.Context, inst *Instrumentation) {
			_, s := inst.Tracer("server").Start(ctx, "fail")
			AddErrorAttributes(s, "invalid_grant", "code expired")
			EndSpan(s, errors.New("invalid_grant: code expired"))
		})
		if span.Status().Code != codes.Error {
			t.Errorf("status = %v, want Error", span.Status().Code)
		}
		if attrMap(span)[AttrError].AsString() != "invalid_grant" {
			t.Error("error code attribute not recorded")
		}
	})
}

func TestAddStorageAndHTTPAttributes(t *testing.T) {
	span := recordSpan(t, func(ctx context.Context, inst *Instrumentation) {
		_, s := inst.Tracer("storage").Start(ctx, "storage.get_client")
		AddStorageAttributes(s, "get_client", "memory")
		AddHTTPAttributes(s, "POST", "/oauth/token", 200)
		s.End()
	})

	attrs := attrMap(span)
	if attrs[AttrStorageBackend].AsString() != "memory" {
		t.Errorf("%s = %q", AttrStorageBackend, attrs[AttrStorageBackend].AsString())
	}
	if attrs[AttrHTTPStatusCode].AsInt64() != 200 {
		t.Errorf("%s = %d", AttrHTTPStatusCode, attrs[AttrHTTPStatusCode].AsInt64())
	}
}

func TestNilSafeHelpers(t *testing.T) {
	// Must not panic
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil, attribute.String("k", "v"))
}

func TestStartStorageOperation(t *testing.T) {
	span := recordSpan(t, func(ctx context.Context, inst *Instrumentation) {
		_, done := inst.StartStorageOperation(ctx, "memory", "get_client")
		done(nil)
	})
	if span.Name() != "storage.get_client" {
		t.Errorf("span name = %q", span.Name())
	}
	if attrMap(span)[AttrStorageBackend].AsString() != "memory" {
		t.Error("backend attribute missing")
	}

	var nilInst *Instrumentation
	ctx, done := nilInst.StartStorageOperation(context.Background(), "memory", "x")
	if ctx == nil {
		t.Fatal("nil receiver returned nil context")
	}
	done(errors.New("ignored"))
}
