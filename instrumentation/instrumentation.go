package instrumentation

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "oauth2-engine"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/giantswarm/oauth2-engine/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (e.g., "oauth2d")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used and MetricsHandler serves 404.
	Enabled bool

	// Registry receives the Prometheus collectors and is what MetricsHandler exposes.
	// If nil a private registry is created.
	Registry *prometheus.Registry

	// SpanProcessors are attached to the tracer provider, e.g. an exporter's batch processor
	// or a tracetest.SpanRecorder in tests. Without any, spans are sampled but not exported.
	SpanProcessors []sdktrace.SpanProcessor

	// Resource allows custom resource attributes
	// If nil, default resource is created with service name and version
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource
	registry *prometheus.Registry

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// Shutdown functions (registered during New() only)
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithSchemaURL(semconv.SchemaURL),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders wires a Prometheus-backed meter provider and an SDK tracer provider.
func (i *Instrumentation) initializeProviders() error {
	registry := i.config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	i.registry = registry

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(i.resource),
		sdkmetric.WithReader(exporter),
	)
	i.meterProvider = mp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(i.resource)}
	for _, sp := range i.config.SpanProcessors {
		opts = append(opts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)

	return nil
}

// Shutdown gracefully shuts down all instrumentation providers
// This should be called when the application is terminating
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope
// Scopes are layer names like "http", "server", "storage", "security"
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// MetricsHandler returns the Prometheus scrape handler.
func (i *Instrumentation) MetricsHandler() http.Handler {
	if i.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks registers callbacks for storage size gauges.
// Storage implementations call this from SetInstrumentation. Nil callbacks are skipped.
func (i *Instrumentation) RegisterStorageSizeCallbacks(
	accessTokens, refreshTokens, clients, codes StorageSizeCallback,
) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	meter := i.Meter("storage")
	m := i.metrics

	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if accessTokens != nil {
				observer.ObserveInt64(m.StorageAccessTokens, accessTokens())
			}
			if refreshTokens != nil {
				observer.ObserveInt64(m.StorageRefreshTokens, refreshTokens())
			}
			if clients != nil {
				observer.ObserveInt64(m.StorageClients, clients())
			}
			if codes != nil {
				observer.ObserveInt64(m.StorageAuthorizationCodes, codes())
			}
			return nil
		},
		m.StorageAccessTokens,
		m.StorageRefreshTokens,
		m.StorageClients,
		m.StorageAuthorizationCodes,
	)

	return err
}

// StartStorageOperation opens a span for a storage call and returns a finish function
// that ends it and records the operation metrics. Safe to call on a nil receiver.
//
//	ctx, done := s.instrumentation.StartStorageOperation(ctx, "memory", "get_client")
//	defer func() { done(err) }()
func (i *Instrumentation) StartStorageOperation(ctx context.Context, backend, operation string) (context.Context, func(error)) {
	if i == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := i.Tracer("storage").Start(ctx, "storage."+operation)
	AddStorageAttributes(span, operation, backend)

	return ctx, func(err error) {
		i.metrics.RecordStorageOperation(ctx, backend, operation, err, float64(time.Since(start).Microseconds())/1000)
		EndSpan(span, err)
	}
}
