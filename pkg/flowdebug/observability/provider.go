package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ProviderConfig selects which telemetry pipelines Setup builds.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string

	// Metrics enables the Prometheus-backed meter provider.
	Metrics bool
	// Tracing enables the SDK tracer provider.
	Tracing bool
	// TraceWriter, when set, exports spans as JSON to the writer.
	TraceWriter io.Writer
	// Global installs the providers as the otel globals.
	Global bool
}

// Provider owns the SDK providers built by Setup.
type Provider struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// Setup builds the telemetry pipelines selected by cfg.
// Disabled pipelines leave the corresponding accessors returning no-ops.
func Setup(cfg ProviderConfig) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if cfg.Tracing {
		opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
		if cfg.TraceWriter != nil {
			exp, err := stdouttrace.New(stdouttrace.WithWriter(cfg.TraceWriter))
			if err != nil {
				return nil, fmt.Errorf("create stdout trace exporter: %w", err)
			}
			opts = append(opts, sdktrace.WithBatcher(exp))
		}
		p.tp = sdktrace.NewTracerProvider(opts...)
		if cfg.Global {
			otel.SetTracerProvider(p.tp)
		}
	}

	if cfg.Metrics {
		p.registry = prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(p.registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		p.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exp),
		)
		if cfg.Global {
			otel.SetMeterProvider(p.mp)
		}
	}

	return p, nil
}

// Metrics returns a recorder for the configured meter provider.
func (p *Provider) Metrics() MetricsRecorder {
	if p == nil || p.mp == nil {
		return NoopMetrics{}
	}
	return NewMetricsRecorder(p.mp)
}

// Spans returns a span manager for the configured tracer provider.
func (p *Provider) Spans() SpanManager {
	if p == nil || p.tp == nil {
		return NoopSpanManager{}
	}
	return NewSpanManager(p.tp)
}

// TracerProvider returns the SDK tracer provider, or nil when tracing is
// disabled.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp
}

// TracingEnabled reports whether Setup built a tracer provider.
func (p *Provider) TracingEnabled() bool {
	return p != nil && p.tp != nil
}

// MetricsHandler serves the Prometheus exposition of the meter provider.
// Returns nil when metrics are disabled.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil || p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
