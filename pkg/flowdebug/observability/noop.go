package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordStepExecution(context.Context, string, string, time.Duration, error) {}

func (NoopMetrics) RecordSessionRun(context.Context, string, string, time.Duration) {}

func (NoopMetrics) RecordSessionEvicted(context.Context, string) {}

func (NoopMetrics) RecordArchive(context.Context, int64) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartSessionSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartSessionSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartStepSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartStepSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
