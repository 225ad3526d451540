package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for flowdebug spans.
const TracerName = "flowdebug"

// SpanManager handles trace span lifecycle.
// Use NewSpanManager for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartSessionSpan starts a span covering one flow execution.
	StartSessionSpan(ctx context.Context, flowName, sessionID string) (context.Context, trace.Span)

	// StartStepSpan starts a child span for a single step.
	StartStepSpan(ctx context.Context, stepID, stepType string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, recording err if non-nil.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the span in ctx, if it is recording.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager using tp, or the global tracer
// provider when tp is nil.
func NewSpanManager(tp trace.TracerProvider) SpanManager {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &otelSpanManager{tracer: tp.Tracer(TracerName)}
}

func (m *otelSpanManager) StartSessionSpan(ctx context.Context, flowName, sessionID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "flowdebug.session",
		trace.WithAttributes(
			attribute.String("flow.name", flowName),
			attribute.String("session.id", sessionID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartStepSpan(ctx context.Context, stepID, stepType string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "flowdebug.step."+stepID,
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("step.type", stepType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
