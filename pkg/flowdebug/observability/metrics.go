package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for flowdebug metrics.
const MeterName = "flowdebug"

// MetricsRecorder records flowdebug metrics.
// Use NewMetricsRecorder for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStepExecution records one step body run and whether it failed.
	RecordStepExecution(ctx context.Context, flowName, stepID string, duration time.Duration, err error)

	// RecordSessionRun records an execution reaching a terminal status.
	RecordSessionRun(ctx context.Context, flowName, status string, duration time.Duration)

	// RecordSessionEvicted records a live session dropped from the store.
	RecordSessionEvicted(ctx context.Context, reason string)

	// RecordArchive records the size of an archived session snapshot.
	RecordArchive(ctx context.Context, sizeBytes int64)
}

type otelMetrics struct {
	stepExecutions  metric.Int64Counter
	stepLatency     metric.Float64Histogram
	stepErrors      metric.Int64Counter
	sessionRuns     metric.Int64Counter
	sessionLatency  metric.Float64Histogram
	sessionsEvicted metric.Int64Counter
	archiveSize     metric.Int64Histogram
}

func newOtelMetrics(mp metric.MeterProvider) (*otelMetrics, error) {
	meter := mp.Meter(MeterName)

	stepExecutions, err := meter.Int64Counter("flowdebug.step.executions",
		metric.WithDescription("Number of step executions"),
	)
	if err != nil {
		return nil, err
	}

	stepLatency, err := meter.Float64Histogram("flowdebug.step.latency_ms",
		metric.WithDescription("Step execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stepErrors, err := meter.Int64Counter("flowdebug.step.errors",
		metric.WithDescription("Number of failed step executions"),
	)
	if err != nil {
		return nil, err
	}

	sessionRuns, err := meter.Int64Counter("flowdebug.session.runs",
		metric.WithDescription("Number of finished flow executions"),
	)
	if err != nil {
		return nil, err
	}

	sessionLatency, err := meter.Float64Histogram("flowdebug.session.latency_ms",
		metric.WithDescription("Flow execution latency in milliseconds, including time paused"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	sessionsEvicted, err := meter.Int64Counter("flowdebug.sessions.evicted",
		metric.WithDescription("Number of live sessions evicted from the session store"),
	)
	if err != nil {
		return nil, err
	}

	archiveSize, err := meter.Int64Histogram("flowdebug.archive.size_bytes",
		metric.WithDescription("Archived session snapshot size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stepExecutions:  stepExecutions,
		stepLatency:     stepLatency,
		stepErrors:      stepErrors,
		sessionRuns:     sessionRuns,
		sessionLatency:  sessionLatency,
		sessionsEvicted: sessionsEvicted,
		archiveSize:     archiveSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by mp, or by the
// global meter provider when mp is nil. If instrument creation fails it
// returns a no-op recorder.
func NewMetricsRecorder(mp metric.MeterProvider) MetricsRecorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m, err := newOtelMetrics(mp)
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordStepExecution(ctx context.Context, flowName, stepID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("flow", flowName),
		attribute.String("step_id", stepID),
	)
	m.stepExecutions.Add(ctx, 1, attrs)
	m.stepLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.stepErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordSessionRun(ctx context.Context, flowName, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("flow", flowName),
		attribute.String("status", status),
	)
	m.sessionRuns.Add(ctx, 1, attrs)
	m.sessionLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordSessionEvicted(ctx context.Context, reason string) {
	m.sessionsEvicted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *otelMetrics) RecordArchive(ctx context.Context, sizeBytes int64) {
	m.archiveSize.Record(ctx, sizeBytes)
}
