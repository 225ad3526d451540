package flowdebug

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug/condition"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug/observability"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug/store"
)

const (
	defaultStepDelay       = 100 * time.Millisecond
	defaultMaxSteps        = 1000
	defaultSessionCapacity = 256
)

// options configures executors and debuggers. Executor-only and
// debugger-only options are ignored where they don't apply.
type options struct {
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	tracing   bool
	handlers  handlerSet
	stepDelay time.Duration
	maxSteps  int
	callback  StateCallback
	evaluator *condition.Evaluator

	archive  store.Archive
	capacity int
	ttl      time.Duration
}

func defaultOptions() options {
	return options{
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
		handlers:  newHandlerSet(),
		stepDelay: defaultStepDelay,
		maxSteps:  defaultMaxSteps,
		capacity:  defaultSessionCapacity,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.evaluator == nil {
		o.evaluator = condition.New()
	}
	return o
}

// Option configures a FlowExecutor or ServiceDebugger.
type Option func(*options)

// WithLogger sets the structured logger. Default: no logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpans enables tracing with the given span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(o *options) {
		if s != nil {
			o.spans = s
			o.tracing = true
		}
	}
}

// WithStepDelay sets how long the placeholder body sleeps.
// Default: 100ms. Zero disables the sleep.
func WithStepDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.stepDelay = d
		}
	}
}

// WithStepHandler binds a body to a step id. It takes precedence over
// handlers bound by type.
func WithStepHandler(stepID string, fn StepHandler) Option {
	return func(o *options) {
		o.handlers.byID[stepID] = fn
	}
}

// WithTypeHandler binds a body to every step of the given type.
func WithTypeHandler(t StepType, fn StepHandler) Option {
	return func(o *options) {
		o.handlers.byType[t] = fn
	}
}

// WithMaxSteps limits how many steps one execution may run. Default: 1000.
func WithMaxSteps(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithCallback sets the state change callback. On a ServiceDebugger it is
// the initial callback of every session, until SetExecutorCallback replaces it.
func WithCallback(cb StateCallback) Option {
	return func(o *options) {
		o.callback = cb
	}
}

// WithArchive sets where evicted and finished sessions are kept.
// Default: an in-memory archive.
func WithArchive(a store.Archive) Option {
	return func(o *options) {
		o.archive = a
	}
}

// WithSessionCapacity bounds the number of live sessions. Default: 256.
func WithSessionCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithSessionTTL expires sessions idle for longer than d. Default: never.
func WithSessionTTL(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.ttl = d
		}
	}
}
