package flowdebug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug/observability"
	"go.opentelemetry.io/otel/trace"
)

// Event names passed to a StateCallback.
const (
	EventPaused        = "paused"
	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
)

// StateCallback observes executor progress. data always carries
// "session_id" and "step_id". Errors and panics raised by the callback are
// logged and never affect the execution.
type StateCallback func(ctx context.Context, event string, data map[string]any) error

// FlowExecutor drives one DebugSession through its flow.
//
// Execute runs on the caller's goroutine. Pause, Resume, Step and Stop may
// be called from any goroutine while it runs.
type FlowExecutor struct {
	flow    *BusinessFlow
	index   map[string]FlowStep
	session *DebugSession
	opts    options
	logger  *slog.Logger

	mu             sync.Mutex
	callback       StateCallback
	callbackGen    uint64
	running        bool
	pauseRequested bool
	stepping       bool
	gate           chan struct{} // non-nil while waiting at a pause
	stopCh         chan struct{}
	stopOnce       sync.Once
	onFinish       func(*FlowExecutor)
}

// NewFlowExecutor creates an executor for session over flow.
// The flow is used as given; register it with a ServiceDebugger to have it
// validated first.
func NewFlowExecutor(flow *BusinessFlow, session *DebugSession, opts ...Option) *FlowExecutor {
	return newFlowExecutor(flow, session, buildOptions(opts))
}

func newFlowExecutor(flow *BusinessFlow, session *DebugSession, o options) *FlowExecutor {
	index := make(map[string]FlowStep, len(flow.Steps))
	for _, s := range flow.Steps {
		if _, dup := index[s.ID]; !dup {
			index[s.ID] = s
		}
	}
	return &FlowExecutor{
		flow:     flow,
		index:    index,
		session:  session,
		opts:     o,
		logger:   observability.SessionLogger(o.logger, session.ID(), flow.Name),
		callback: o.callback,
		stopCh:   make(chan struct{}),
	}
}

// Session returns the session this executor drives.
func (e *FlowExecutor) Session() *DebugSession { return e.session }

// Flow returns the flow this executor runs.
func (e *FlowExecutor) Flow() *BusinessFlow { return e.flow }

// SetCallback replaces the state change callback. Nil unbinds it.
func (e *FlowExecutor) SetCallback(cb StateCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callback = cb
	e.callbackGen++
}

// BindCallback replaces the state change callback and returns a function
// that unbinds it. The returned function is a no-op once another callback
// has been bound, so a previous owner cannot unbind its successor.
func (e *FlowExecutor) BindCallback(cb StateCallback) (release func()) {
	e.mu.Lock()
	e.callback = cb
	e.callbackGen++
	gen := e.callbackGen
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.callbackGen == gen {
			e.callback = nil
			e.callbackGen++
		}
	}
}

// Execute runs the flow from its start step with initial as the session
// context, and returns the final context.
//
// A step body error ends the run with status error and a *StepError.
// Stop ends it with status stopped and no error. Cancelling ctx ends it
// with status stopped and a *CancellationError. The returned context is
// the state at the point the run ended in every case.
func (e *FlowExecutor) Execute(ctx context.Context, initial map[string]any) (result map[string]any, runErr error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.session.begin(initial)
	start := time.Now()
	observability.LogSessionStart(e.logger, e.session.ID(), e.flow.Name)

	execCtx := ctx
	if e.opts.tracing {
		var span trace.Span
		execCtx, span = e.opts.spans.StartSessionSpan(ctx, e.flow.Name, e.session.ID())
		defer func() {
			e.opts.spans.EndSpanWithError(span, runErr)
		}()
	}

	steps, runErr := e.run(execCtx)

	elapsed := time.Since(start)
	status := e.session.Status()
	e.opts.metrics.RecordSessionRun(execCtx, e.flow.Name, string(status), elapsed)
	if runErr != nil {
		observability.LogSessionError(e.logger, e.session.ID(), runErr, e.session.CurrentStep())
	} else {
		observability.LogSessionEnd(e.logger, e.session.ID(), string(status), durationMs(elapsed), steps)
	}

	if e.onFinish != nil {
		e.onFinish(e)
	}
	return e.session.Context(), runErr
}

// IsRunning reports whether Execute is in flight.
func (e *FlowExecutor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// IsPaused reports whether the executor is waiting at a pause.
func (e *FlowExecutor) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate != nil
}

// Pause requests a pause before the next step.
func (e *FlowExecutor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseRequested = true
}

// Resume releases a pause and cancels any pending pause or single-step.
func (e *FlowExecutor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseRequested = false
	e.stepping = false
	e.release()
}

// Step runs exactly one step and pauses again before the next one.
// Called while running, it pauses before the next step.
func (e *FlowExecutor) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseRequested = false
	e.stepping = true
	e.release()
}

// Stop ends the execution at the next step boundary, or immediately if it
// is paused. A running step body is not interrupted. Stop is idempotent.
func (e *FlowExecutor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
}

// release must be called with mu held.
func (e *FlowExecutor) release() {
	if e.gate != nil {
		close(e.gate)
		e.gate = nil
	}
}

func (e *FlowExecutor) stopRequested() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

func (e *FlowExecutor) run(ctx context.Context) (int, error) {
	current := e.flow.StartStep
	steps := 0

	for current != "" {
		if e.stopRequested() {
			e.session.setStatus(StatusStopped)
			return steps, nil
		}

		if err := ctx.Err(); err != nil {
			e.session.setStatus(StatusStopped)
			return steps, &CancellationError{StepID: current, Cause: err}
		}

		step, ok := e.index[current]
		if !ok {
			e.session.setStatus(StatusError)
			return steps, fmt.Errorf("%w: %s", ErrStepNotFound, current)
		}

		if steps >= e.opts.maxSteps {
			e.session.setStatus(StatusError)
			return steps, &MaxStepsError{Max: e.opts.maxSteps, LastStepID: current}
		}

		proceed, err := e.waitIfPaused(ctx, step)
		if err != nil || !proceed {
			e.session.setStatus(StatusStopped)
			return steps, err
		}

		outputs, err := e.runStep(ctx, step)
		steps++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				e.session.setStatus(StatusStopped)
				return steps, &CancellationError{StepID: step.ID, Cause: ctxErr}
			}
			e.session.setStatus(StatusError)
			return steps, &StepError{StepID: step.ID, Err: err}
		}

		next, err := e.next(step)
		if err != nil {
			e.session.setStatus(StatusError)
			return steps, err
		}
		e.emit(ctx, EventStepCompleted, map[string]any{
			"step_id":     step.ID,
			"step_name":   step.Name,
			"success":     true,
			"outputs":     copyMap(outputs),
			"duration_ms": e.lastDuration(),
			"next_step":   nullable(next),
		})
		current = next
	}

	e.session.setStatus(StatusCompleted)
	return steps, nil
}

// waitIfPaused blocks before step when it has a breakpoint or a pause or
// single-step is pending. It returns false if the execution must end
// without running step.
func (e *FlowExecutor) waitIfPaused(ctx context.Context, step FlowStep) (bool, error) {
	breakpoint := e.session.HasBreakpoint(step.ID)

	e.mu.Lock()
	if !breakpoint && !e.pauseRequested && !e.stepping {
		e.mu.Unlock()
		return true, nil
	}
	gate := make(chan struct{})
	e.gate = gate
	e.pauseRequested = false
	e.stepping = false
	e.mu.Unlock()

	e.session.moveTo(step.ID, StatusPaused)
	observability.LogPaused(e.logger, step.ID, breakpoint)
	e.emit(ctx, EventPaused, map[string]any{
		"step_id":    step.ID,
		"step_name":  step.Name,
		"breakpoint": breakpoint,
	})

	var cancelled error
	select {
	case <-gate:
	case <-e.stopCh:
	case <-ctx.Done():
		cancelled = ctx.Err()
	}

	e.mu.Lock()
	if e.gate == gate {
		e.gate = nil
	}
	e.mu.Unlock()

	if cancelled != nil {
		return false, &CancellationError{StepID: step.ID, Cause: cancelled, WasPaused: true}
	}
	return !e.stopRequested(), nil
}

// runStep executes one step body and records the attempt.
func (e *FlowExecutor) runStep(ctx context.Context, step FlowStep) (map[string]any, error) {
	e.session.moveTo(step.ID, StatusRunning)
	observability.LogStepStart(e.logger, step.ID)
	e.emit(ctx, EventStepStarted, map[string]any{
		"step_id":   step.ID,
		"step_name": step.Name,
		"step_type": string(step.Type),
	})

	stepCtx := ctx
	var span trace.Span
	if e.opts.tracing {
		stepCtx, span = e.opts.spans.StartStepSpan(ctx, step.ID, string(step.Type))
	}

	begin := time.Now()
	outputs, err := e.invoke(stepCtx, step, e.session.Context())
	elapsed := time.Since(begin)

	e.opts.metrics.RecordStepExecution(stepCtx, e.flow.Name, step.ID, elapsed, err)
	if e.opts.tracing {
		e.opts.spans.EndSpanWithError(span, err)
	}

	rec := ExecutionRecord{
		Timestamp:  time.Now().UTC(),
		StepID:     step.ID,
		StepName:   step.Name,
		Success:    err == nil,
		DurationMs: durationMs(elapsed),
		Inputs:     copyMap(step.Inputs),
		Outputs:    map[string]any{},
	}

	if err != nil {
		rec.Error = err.Error()
		e.session.appendRecord(rec)
		observability.LogStepError(e.logger, step.ID, err)
		e.emit(ctx, EventStepFailed, map[string]any{
			"step_id":     step.ID,
			"step_name":   step.Name,
			"success":     false,
			"error":       rec.Error,
			"duration_ms": rec.DurationMs,
		})
		return nil, err
	}

	if outputs != nil {
		rec.Outputs = copyMap(outputs)
	}
	e.session.appendRecord(rec)
	e.session.merge(outputs)
	observability.LogStepComplete(e.logger, step.ID, rec.DurationMs)
	return outputs, nil
}

// invoke calls the step body, converting a panic into a *PanicError.
func (e *FlowExecutor) invoke(ctx context.Context, step FlowStep, state map[string]any) (outputs map[string]any, err error) {
	fn := e.opts.handlers.resolve(step, e.opts.stepDelay)

	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = &PanicError{
				StepID: step.ID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	return fn(ctx, step, state)
}

// next picks the step that follows step. A decision step takes the first
// branch whose condition holds against the current context.
func (e *FlowExecutor) next(step FlowStep) (string, error) {
	if step.Type == StepDecision && len(step.Branches) > 0 {
		state := e.session.Context()
		for _, b := range step.Branches {
			ok, err := e.opts.evaluator.Evaluate(b.Condition, state)
			if err != nil {
				return "", &BranchError{StepID: step.ID, Condition: b.Condition, Err: err}
			}
			if ok {
				return b.Target, nil
			}
		}
	}
	if len(step.NextSteps) > 0 {
		return step.NextSteps[0], nil
	}
	return "", nil
}

func (e *FlowExecutor) lastDuration() float64 {
	recent := e.session.RecentHistory(1)
	if len(recent) == 0 {
		return 0
	}
	return recent[0].DurationMs
}

// emit delivers an event to the callback. Callback failures are logged.
func (e *FlowExecutor) emit(ctx context.Context, event string, data map[string]any) {
	e.mu.Lock()
	cb := e.callback
	e.mu.Unlock()
	if cb == nil {
		return
	}
	data["session_id"] = e.session.ID()

	defer func() {
		if r := recover(); r != nil {
			observability.LogCallbackError(e.logger, event, fmt.Errorf("callback panicked: %v", r))
		}
	}()

	if err := cb(ctx, event, data); err != nil {
		observability.LogCallbackError(e.logger, event, err)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
