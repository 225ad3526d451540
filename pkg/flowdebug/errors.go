package flowdebug

import (
	"errors"
	"fmt"
)

// Sentinel errors for flow registration and validation.
var (
	// ErrInvalidFlow wraps every validation failure reported by Validate.
	ErrInvalidFlow = errors.New("invalid flow")

	// ErrEmptyFlowName indicates a flow was declared without a name.
	ErrEmptyFlowName = errors.New("flow name is empty")

	// ErrNoSteps indicates a flow declares no steps.
	ErrNoSteps = errors.New("flow has no steps")

	// ErrNoStartStep indicates start_step is empty or names no step.
	ErrNoStartStep = errors.New("start step not found")

	// ErrEmptyStepID indicates a step was declared without an id.
	ErrEmptyStepID = errors.New("step id is empty")

	// ErrDuplicateStep indicates two steps share an id.
	ErrDuplicateStep = errors.New("duplicate step id")

	// ErrUnknownStep indicates next_steps or a branch names no step.
	ErrUnknownStep = errors.New("reference to unknown step")

	// ErrBranchOnNonDecision indicates branches on a step that is not a decision.
	ErrBranchOnNonDecision = errors.New("branches are only allowed on decision steps")

	// ErrUnconditionalCycle indicates a loop with no decision step to leave it.
	ErrUnconditionalCycle = errors.New("flow contains a cycle with no decision step")
)

// Sentinel errors for the debugger and executor.
var (
	// ErrFlowNotFound indicates no flow is registered under the name.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrSessionNotFound indicates no live or archived session has the id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStepNotFound indicates execution reached a step id the flow doesn't declare.
	ErrStepNotFound = errors.New("step not found")

	// ErrAlreadyRunning indicates Execute was called while an execution is in flight.
	ErrAlreadyRunning = errors.New("execution already running")

	// ErrNilContext indicates Execute was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrMaxSteps indicates an execution ran more steps than allowed.
	ErrMaxSteps = errors.New("exceeded maximum steps")

	// ErrDebuggerClosed indicates a session was requested after Close.
	ErrDebuggerClosed = errors.New("debugger closed")
)

// StepError wraps the error a step body returned.
type StepError struct {
	// StepID is the step whose body failed.
	StepID string
	// Err is the error returned by the body, or a *PanicError.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a step body.
type PanicError struct {
	StepID string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("step %s panicked: %v", e.StepID, e.Value)
}

// CancellationError reports an execution ended by its context.
type CancellationError struct {
	// StepID is the step that was about to run, or was running.
	StepID string
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
	// WasPaused is true if the context ended while waiting at a pause.
	WasPaused bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasPaused {
		return fmt.Sprintf("cancelled while paused before step %s: %v", e.StepID, e.Cause)
	}
	return fmt.Sprintf("cancelled at step %s: %v", e.StepID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// BranchError reports a decision condition that could not be evaluated.
type BranchError struct {
	StepID    string
	Condition string
	Err       error
}

// Error implements the error interface.
func (e *BranchError) Error() string {
	return fmt.Sprintf("decision %s: condition %q: %v", e.StepID, e.Condition, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BranchError) Unwrap() error {
	return e.Err
}

// MaxStepsError reports an execution that exceeded the step limit.
type MaxStepsError struct {
	Max        int
	LastStepID string
}

// Error implements the error interface.
func (e *MaxStepsError) Error() string {
	return fmt.Sprintf("exceeded maximum steps (%d) at step %s", e.Max, e.LastStepID)
}

// Unwrap returns ErrMaxSteps for errors.Is support.
func (e *MaxStepsError) Unwrap() error {
	return ErrMaxSteps
}
