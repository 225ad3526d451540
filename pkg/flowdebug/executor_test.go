package flowdebug

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExecute_LinearFlow runs every step once, in order.
func TestExecute_LinearFlow(t *testing.T) {
	e := newTestExecutor(linearFlow())

	result, err := e.Execute(context.Background(), map[string]any{"user": "ann"})

	require.NoError(t, err)
	s := e.Session()
	assert.Equal(t, StatusCompleted, s.Status())
	assert.Equal(t, []string{"a", "b", "c"}, historyIDs(s))
	for _, rec := range s.History() {
		assert.True(t, rec.Success, rec.StepID)
		assert.Empty(t, rec.Error)
	}
	assert.Equal(t, "ann", result["user"])
	assert.Equal(t, true, result["validated"])
	assert.Equal(t, true, result["action_completed"])
	assert.Equal(t, "c", s.CurrentStep())
}

// TestExecute_TwoStepScenario covers A(next=[B]) and B(next=[]).
func TestExecute_TwoStepScenario(t *testing.T) {
	flow := &BusinessFlow{
		Name:      "F",
		StartStep: "A",
		Steps: []FlowStep{
			{ID: "A", Name: "A", Type: StepProcess, NextSteps: []string{"B"}},
			{ID: "B", Name: "B", Type: StepProcess},
		},
	}
	e := newTestExecutor(flow)

	result, err := e.Execute(context.Background(), map[string]any{})

	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Equal(t, StatusCompleted, e.Session().Status())
	history := e.Session().History()
	require.Len(t, history, 2)
	assert.True(t, history[0].Success)
	assert.True(t, history[1].Success)
}

// TestExecute_PlaceholderDuration checks the simulated step takes the step delay.
func TestExecute_PlaceholderDuration(t *testing.T) {
	flow := &BusinessFlow{
		Name:      "slow",
		StartStep: "only",
		Steps:     []FlowStep{{ID: "only", Type: StepAction}},
	}
	e := NewFlowExecutor(flow, NewDebugSession("s", flow.Name))

	start := time.Now()
	_, err := e.Execute(context.Background(), nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	history := e.Session().History()
	require.Len(t, history, 1)
	assert.GreaterOrEqual(t, history[0].DurationMs, 95.0)
	assert.LessOrEqual(t, history[0].DurationMs, float64(elapsed.Milliseconds())+1)
}

// TestExecute_OutputsMergeInOrder checks later outputs overwrite earlier ones.
func TestExecute_OutputsMergeInOrder(t *testing.T) {
	e := newTestExecutor(linearFlow(),
		WithStepHandler("a", func(context.Context, FlowStep, map[string]any) (map[string]any, error) {
			return map[string]any{"x": 1, "keep": "a"}, nil
		}),
		WithStepHandler("b", func(_ context.Context, _ FlowStep, state map[string]any) (map[string]any, error) {
			assert.Equal(t, 1, state["x"])
			return map[string]any{"x": 2}, nil
		}),
	)

	result, err := e.Execute(context.Background(), map[string]any{"x": 0})

	require.NoError(t, err)
	assert.Equal(t, 2, result["x"])
	assert.Equal(t, "a", result["keep"])
}

// TestExecute_HandlerResolution prefers id handlers over type handlers.
func TestExecute_HandlerResolution(t *testing.T) {
	byID := &tracker{}
	byType := &tracker{}
	e := newTestExecutor(linearFlow(),
		WithTypeHandler(StepAction, byType.handler(map[string]any{"via": "type"})),
		WithTypeHandler(StepValidation, byType.handler(nil)),
		WithStepHandler("a", byID.handler(nil)),
	)

	result, err := e.Execute(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, byID.ran())
	assert.Equal(t, []string{"b"}, byType.ran())
	assert.Equal(t, "type", result["via"])
	assert.NotContains(t, result, "validated")
}

// TestExecute_Breakpoint pauses before the step and runs it only after Resume.
func TestExecute_Breakpoint(t *testing.T) {
	tr := &tracker{}
	e := newTestExecutor(linearFlow(), WithTypeHandler(StepAction, tr.handler(nil)))
	e.Session().AddBreakpoint("b")

	done := executeAsync(e, nil)
	waitPausedAt(t, e, "b")

	assert.Equal(t, StatusPaused, e.Session().Status())
	assert.Equal(t, []string{"a"}, historyIDs(e.Session()))
	assert.Empty(t, tr.ran())

	e.Resume()
	r := waitResult(t, done)

	require.NoError(t, r.err)
	assert.Equal(t, []string{"b"}, tr.ran())
	assert.Equal(t, StatusCompleted, e.Session().Status())
}

// TestExecute_StopWhilePaused never runs the paused step.
func TestExecute_StopWhilePaused(t *testing.T) {
	e := newTestExecutor(linearFlow())
	e.Session().AddBreakpoint("b")

	done := executeAsync(e, nil)
	waitPausedAt(t, e, "b")

	e.Stop()
	e.Stop()
	r := waitResult(t, done)

	require.NoError(t, r.err)
	assert.Equal(t, StatusStopped, e.Session().Status())
	assert.Equal(t, []string{"a"}, historyIDs(e.Session()))
	assert.Equal(t, true, r.result["validated"])
}

// TestExecute_StepRunsOneStep pauses again before the following step.
func TestExecute_StepRunsOneStep(t *testing.T) {
	e := newTestExecutor(linearFlow())
	e.Session().AddBreakpoint("a")

	done := executeAsync(e, nil)
	waitPausedAt(t, e, "a")
	assert.Empty(t, e.Session().History())

	e.Step()
	waitPausedAt(t, e, "b")
	assert.Equal(t, []string{"a"}, historyIDs(e.Session()))

	e.Step()
	waitPausedAt(t, e, "c")
	assert.Equal(t, []string{"a", "b"}, historyIDs(e.Session()))

	e.Resume()
	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, []string{"a", "b", "c"}, historyIDs(e.Session()))
}

// TestExecute_StepBeforeStart pauses before the first step.
func TestExecute_StepBeforeStart(t *testing.T) {
	e := newTestExecutor(linearFlow())
	e.Step()

	done := executeAsync(e, nil)
	waitPausedAt(t, e, "a")

	e.Stop()
	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Empty(t, e.Session().History())
}

// TestExecute_PauseWhileRunning pauses at the next step boundary.
func TestExecute_PauseWhileRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	e := newTestExecutor(linearFlow(),
		WithStepHandler("a", func(context.Context, FlowStep, map[string]any) (map[string]any, error) {
			close(entered)
			<-release
			return nil, nil
		}),
	)

	done := executeAsync(e, nil)
	<-entered
	e.Pause()
	close(release)

	waitPausedAt(t, e, "b")
	assert.Equal(t, []string{"a"}, historyIDs(e.Session()))

	e.Resume()
	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, StatusCompleted, e.Session().Status())
}

// TestExecute_StopDuringStepFinishesStep lets the running body complete.
func TestExecute_StopDuringStepFinishesStep(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	e := newTestExecutor(linearFlow(),
		WithStepHandler("a", func(context.Context, FlowStep, map[string]any) (map[string]any, error) {
			close(entered)
			<-release
			return map[string]any{"a_done": true}, nil
		}),
	)

	done := executeAsync(e, nil)
	<-entered
	e.Stop()
	close(release)
	r := waitResult(t, done)

	require.NoError(t, r.err)
	assert.Equal(t, StatusStopped, e.Session().Status())
	assert.Equal(t, []string{"a"}, historyIDs(e.Session()))
	assert.Equal(t, true, r.result["a_done"])
}

// TestExecute_StepError records the failure and returns the body's error.
func TestExecute_StepError(t *testing.T) {
	boom := errors.New("boom")
	e := newTestExecutor(linearFlow(), WithStepHandler("b", failingHandler(boom)))

	_, err := e.Execute(context.Background(), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "b", stepErr.StepID)

	s := e.Session()
	assert.Equal(t, StatusError, s.Status())
	history := s.History()
	require.Len(t, history, 2)
	assert.False(t, history[1].Success)
	assert.Equal(t, "boom", history[1].Error)
	assert.Empty(t, history[1].Outputs)
}

// TestExecute_Panic converts a panic into a *PanicError.
func TestExecute_Panic(t *testing.T) {
	e := newTestExecutor(linearFlow(), WithStepHandler("a", panicHandler("kaboom")))

	_, err := e.Execute(context.Background(), nil)

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "a", panicErr.StepID)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Equal(t, StatusError, e.Session().Status())
}

// TestExecute_CallbackFailuresIgnored keeps the outcome of the run.
func TestExecute_CallbackFailuresIgnored(t *testing.T) {
	tests := []struct {
		name string
		cb   StateCallback
	}{
		{
			name: "error",
			cb: func(context.Context, string, map[string]any) error {
				return errors.New("socket closed")
			},
		},
		{
			name: "panic",
			cb: func(context.Context, string, map[string]any) error {
				panic("callback bug")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(linearFlow(), WithCallback(tt.cb))

			_, err := e.Execute(context.Background(), nil)

			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, e.Session().Status())
			assert.Len(t, e.Session().History(), 3)
		})
	}
}

// TestExecute_Events reports step progress in order.
func TestExecute_Events(t *testing.T) {
	log := &eventLog{}
	flow := linearFlow()
	flow.Steps = flow.Steps[:2]
	flow.Steps[1].NextSteps = nil
	e := newTestExecutor(flow, WithCallback(log.callback))

	_, err := e.Execute(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{
		EventStepStarted, EventStepCompleted,
		EventStepStarted, EventStepCompleted,
	}, log.names())
	assert.Equal(t, "test-session", log.data[0]["session_id"])
	assert.Equal(t, "b", log.data[1]["next_step"])
	assert.Nil(t, log.data[3]["next_step"])
}

// TestExecute_FailedEvent reports step_failed with the error message.
func TestExecute_FailedEvent(t *testing.T) {
	log := &eventLog{}
	e := newTestExecutor(linearFlow(),
		WithCallback(log.callback),
		WithStepHandler("a", failingHandler(errors.New("bad input"))),
	)

	_, err := e.Execute(context.Background(), nil)

	require.Error(t, err)
	assert.Equal(t, []string{EventStepStarted, EventStepFailed}, log.names())
	assert.Equal(t, "bad input", log.data[1]["error"])
}

// TestExecute_LateCallback can be bound and unbound between runs.
func TestExecute_LateCallback(t *testing.T) {
	log := &eventLog{}
	e := newTestExecutor(linearFlow())
	e.SetCallback(log.callback)

	_, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, log.names(), 6)

	e.SetCallback(nil)
	_, err = e.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, log.names(), 6)
}

// TestBindCallback_StaleRelease leaves a newer binding in place.
func TestBindCallback_StaleRelease(t *testing.T) {
	older, newer := &eventLog{}, &eventLog{}
	e := newTestExecutor(linearFlow())

	releaseOlder := e.BindCallback(older.callback)
	releaseNewer := e.BindCallback(newer.callback)
	releaseOlder()

	_, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, older.names())
	assert.Len(t, newer.names(), 6)

	releaseNewer()
	releaseNewer()
	_, err = e.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, newer.names(), 6)
}

// TestExecute_AlreadyRunning rejects a concurrent Execute.
func TestExecute_AlreadyRunning(t *testing.T) {
	e := newTestExecutor(linearFlow())
	e.Session().AddBreakpoint("a")

	done := executeAsync(e, nil)
	waitPausedAt(t, e, "a")

	_, err := e.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, e.IsRunning())

	e.Resume()
	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.False(t, e.IsRunning())
}

// TestExecute_NilContext fails fast.
func TestExecute_NilContext(t *testing.T) {
	e := newTestExecutor(linearFlow())

	var ctx context.Context
	_, err := e.Execute(ctx, nil)

	assert.ErrorIs(t, err, ErrNilContext)
	assert.Equal(t, StatusCreated, e.Session().Status())
}

// TestExecute_CancelWhilePaused returns a CancellationError.
func TestExecute_CancelWhilePaused(t *testing.T) {
	e := newTestExecutor(linearFlow())
	e.Session().AddBreakpoint("b")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan runResult, 1)
	go func() {
		result, err := e.Execute(ctx, nil)
		done <- runResult{result: result, err: err}
	}()
	waitPausedAt(t, e, "b")
	cancel()
	r := waitResult(t, done)

	var cancelErr *CancellationError
	require.ErrorAs(t, r.err, &cancelErr)
	assert.True(t, cancelErr.WasPaused)
	assert.Equal(t, "b", cancelErr.StepID)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Equal(t, StatusStopped, e.Session().Status())
	assert.False(t, e.IsPaused())
}

// TestExecute_CancelDuringPlaceholder ends the placeholder body early.
func TestExecute_CancelDuringPlaceholder(t *testing.T) {
	e := NewFlowExecutor(linearFlow(), NewDebugSession("s", "linear"), WithStepDelay(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, nil)

	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.False(t, cancelErr.WasPaused)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusStopped, e.Session().Status())
}

// TestExecute_DecisionBranches follows the first true condition.
func TestExecute_DecisionBranches(t *testing.T) {
	tests := []struct {
		amount int
		want   string
	}{
		{amount: 5000, want: "manual"},
		{amount: 500, want: "review"},
		{amount: 5, want: "auto"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			e := newTestExecutor(decisionFlow())

			_, err := e.Execute(context.Background(), map[string]any{"amount": tt.amount})

			require.NoError(t, err)
			assert.Equal(t, []string{"check", tt.want}, historyIDs(e.Session()))
		})
	}
}

// TestExecute_BranchError reports a condition that fails at run time.
func TestExecute_BranchError(t *testing.T) {
	flow := decisionFlow()
	flow.Steps[0].Branches = []Branch{{Condition: `amount > "x"`, Target: "manual"}}
	e := newTestExecutor(flow)

	_, err := e.Execute(context.Background(), map[string]any{"amount": 10})

	var branchErr *BranchError
	require.ErrorAs(t, err, &branchErr)
	assert.Equal(t, "check", branchErr.StepID)
	assert.Equal(t, StatusError, e.Session().Status())
}

// TestExecute_MaxSteps stops a loop that never exits.
func TestExecute_MaxSteps(t *testing.T) {
	flow := &BusinessFlow{
		Name:      "loop",
		StartStep: "work",
		Steps: []FlowStep{
			{ID: "work", Type: StepAction, NextSteps: []string{"again"}},
			{
				ID:        "again",
				Type:      StepDecision,
				Branches:  []Branch{{Condition: "true", Target: "work"}},
				NextSteps: []string{"work"},
			},
		},
	}
	e := newTestExecutor(flow, WithMaxSteps(5))

	_, err := e.Execute(context.Background(), nil)

	assert.ErrorIs(t, err, ErrMaxSteps)
	var maxErr *MaxStepsError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 5, maxErr.Max)
	assert.Len(t, e.Session().History(), 5)
}

// TestExecute_UnknownStep aborts a flow that was never validated.
func TestExecute_UnknownStep(t *testing.T) {
	flow := linearFlow()
	flow.Steps[0].NextSteps = []string{"missing"}
	e := newTestExecutor(flow)

	_, err := e.Execute(context.Background(), nil)

	assert.ErrorIs(t, err, ErrStepNotFound)
	assert.Equal(t, StatusError, e.Session().Status())
	assert.Equal(t, []string{"a"}, historyIDs(e.Session()))
}

// TestExecute_PausedEvent reports breakpoint pauses to the callback.
func TestExecute_PausedEvent(t *testing.T) {
	var e *FlowExecutor
	log := &eventLog{}
	e = newTestExecutor(linearFlow(), WithCallback(func(ctx context.Context, event string, data map[string]any) error {
		_ = log.callback(ctx, event, data)
		if event == EventPaused {
			e.Resume()
		}
		return nil
	}))
	e.Session().AddBreakpoint("c")

	_, err := e.Execute(context.Background(), nil)

	require.NoError(t, err)
	names := log.names()
	assert.Contains(t, names, EventPaused)
	for i, name := range names {
		if name == EventPaused {
			assert.Equal(t, "c", log.data[i]["step_id"])
			assert.Equal(t, true, log.data[i]["breakpoint"])
		}
	}
}
