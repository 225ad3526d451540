package flowdebug

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Flow fixtures used across tests

// linearFlow is A -> B -> C.
func linearFlow() *BusinessFlow {
	return &BusinessFlow{
		Name:        "linear",
		Description: "three steps in a row",
		StartStep:   "a",
		Steps: []FlowStep{
			{ID: "a", Name: "Step A", Type: StepValidation, NextSteps: []string{"b"}},
			{ID: "b", Name: "Step B", Type: StepAction, NextSteps: []string{"c"}},
			{ID: "c", Name: "Step C", Type: StepProcess},
		},
	}
}

// decisionFlow routes on context["amount"].
func decisionFlow() *BusinessFlow {
	return &BusinessFlow{
		Name:      "approval",
		StartStep: "check",
		Steps: []FlowStep{
			{
				ID:   "check",
				Name: "Check amount",
				Type: StepDecision,
				Branches: []Branch{
					{Condition: "amount > 1000", Target: "manual"},
					{Condition: "amount > 100", Target: "review"},
				},
				NextSteps: []string{"auto"},
			},
			{ID: "manual", Name: "Manual approval", Type: StepAction},
			{ID: "review", Name: "Review", Type: StepAction},
			{ID: "auto", Name: "Auto approve", Type: StepAction},
		},
	}
}

// Helper step bodies

// tracker records the order steps ran in.
type tracker struct {
	mu  sync.Mutex
	ids []string
}

func (tr *tracker) handler(outputs map[string]any) StepHandler {
	return func(_ context.Context, step FlowStep, _ map[string]any) (map[string]any, error) {
		tr.mu.Lock()
		tr.ids = append(tr.ids, step.ID)
		tr.mu.Unlock()
		return outputs, nil
	}
}

func (tr *tracker) ran() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.ids...)
}

func failingHandler(err error) StepHandler {
	return func(context.Context, FlowStep, map[string]any) (map[string]any, error) {
		return nil, err
	}
}

func panicHandler(value any) StepHandler {
	return func(context.Context, FlowStep, map[string]any) (map[string]any, error) {
		panic(value)
	}
}

// eventLog is a StateCallback that keeps every event.
type eventLog struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (l *eventLog) callback(_ context.Context, event string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.data = append(l.data, data)
	return nil
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// newTestExecutor builds an executor with no placeholder delay.
func newTestExecutor(flow *BusinessFlow, opts ...Option) *FlowExecutor {
	opts = append([]Option{WithStepDelay(0)}, opts...)
	return NewFlowExecutor(flow, NewDebugSession("test-session", flow.Name), opts...)
}

type runResult struct {
	result map[string]any
	err    error
}

// executeAsync runs Execute on its own goroutine.
func executeAsync(e *FlowExecutor, initial map[string]any) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		result, err := e.Execute(context.Background(), initial)
		done <- runResult{result: result, err: err}
	}()
	return done
}

func waitPausedAt(t *testing.T, e *FlowExecutor, stepID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.IsPaused() && e.Session().CurrentStep() == stepID
	}, 2*time.Second, 5*time.Millisecond, "expected pause before %s", stepID)
}

func waitResult(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not finish")
		return runResult{}
	}
}

func historyIDs(s *DebugSession) []string {
	var ids []string
	for _, rec := range s.History() {
		ids = append(ids, rec.StepID)
	}
	return ids
}
