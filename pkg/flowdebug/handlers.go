package flowdebug

import (
	"context"
	"time"
)

// StepHandler runs the body of a step. It receives a copy of the session
// context and returns outputs to merge into it.
//
// Handlers should honor ctx: Stop and cancellation only take effect at
// step boundaries unless the running body returns early.
type StepHandler func(ctx context.Context, step FlowStep, state map[string]any) (map[string]any, error)

// handlerSet resolves the body for a step: by step id, then by step type,
// then the placeholder body.
type handlerSet struct {
	byID   map[string]StepHandler
	byType map[StepType]StepHandler
}

func newHandlerSet() handlerSet {
	return handlerSet{
		byID:   make(map[string]StepHandler),
		byType: make(map[StepType]StepHandler),
	}
}

func (h handlerSet) clone() handlerSet {
	out := newHandlerSet()
	for k, v := range h.byID {
		out.byID[k] = v
	}
	for k, v := range h.byType {
		out.byType[k] = v
	}
	return out
}

func (h handlerSet) resolve(step FlowStep, delay time.Duration) StepHandler {
	if fn, ok := h.byID[step.ID]; ok {
		return fn
	}
	if fn, ok := h.byType[step.Type]; ok {
		return fn
	}
	return placeholderHandler(delay)
}

// placeholderHandler simulates work for flows without real step bodies.
func placeholderHandler(delay time.Duration) StepHandler {
	return func(ctx context.Context, step FlowStep, _ map[string]any) (map[string]any, error) {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		switch step.Type {
		case StepValidation:
			return map[string]any{"validated": true}, nil
		case StepAction:
			return map[string]any{"action_completed": true}, nil
		default:
			return map[string]any{}, nil
		}
	}
}
