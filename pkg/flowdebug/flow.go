package flowdebug

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug/condition"
)

// StepType classifies a step. The set is open: unknown types run the
// default step body and render with the default diagram shape.
type StepType string

// Known step types.
const (
	StepAction     StepType = "action"
	StepValidation StepType = "validation"
	StepDecision   StepType = "decision"
	StepProcess    StepType = "process"
	StepStart      StepType = "start"
	StepEnd        StepType = "end"
)

// Branch routes a decision step to Target when Condition holds.
type Branch struct {
	Condition string `json:"condition" yaml:"condition"`
	Target    string `json:"target" yaml:"target"`
}

// FlowStep is one unit of work in a flow.
//
// Only NextSteps[0] is followed after a non-decision step. A decision step
// follows the first branch whose condition is true, falling back to
// NextSteps[0]. A step with nowhere to go ends the flow.
type FlowStep struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Type      StepType       `json:"step_type" yaml:"step_type"`
	Inputs    map[string]any `json:"inputs" yaml:"inputs,omitempty"`
	NextSteps []string       `json:"next_steps" yaml:"next_steps,omitempty"`
	Branches  []Branch       `json:"branches,omitempty" yaml:"branches,omitempty"`
}

// BusinessFlow is a named graph of steps entered at StartStep.
type BusinessFlow struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	StartStep   string     `json:"start_step" yaml:"start_step"`
	Steps       []FlowStep `json:"steps" yaml:"steps"`
}

// Step returns the step with the given id.
func (f *BusinessFlow) Step(id string) (FlowStep, bool) {
	for _, s := range f.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return FlowStep{}, false
}

// StepIDs returns the step ids in declaration order.
func (f *BusinessFlow) StepIDs() []string {
	ids := make([]string, len(f.Steps))
	for i, s := range f.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Clone returns a deep copy of the flow.
func (f *BusinessFlow) Clone() *BusinessFlow {
	out := &BusinessFlow{
		Name:        f.Name,
		Description: f.Description,
		StartStep:   f.StartStep,
		Steps:       make([]FlowStep, len(f.Steps)),
	}
	for i, s := range f.Steps {
		out.Steps[i] = s.clone()
	}
	return out
}

func (s FlowStep) clone() FlowStep {
	c := s
	c.Inputs = copyMap(s.Inputs)
	if s.NextSteps != nil {
		c.NextSteps = append([]string(nil), s.NextSteps...)
	}
	if s.Branches != nil {
		c.Branches = append([]Branch(nil), s.Branches...)
	}
	return c
}

// Validate checks the flow's structure. Multiple problems are joined
// together and wrapped in ErrInvalidFlow.
//
// Checks:
//  1. The flow has a name and at least one step
//  2. Step ids are non-empty and unique
//  3. start_step, every next_steps entry and every branch target exist
//  4. Branches appear only on decision steps and their conditions compile
//  5. No cycle can be followed without passing a decision step
//
// Steps unreachable from start_step are not errors; see Unreachable.
func (f *BusinessFlow) Validate() error {
	return f.validate(nil)
}

// Unreachable returns the ids of steps no path from start_step reaches,
// in declaration order. All next_steps entries count, not only the first.
func (f *BusinessFlow) Unreachable() []string {
	reachable := map[string]bool{f.StartStep: true}
	queue := []string{f.StartStep}
	for len(queue) > 0 {
		current, ok := f.Step(queue[0])
		queue = queue[1:]
		if !ok {
			continue
		}
		targets := append([]string(nil), current.NextSteps...)
		for _, b := range current.Branches {
			targets = append(targets, b.Target)
		}
		for _, t := range targets {
			if !reachable[t] {
				reachable[t] = true
				queue = append(queue, t)
			}
		}
	}

	var out []string
	for _, s := range f.Steps {
		if !reachable[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}

func (f *BusinessFlow) validate(eval *condition.Evaluator) error {
	var errs []error

	if f.Name == "" {
		errs = append(errs, ErrEmptyFlowName)
	}
	if len(f.Steps) == 0 {
		errs = append(errs, ErrNoSteps)
		return wrapInvalid(f.Name, errs)
	}

	index := make(map[string]*FlowStep, len(f.Steps))
	for i := range f.Steps {
		s := &f.Steps[i]
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("%w: step at position %d", ErrEmptyStepID, i))
			continue
		}
		if _, dup := index[s.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateStep, s.ID))
			continue
		}
		index[s.ID] = s
	}

	if _, ok := index[f.StartStep]; !ok {
		errs = append(errs, fmt.Errorf("%w: %q", ErrNoStartStep, f.StartStep))
	}

	for _, s := range f.Steps {
		for _, next := range s.NextSteps {
			if _, ok := index[next]; !ok {
				errs = append(errs, fmt.Errorf("%w: step %s next_steps references %q", ErrUnknownStep, s.ID, next))
			}
		}
		if len(s.Branches) > 0 && s.Type != StepDecision {
			errs = append(errs, fmt.Errorf("%w: step %s has type %q", ErrBranchOnNonDecision, s.ID, s.Type))
		}
		for _, b := range s.Branches {
			if _, ok := index[b.Target]; !ok {
				errs = append(errs, fmt.Errorf("%w: step %s branch targets %q", ErrUnknownStep, s.ID, b.Target))
			}
			if eval == nil {
				eval = condition.New()
			}
			if err := eval.Validate(b.Condition); err != nil {
				errs = append(errs, fmt.Errorf("step %s: %w", s.ID, err))
			}
		}
	}

	if len(errs) > 0 {
		return wrapInvalid(f.Name, errs)
	}

	if cycle := findUnconditionalCycle(f, index); cycle != "" {
		return wrapInvalid(f.Name, []error{fmt.Errorf("%w: through step %s", ErrUnconditionalCycle, cycle)})
	}

	return nil
}

func wrapInvalid(name string, errs []error) error {
	return fmt.Errorf("%w %q: %w", ErrInvalidFlow, name, errors.Join(errs...))
}

// successors returns the steps execution may move to after s.
func successors(s *FlowStep) []string {
	if s.Type == StepDecision {
		out := make([]string, 0, len(s.Branches)+1)
		for _, b := range s.Branches {
			out = append(out, b.Target)
		}
		if len(s.NextSteps) > 0 {
			out = append(out, s.NextSteps[0])
		}
		return out
	}
	if len(s.NextSteps) > 0 {
		return s.NextSteps[:1]
	}
	return nil
}

// findUnconditionalCycle walks the followed edges of non-decision steps and
// returns a step on a cycle that contains no decision step, or "".
func findUnconditionalCycle(f *BusinessFlow, index map[string]*FlowStep) string {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(index))

	var visit func(id string) string
	visit = func(id string) string {
		s := index[id]
		if s == nil || s.Type == StepDecision {
			return ""
		}
		switch state[id] {
		case inProgress:
			return id
		case done:
			return ""
		}
		state[id] = inProgress
		for _, next := range successors(s) {
			if found := visit(next); found != "" {
				return found
			}
		}
		state[id] = done
		return ""
	}

	for _, s := range f.Steps {
		if found := visit(s.ID); found != "" {
			return found
		}
	}
	return ""
}
