package flowdebug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug/condition"
)

func TestValidate_ValidFlows(t *testing.T) {
	for _, f := range []*BusinessFlow{linearFlow(), decisionFlow(), UserRegistrationFlow()} {
		assert.NoError(t, f.Validate(), f.Name)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *BusinessFlow)
		want   error
	}{
		{
			name:   "empty name",
			mutate: func(f *BusinessFlow) { f.Name = "" },
			want:   ErrEmptyFlowName,
		},
		{
			name:   "no steps",
			mutate: func(f *BusinessFlow) { f.Steps = nil },
			want:   ErrNoSteps,
		},
		{
			name:   "unknown start step",
			mutate: func(f *BusinessFlow) { f.StartStep = "nope" },
			want:   ErrNoStartStep,
		},
		{
			name:   "empty step id",
			mutate: func(f *BusinessFlow) { f.Steps[2].ID = "" },
			want:   ErrEmptyStepID,
		},
		{
			name:   "duplicate step",
			mutate: func(f *BusinessFlow) { f.Steps[2].ID = "b" },
			want:   ErrDuplicateStep,
		},
		{
			name:   "dangling next step",
			mutate: func(f *BusinessFlow) { f.Steps[1].NextSteps = []string{"c", "ghost"} },
			want:   ErrUnknownStep,
		},
		{
			name: "branch on action",
			mutate: func(f *BusinessFlow) {
				f.Steps[0].Branches = []Branch{{Condition: "true", Target: "c"}}
			},
			want: ErrBranchOnNonDecision,
		},
		{
			name: "bad condition",
			mutate: func(f *BusinessFlow) {
				f.Steps[0].Type = StepDecision
				f.Steps[0].Branches = []Branch{{Condition: "a ==", Target: "c"}}
			},
			want: condition.ErrCompile,
		},
		{
			name:   "unconditional cycle",
			mutate: func(f *BusinessFlow) { f.Steps[2].NextSteps = []string{"a"} },
			want:   ErrUnconditionalCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := linearFlow()
			tt.mutate(f)

			err := f.Validate()

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidFlow)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	f := linearFlow()
	f.StartStep = "nope"
	f.Steps[1].NextSteps = []string{"ghost"}

	err := f.Validate()

	assert.ErrorIs(t, err, ErrNoStartStep)
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestValidate_CycleThroughDecisionAllowed(t *testing.T) {
	f := &BusinessFlow{
		Name:      "retry",
		StartStep: "try",
		Steps: []FlowStep{
			{ID: "try", Type: StepAction, NextSteps: []string{"check"}},
			{
				ID:        "check",
				Type:      StepDecision,
				Branches:  []Branch{{Condition: "retries < 3", Target: "try"}},
				NextSteps: []string{"done"},
			},
			{ID: "done", Type: StepEnd},
		},
	}

	assert.NoError(t, f.Validate())
}

func TestBusinessFlow_Unreachable(t *testing.T) {
	assert.Empty(t, linearFlow().Unreachable())
	assert.Empty(t, decisionFlow().Unreachable(), "branch targets and next_steps both count")

	f := linearFlow()
	f.Steps[1].NextSteps = nil
	f.Steps = append(f.Steps, FlowStep{ID: "orphan", Name: "Orphan", Type: StepAction, NextSteps: []string{"c"}})

	assert.Equal(t, []string{"c", "orphan"}, f.Unreachable())
	assert.NoError(t, f.Validate(), "unreachable steps are not a validation error")
}

func TestBusinessFlow_Step(t *testing.T) {
	f := linearFlow()

	s, ok := f.Step("b")
	require.True(t, ok)
	assert.Equal(t, "Step B", s.Name)

	_, ok = f.Step("zzz")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, f.StepIDs())
}

func TestBusinessFlow_Clone(t *testing.T) {
	f := linearFlow()
	f.Steps[0].Inputs = map[string]any{"field": "email"}

	c := f.Clone()
	c.Steps[0].NextSteps[0] = "c"
	c.Steps[0].Inputs["field"] = "name"
	c.Steps = append(c.Steps, FlowStep{ID: "d"})

	assert.Equal(t, "b", f.Steps[0].NextSteps[0])
	assert.Equal(t, "email", f.Steps[0].Inputs["field"])
	assert.Len(t, f.Steps, 3)
}
