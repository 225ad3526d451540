package flowdebug

import (
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// Status is the lifecycle state of a debug session.
type Status string

// Session statuses. A session moves created → running ⇄ paused and ends in
// completed, stopped or error.
const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// Terminal reports whether no further steps will run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusError
}

// DebugSession is the observable state of one execution attempt.
// All methods are safe for concurrent use; getters return copies.
type DebugSession struct {
	mu          sync.RWMutex
	id          string
	flowName    string
	status      Status
	currentStep string
	context     map[string]any
	breakpoints []string
	history     []ExecutionRecord
	createdAt   time.Time
	updatedAt   time.Time
}

// NewDebugSession creates a session in the created state.
func NewDebugSession(id, flowName string) *DebugSession {
	now := time.Now().UTC()
	return &DebugSession{
		id:        id,
		flowName:  flowName,
		status:    StatusCreated,
		context:   map[string]any{},
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the session id.
func (s *DebugSession) ID() string { return s.id }

// FlowName returns the name of the flow the session executes.
func (s *DebugSession) FlowName() string { return s.flowName }

// Status returns the current status.
func (s *DebugSession) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// CurrentStep returns the step that is running, paused before, or last ran.
func (s *DebugSession) CurrentStep() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentStep
}

// Context returns a deep copy of the session context.
func (s *DebugSession) Context() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.context)
}

// SetContext replaces the context used by the next execution.
func (s *DebugSession) SetContext(ctx map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = copyMap(ctx)
	if s.context == nil {
		s.context = map[string]any{}
	}
	s.touch()
}

// Breakpoints returns breakpoint step ids in the order they were added.
func (s *DebugSession) Breakpoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.breakpoints)
}

// HasBreakpoint reports whether execution pauses before stepID.
func (s *DebugSession) HasBreakpoint(stepID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.breakpoints, stepID)
}

// AddBreakpoint adds stepID. Returns false if it was already set.
func (s *DebugSession) AddBreakpoint(stepID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.breakpoints, stepID) {
		return false
	}
	s.breakpoints = append(s.breakpoints, stepID)
	s.touch()
	return true
}

// RemoveBreakpoint removes stepID. Returns false if it was not set.
func (s *DebugSession) RemoveBreakpoint(stepID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.breakpoints, stepID)
	if i < 0 {
		return false
	}
	s.breakpoints = slices.Delete(s.breakpoints, i, i+1)
	s.touch()
	return true
}

// History returns a copy of every execution record.
func (s *DebugSession) History() []ExecutionRecord {
	return s.RecentHistory(0)
}

// RecentHistory returns the last n records, or all of them when n <= 0.
func (s *DebugSession) RecentHistory(n int) []ExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && len(s.history) > n {
		start = len(s.history) - n
	}
	out := make([]ExecutionRecord, 0, len(s.history)-start)
	for _, rec := range s.history[start:] {
		rec.Inputs = copyMap(rec.Inputs)
		rec.Outputs = copyMap(rec.Outputs)
		out = append(out, rec)
	}
	return out
}

// UpdatedAt returns the time of the last state change.
func (s *DebugSession) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Inspect resolves a dotted path in the session context.
// It returns nil if any segment is missing.
func (s *DebugSession) Inspect(path string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyValue(Inspect(s.context, path))
}

// SessionSnapshot is a point-in-time copy of a session, used for the wire
// protocol and the archive.
type SessionSnapshot struct {
	ID          string            `json:"id"`
	FlowName    string            `json:"flow_name"`
	Status      Status            `json:"status"`
	CurrentStep string            `json:"current_step"`
	Context     map[string]any    `json:"context"`
	Breakpoints []string          `json:"breakpoints"`
	History     []ExecutionRecord `json:"history"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// MarshalJSON renders an empty CurrentStep as null.
func (s SessionSnapshot) MarshalJSON() ([]byte, error) {
	type plain SessionSnapshot
	out := struct {
		plain
		CurrentStep *string `json:"current_step"`
	}{plain: plain(s)}
	if s.CurrentStep != "" {
		out.CurrentStep = &s.CurrentStep
	}
	if out.Breakpoints == nil {
		out.Breakpoints = []string{}
	}
	if out.History == nil {
		out.History = []ExecutionRecord{}
	}
	return json.Marshal(out)
}

// Snapshot returns a copy of the whole session.
func (s *DebugSession) Snapshot() SessionSnapshot {
	history := s.History()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSnapshot{
		ID:          s.id,
		FlowName:    s.flowName,
		Status:      s.status,
		CurrentStep: s.currentStep,
		Context:     copyMap(s.context),
		Breakpoints: slices.Clone(s.breakpoints),
		History:     history,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
}

// MarshalJSON encodes the session snapshot.
func (s *DebugSession) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// sessionFromSnapshot rebuilds a session, e.g. from the archive.
func sessionFromSnapshot(snap SessionSnapshot) *DebugSession {
	ctx := copyMap(snap.Context)
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &DebugSession{
		id:          snap.ID,
		flowName:    snap.FlowName,
		status:      snap.Status,
		currentStep: snap.CurrentStep,
		context:     ctx,
		breakpoints: slices.Clone(snap.Breakpoints),
		history:     slices.Clone(snap.History),
		createdAt:   snap.CreatedAt,
		updatedAt:   snap.UpdatedAt,
	}
}

// State transitions used by the executor.

func (s *DebugSession) begin(initial map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = copyMap(initial)
	if s.context == nil {
		s.context = map[string]any{}
	}
	s.status = StatusRunning
	s.currentStep = ""
	s.touch()
}

func (s *DebugSession) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.touch()
}

func (s *DebugSession) moveTo(stepID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentStep = stepID
	s.status = status
	s.touch()
}

func (s *DebugSession) appendRecord(rec ExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	s.touch()
}

// merge shallow-merges outputs into the context; later keys overwrite.
func (s *DebugSession) merge(outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range outputs {
		s.context[k] = copyValue(v)
	}
	s.touch()
}

// touch must be called with mu held.
func (s *DebugSession) touch() {
	s.updatedAt = time.Now().UTC()
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
