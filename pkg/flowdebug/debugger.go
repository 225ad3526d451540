package flowdebug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug/observability"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug/registry"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug/store"
)

// ExecutionMode selects how ExecuteWithDebug and Instrument run a flow.
type ExecutionMode string

// Execution modes.
const (
	// ModeNormal runs without pausing.
	ModeNormal ExecutionMode = "normal"
	// ModeDebug pauses before every step.
	ModeDebug ExecutionMode = "debug"
	// ModeStep pauses before the first step; each Step runs one more.
	ModeStep ExecutionMode = "step"
)

// ParseMode parses an execution mode name.
func ParseMode(s string) (ExecutionMode, error) {
	switch m := ExecutionMode(s); m {
	case ModeNormal, ModeDebug, ModeStep:
		return m, nil
	case "":
		return ModeNormal, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}

// FlowSummary is the list projection of a flow.
type FlowSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       int    `json:"steps"`
	StartStep   string `json:"start_step"`
}

// FlowDetail is a flow plus its Mermaid diagram.
type FlowDetail struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartStep   string     `json:"start_step"`
	Steps       []FlowStep `json:"steps"`
	Diagram     string     `json:"diagram"`
}

type sessionEntry struct {
	session  *DebugSession
	executor *FlowExecutor
	lastUsed atomic.Int64

	// mu orders archive writes against deletion.
	mu      sync.Mutex
	deleted bool
}

func (e *sessionEntry) touch() {
	e.lastUsed.Store(time.Now().UnixNano())
}

// ServiceDebugger holds the flows of one service and its debug sessions.
//
// Live sessions are kept in a bounded cache. A session that is evicted
// (capacity or idle TTL) has its executor stopped and its snapshot
// archived; GetSession keeps returning it from the archive.
type ServiceDebugger struct {
	serviceName string
	opts        options
	logger      *slog.Logger
	flows       *registry.Registry[string, *BusinessFlow]
	sessions    *store.Cache[*sessionEntry]
	archive     store.Archive

	mu     sync.RWMutex
	mode   ExecutionMode
	closed bool
}

// NewServiceDebugger creates a debugger for the named service.
func NewServiceDebugger(serviceName string, opts ...Option) *ServiceDebugger {
	o := buildOptions(opts)
	if o.archive == nil {
		o.archive = store.NewMemoryArchive()
	}
	d := &ServiceDebugger{
		serviceName: serviceName,
		opts:        o,
		logger:      o.logger,
		flows:       registry.New[string, *BusinessFlow](),
		archive:     o.archive,
		mode:        ModeNormal,
	}
	d.sessions = store.NewCache[*sessionEntry](o.capacity, o.ttl, d.evicted)
	return d
}

// ServiceName returns the service the debugger was created for.
func (d *ServiceDebugger) ServiceName() string { return d.serviceName }

// Archive returns the archive evicted and finished sessions are saved to.
func (d *ServiceDebugger) Archive() store.Archive { return d.archive }

// RegisterFlow validates flow and registers a copy of it, replacing any
// flow with the same name.
func (d *ServiceDebugger) RegisterFlow(flow *BusinessFlow) error {
	if flow == nil {
		return fmt.Errorf("%w: nil flow", ErrInvalidFlow)
	}
	if err := flow.validate(d.opts.evaluator); err != nil {
		return err
	}
	replaced := d.flows.Register(flow.Name, flow.Clone())
	if d.logger == nil {
		return nil
	}
	for _, id := range flow.Unreachable() {
		d.logger.Warn("step is unreachable from start",
			slog.String(observability.FlowKey, flow.Name),
			slog.String(observability.StepIDKey, id),
		)
	}
	if replaced {
		d.logger.Warn("flow replaced", slog.String(observability.FlowKey, flow.Name))
	}
	return nil
}

// UnregisterFlow removes a flow. Sessions already created for it keep
// running on their own copy.
func (d *ServiceDebugger) UnregisterFlow(name string) error {
	if !d.flows.Delete(name) {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, name)
	}
	if d.logger != nil {
		d.logger.Info("flow unregistered", slog.String(observability.FlowKey, name))
	}
	return nil
}

// Flow returns a copy of a registered flow.
func (d *ServiceDebugger) Flow(name string) (*BusinessFlow, bool) {
	f, ok := d.flows.Get(name)
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// FlowNames returns registered flow names in registration order.
func (d *ServiceDebugger) FlowNames() []string {
	return d.flows.Keys()
}

// ListFlows summarizes every registered flow in registration order.
func (d *ServiceDebugger) ListFlows() []FlowSummary {
	flows := d.flows.Values()
	out := make([]FlowSummary, 0, len(flows))
	for _, f := range flows {
		out = append(out, FlowSummary{
			Name:        f.Name,
			Description: f.Description,
			Steps:       len(f.Steps),
			StartStep:   f.StartStep,
		})
	}
	return out
}

// GetFlowDetail returns a flow with its diagram.
func (d *ServiceDebugger) GetFlowDetail(name string) (FlowDetail, error) {
	f, ok := d.flows.Get(name)
	if !ok {
		return FlowDetail{}, fmt.Errorf("%w: %s", ErrFlowNotFound, name)
	}
	c := f.Clone()
	return FlowDetail{
		Name:        c.Name,
		Description: c.Description,
		StartStep:   c.StartStep,
		Steps:       c.Steps,
		Diagram:     MermaidDiagram(c),
	}, nil
}

// CreateSession creates a session and its executor for a registered flow.
func (d *ServiceDebugger) CreateSession(flowName string) (string, error) {
	entry, err := d.newEntry(flowName)
	if err != nil {
		return "", err
	}
	return entry.session.ID(), nil
}

func (d *ServiceDebugger) newEntry(flowName string) (*sessionEntry, error) {
	if d.isClosed() {
		return nil, ErrDebuggerClosed
	}
	f, ok := d.flows.Get(flowName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, flowName)
	}

	session := NewDebugSession(uuid.NewString(), flowName)
	exec := newFlowExecutor(f, session, d.opts)
	entry := &sessionEntry{session: session, executor: exec}
	exec.onFinish = func(*FlowExecutor) { d.archiveEntry(entry) }

	entry.touch()
	d.sessions.Add(session.ID(), entry)

	// Close may have swept the cache between the check above and Add.
	if d.isClosed() {
		d.sessions.Remove(session.ID())
		return nil, ErrDebuggerClosed
	}

	if d.logger != nil {
		d.logger.Debug("session created",
			slog.String(observability.SessionIDKey, session.ID()),
			slog.String(observability.FlowKey, flowName),
		)
	}
	return entry, nil
}

// GetSession returns a live session, or a read-only copy of an archived
// one. Returns nil if neither exists.
func (d *ServiceDebugger) GetSession(id string) *DebugSession {
	if entry, ok := d.lookup(id); ok {
		return entry.session
	}
	session, err := d.loadArchived(id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			observability.LogArchiveError(d.logger, id, "load", err)
		}
		return nil
	}
	return session
}

// GetExecutor returns the executor of a live session, or nil.
func (d *ServiceDebugger) GetExecutor(id string) *FlowExecutor {
	if entry, ok := d.lookup(id); ok {
		return entry.executor
	}
	return nil
}

// BindExecutorCallback binds the state change callback of a live session
// and returns a function that unbinds it, unless another callback has
// been bound since.
func (d *ServiceDebugger) BindExecutorCallback(id string, cb StateCallback) (func(), error) {
	entry, ok := d.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return entry.executor.BindCallback(cb), nil
}

// SetExecutorCallback binds the state change callback of a live session.
func (d *ServiceDebugger) SetExecutorCallback(id string, cb StateCallback) error {
	entry, ok := d.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	entry.executor.SetCallback(cb)
	return nil
}

// ExecuteWithDebug creates a session for flowName and runs it to the end
// on the calling goroutine. In debug mode every step is a breakpoint; in
// step mode execution pauses before the first step. Use GetExecutor with
// the returned id (or the id reported to a callback) to drive it.
func (d *ServiceDebugger) ExecuteWithDebug(ctx context.Context, flowName string, initial map[string]any, mode ExecutionMode) (map[string]any, string, error) {
	entry, err := d.newEntry(flowName)
	if err != nil {
		return nil, "", err
	}
	ApplyMode(entry.executor, mode)
	result, err := entry.executor.Execute(ctx, initial)
	return result, entry.session.ID(), err
}

// StartWithDebug is ExecuteWithDebug without blocking: it returns the
// session id once the execution has been started on its own goroutine.
// done, if non-nil, receives the outcome.
func (d *ServiceDebugger) StartWithDebug(ctx context.Context, flowName string, initial map[string]any, mode ExecutionMode, done func(map[string]any, error)) (string, error) {
	entry, err := d.newEntry(flowName)
	if err != nil {
		return "", err
	}
	ApplyMode(entry.executor, mode)
	go func() {
		result, err := entry.executor.Execute(ctx, initial)
		if done != nil {
			done(result, err)
		}
	}()
	return entry.session.ID(), nil
}

// ApplyMode prepares an executor that has not started yet for mode: debug
// sets a breakpoint on every step, step pauses before the first one.
func ApplyMode(e *FlowExecutor, mode ExecutionMode) {
	switch mode {
	case ModeDebug:
		for _, id := range e.Flow().StepIDs() {
			e.Session().AddBreakpoint(id)
		}
	case ModeStep:
		e.Step()
	}
}

// Sessions returns snapshots of live sessions, least recently used first.
func (d *ServiceDebugger) Sessions() []SessionSnapshot {
	entries := d.sessions.Values()
	out := make([]SessionSnapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.session.Snapshot())
	}
	return out
}

// ActiveSessions counts live sessions that have not reached a terminal status.
func (d *ServiceDebugger) ActiveSessions() int {
	n := 0
	for _, e := range d.sessions.Values() {
		if !e.session.Status().Terminal() {
			n++
		}
	}
	return n
}

// ArchivedSessions lists archived sessions, optionally for one flow.
func (d *ServiceDebugger) ArchivedSessions(flowName string) ([]store.Info, error) {
	return d.archive.List(flowName)
}

// DeleteSession stops a session and removes it from the live cache and
// the archive.
func (d *ServiceDebugger) DeleteSession(id string) error {
	entry, live := d.sessions.Peek(id)
	if live {
		// Mark first so the unwinding executor doesn't archive it again.
		entry.mu.Lock()
		entry.deleted = true
		entry.mu.Unlock()
		entry.executor.Stop()
		d.sessions.Remove(id)
	}

	_, loadErr := d.archive.Load(id)
	archived := loadErr == nil
	if err := d.archive.Delete(id); err != nil {
		return fmt.Errorf("delete archived session %s: %w", id, err)
	}

	if !live && !archived {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Mode returns the mode used by Instrument.
func (d *ServiceDebugger) Mode() ExecutionMode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mode
}

// SetMode sets the mode used by Instrument.
func (d *ServiceDebugger) SetMode(m ExecutionMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = m
}

// Instrument runs fn directly in normal mode. In debug or step mode it runs
// flowName through ExecuteWithDebug with input as the initial context
// instead, so the call can be followed step by step.
func (d *ServiceDebugger) Instrument(ctx context.Context, flowName string, input map[string]any, fn func(context.Context, map[string]any) (map[string]any, error)) (map[string]any, error) {
	mode := d.Mode()
	if mode == ModeNormal {
		return fn(ctx, input)
	}
	result, _, err := d.ExecuteWithDebug(ctx, flowName, input, mode)
	return result, err
}

// Close stops every live session, archives it and closes the archive.
func (d *ServiceDebugger) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	for _, id := range d.sessions.Keys() {
		entry, ok := d.sessions.Peek(id)
		if !ok {
			continue
		}
		entry.mu.Lock()
		if !entry.deleted {
			d.archiveSession(entry.session)
		}
		entry.mu.Unlock()
		entry.executor.Stop()
		d.sessions.Remove(id)
	}
	return d.archive.Close()
}

func (d *ServiceDebugger) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

func (d *ServiceDebugger) lookup(id string) (*sessionEntry, bool) {
	entry, ok := d.sessions.Get(id)
	if ok {
		entry.touch()
	}
	return entry, ok
}

// evicted must not call back into the cache.
func (d *ServiceDebugger) evicted(id string, entry *sessionEntry) {
	reason := "capacity"
	if d.opts.ttl > 0 && time.Since(time.Unix(0, entry.lastUsed.Load())) >= d.opts.ttl {
		reason = "ttl"
	}
	d.archiveEntry(entry)
	entry.executor.Stop()
	d.opts.metrics.RecordSessionEvicted(context.Background(), reason)
	if d.logger != nil {
		d.logger.Info("session evicted",
			slog.String(observability.SessionIDKey, id),
			slog.String("reason", reason),
		)
	}
}

// archiveEntry saves the snapshot of entry unless it was deleted or the
// debugger is closed. Holding the read lock keeps Close from closing the
// archive under an in-flight save.
func (d *ServiceDebugger) archiveEntry(entry *sessionEntry) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.deleted {
		return
	}
	d.archiveSession(entry.session)
}

func (d *ServiceDebugger) archiveSession(s *DebugSession) {
	snap := s.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		observability.LogArchiveError(d.logger, snap.ID, "marshal", err)
		return
	}
	err = d.archive.Save(store.Record{
		SessionID: snap.ID,
		FlowName:  snap.FlowName,
		Status:    string(snap.Status),
		UpdatedAt: snap.UpdatedAt,
		Data:      data,
	})
	if err != nil {
		observability.LogArchiveError(d.logger, snap.ID, "save", err)
		return
	}
	d.opts.metrics.RecordArchive(context.Background(), int64(len(data)))
}

func (d *ServiceDebugger) loadArchived(id string) (*DebugSession, error) {
	rec, err := d.archive.Load(id)
	if err != nil {
		return nil, err
	}
	var snap SessionSnapshot
	if err := json.Unmarshal(rec.Data, &snap); err != nil {
		return nil, fmt.Errorf("decode archived session %s: %w", id, err)
	}
	return sessionFromSnapshot(snap), nil
}
