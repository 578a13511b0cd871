package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/noetl/noetl/internal/catalog"
	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/template"
	"github.com/noetl/noetl/pkg/playbook"
)

// Notifier receives newly folded events for an execution, used to drive
// the SSE/websocket fan-out and monitoring observers without the scheduler
// importing those packages directly.
type Notifier interface {
	OnEvents(executionID int64, events []domain.Event)
}

// Scheduler is the orchestrator's event-folding state machine, per
// spec.md §4.1. One Scheduler instance owns a shard of executions; the
// per-execution mutex in executionState models "each shard single-owner
// per execution" from spec.md §5.
type Scheduler struct {
	mu        sync.RWMutex
	states    map[int64]*executionState
	eventLog  eventlog.EventLog
	derive    eventlog.Derive
	cq        queue.Queue
	cat       catalog.Store
	renderer  *template.Renderer
	idgen     *idGenerator
	notifiers []Notifier
}

func New(eventLog eventlog.EventLog, cq queue.Queue, cat catalog.Store, renderer *template.Renderer) *Scheduler {
	return &Scheduler{
		states:   make(map[int64]*executionState),
		eventLog: eventLog,
		derive:   eventlog.Derive{Log: eventLog},
		cq:       cq,
		cat:      cat,
		renderer: renderer,
		idgen:    newIDGenerator(),
	}
}

func (s *Scheduler) AddNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

func (s *Scheduler) notify(executionID int64, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	s.mu.RLock()
	notifiers := append([]Notifier(nil), s.notifiers...)
	s.mu.RUnlock()
	for _, n := range notifiers {
		n.OnEvents(executionID, events)
	}
}

// Start begins a new execution of the named playbook, performing the
// initial call to the entry step (spec.md §4.1 step 1: "initially start").
// The entry step is the first step declared in the playbook's workflow
// list, conventionally named "start" in authored playbooks.
func (s *Scheduler) Start(ctx context.Context, path string, version int, workload map[string]any, parent *int64, parentStep string) (int64, error) {
	def, err := s.cat.GetPlaybook(ctx, path, version)
	if err != nil {
		return 0, fmt.Errorf("scheduler: load playbook %s@%d: %w", path, version, err)
	}
	if len(def.Workflow) == 0 {
		return 0, fmt.Errorf("scheduler: playbook %s has no workflow steps", path)
	}

	execID := s.idgen.Next()
	exec := domain.NewExecution(execID, path, def.Version, parent, parentStep, workload)
	st := newExecutionState(exec, &def)

	s.mu.Lock()
	s.states[execID] = st
	s.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.persistLocked(ctx, st); err != nil {
		return 0, err
	}

	entry := def.Workflow[0].Step
	if err := s.processCallLocked(ctx, st, Call{StepID: entry}); err != nil {
		return execID, err
	}
	if err := s.maybeFinalizeLocked(ctx, st); err != nil {
		return execID, err
	}
	if err := s.persistLocked(ctx, st); err != nil {
		return execID, err
	}
	return execID, nil
}

// Cancel writes execution.cancelled and a terminal playbook.completed
// (CANCELLED), and stops further issuance, per spec.md §4.1 Cancellation
// and §5's cooperative cancellation semantics. In-flight steps are left
// open in st.open — their own CANCELLED terminal is recorded later, by
// HandleWorkerEvent (a late worker report) or HandleLeaseExpiry (the
// worker never reports back), per scenario 5.
func (s *Scheduler) Cancel(ctx context.Context, executionID int64, reason string) error {
	st, ok := s.lookup(executionID)
	if !ok {
		return fmt.Errorf("scheduler: unknown execution %d", executionID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.cancelled = true
	st.exec.Cancel(reason)

	cmds, err := s.cq.ByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("scheduler: list commands for cancel: %w", err)
	}
	for _, c := range cmds {
		if c.Status == queue.StatusPending || c.Status == queue.StatusLeased {
			_ = s.cq.Release(ctx, c.ID, "execution_cancelled")
		}
	}
	return s.persistLocked(ctx, st)
}

// HandleWorkerEvent folds one event a worker posted back (step.enter,
// step.exit/action.completed/action.error, loop.iteration) into the
// execution's projection, per spec.md §4.1 step 7 and §4.5's ingestion
// contract.
func (s *Scheduler) HandleWorkerEvent(ctx context.Context, evt domain.Event) error {
	st, ok := s.lookup(evt.ExecutionID)
	if !ok {
		return fmt.Errorf("scheduler: unknown execution %d", evt.ExecutionID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cancelled {
		switch evt.EventType {
		case domain.EventStepExit, domain.EventActionCompleted, domain.EventActionError:
			return s.cancelStepLocked(ctx, st, evt.NodeID, evt.NodeName)
		}
		return nil
	}

	switch evt.EventType {
	case domain.EventStepEnter:
		st.exec.StepEnter(evt.NodeID, evt.NodeName)
	case domain.EventStepExit, domain.EventActionCompleted, domain.EventActionError:
		if err := s.foldTerminalLocked(ctx, st, evt); err != nil {
			return err
		}
	}

	if err := s.maybeFinalizeLocked(ctx, st); err != nil {
		return err
	}
	return s.persistLocked(ctx, st)
}

// HandleLeaseExpiry folds a reclaimed-without-heartbeat lease into the
// execution, per spec.md §4.1 scenario 5: an in-flight step of a
// cancelled execution gets its own CANCELLED terminal once its lease
// expires, the same way a late worker report does. A non-cancelled
// execution's expired lease is left to the queue's ordinary retry path.
func (s *Scheduler) HandleLeaseExpiry(ctx context.Context, executionID int64, nodeID, nodeName string) error {
	st, ok := s.lookup(executionID)
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.cancelled {
		return nil
	}
	return s.cancelStepLocked(ctx, st, nodeID, nodeName)
}

// cancelStepLocked records a CANCELLED terminal for an in-flight step of
// an already-cancelled execution. Caller must hold st.mu.
func (s *Scheduler) cancelStepLocked(ctx context.Context, st *executionState, nodeID, nodeName string) error {
	delete(st.open, nodeID)
	if _, ok := st.exec.CancelStep(nodeID, nodeName); !ok {
		return nil
	}
	return s.persistLocked(ctx, st)
}

func (s *Scheduler) lookup(executionID int64) (*executionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[executionID]
	return st, ok
}

// RegisterExecution installs an already-rebuilt execution (e.g. after a
// server restart, replayed from the event log) into the scheduler's
// in-memory projection so further folds can continue.
func (s *Scheduler) RegisterExecution(execID int64, exec *domain.Execution, def *playbook.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[execID] = newExecutionState(exec, def)
}

func (s *Scheduler) persistLocked(ctx context.Context, st *executionState) error {
	uncommitted := st.exec.GetUncommittedEvents()
	if len(uncommitted) == 0 {
		return nil
	}
	persisted, err := s.eventLog.AppendBatch(ctx, uncommitted)
	if err != nil {
		return fmt.Errorf("scheduler: persist events: %w", err)
	}
	st.exec.MarkEventsAsCommitted()
	s.notify(st.exec.ID(), persisted)
	return nil
}

// maybeFinalizeLocked emits workflow.completed/playbook.completed when no
// steps remain pending or parked and no loop is unclosed, per spec.md §4.1
// step 7's "no edge match -> no successor; if no steps remain pending and
// no loop is unclosed, emit workflow.completed."
func (s *Scheduler) maybeFinalizeLocked(ctx context.Context, st *executionState) error {
	if st.exec.Status() != domain.StatusRunning && st.exec.Status() != domain.StatusInitialized {
		return nil
	}
	if len(st.open) > 0 || len(st.parked) > 0 {
		return nil
	}
	for _, frame := range st.loopFrames {
		if !frame.Done() {
			return nil
		}
	}
	if st.hadFailure {
		cause := st.failCause
		if cause == nil {
			cause = &domain.EventError{Kind: domain.ErrorKindTool, Message: "execution failed"}
		}
		st.exec.Fail(cause)
		return nil
	}
	st.exec.Complete()
	return nil
}
