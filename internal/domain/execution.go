package domain

import (
	"fmt"
	"sync"
	"time"
)

// Execution is the event-sourced aggregate root for one playbook run. It
// mirrors the teacher's internal/domain/execution.go shape (raiseEvent +
// applyEventInternal + RebuildFromEvents, mutex-guarded, uncommitted-event
// buffer flushed by the caller) but carries NoETL's own fields instead of
// the teacher's workflow/node ones.
type Execution struct {
	mu sync.RWMutex

	executionID      int64
	path             string
	version          int
	parentExecution  *int64
	parentStep       string
	status           Status
	startedAt        time.Time
	endedAt          *time.Time
	steps            map[string]*StepState
	context          *Context
	uncommittedEvts  []Event
	nextLocalEventID int64
}

// NewExecution starts a brand-new execution and raises playbook.initialized.
func NewExecution(executionID int64, path string, version int, parent *int64, parentStep string, workload map[string]any) *Execution {
	e := &Execution{
		executionID:     executionID,
		path:            path,
		version:         version,
		parentExecution: parent,
		parentStep:      parentStep,
		status:          StatusInitialized,
		startedAt:       time.Now(),
		steps:           make(map[string]*StepState),
		context:         NewContext(workload),
	}
	evt := NewEvent(executionID, EventPlaybookInitialized, StatusInitialized)
	evt.Meta = map[string]any{"path": path, "version": version}
	if parent != nil {
		evt.Meta["parent_execution_id"] = *parent
		evt.Meta["parent_step"] = parentStep
	}
	e.raise(evt)
	wf := NewEvent(executionID, EventWorkflowInitialized, StatusInitialized)
	e.raise(wf)
	e.status = StatusRunning
	return e
}

// RebuildExecution replays history to reconstruct an Execution, mirroring
// the teacher's RebuildFromEvents.
func RebuildExecution(executionID int64, path string, version int, events []Event) *Execution {
	e := &Execution{
		executionID: executionID,
		path:        path,
		version:     version,
		steps:       make(map[string]*StepState),
		context:     NewContext(nil),
	}
	for _, evt := range events {
		e.apply(evt)
	}
	e.uncommittedEvts = nil
	return e
}

func (e *Execution) ID() int64          { return e.executionID }
func (e *Execution) Path() string       { return e.path }
func (e *Execution) Version() int       { return e.version }
func (e *Execution) Status() Status     { return e.status }
func (e *Execution) ParentExecution() *int64 { return e.parentExecution }
func (e *Execution) Context() *Context  { return e.context }

func (e *Execution) StepState(nodeID string) *StepState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.steps[nodeID]
}

func (e *Execution) AllStepStates() map[string]*StepState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*StepState, len(e.steps))
	for k, v := range e.steps {
		out[k] = v
	}
	return out
}

// StepEnter records that a worker began executing a step instance.
func (e *Execution) StepEnter(nodeID, nodeName string) Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stepOrNew(nodeID, nodeName)
	st.Start()
	evt := NewEvent(e.executionID, EventStepEnter, StatusStarted)
	evt.NodeID, evt.NodeName = nodeID, nodeName
	e.raise(evt)
	return evt
}

// StepExit records the terminal fact for a step instance. Per spec.md §3,
// once a successful step.exit exists for a node_id, further calls for it
// are no-ops — enforced here, not merely by the scheduler.
func (e *Execution) StepExit(nodeID, nodeName string, result map[string]any, errInfo *EventError) (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stepOrNew(nodeID, nodeName)
	if st.IsTerminal() && st.status == StatusCompleted {
		return Event{}, false
	}
	status := StatusCompleted
	if errInfo != nil {
		status = StatusFailed
		st.Fail(errInfo.Message)
	} else {
		st.Complete(result)
	}
	evt := NewEvent(e.executionID, EventStepExit, status)
	evt.NodeID, evt.NodeName, evt.Result, evt.Error = nodeID, nodeName, result, errInfo
	e.raise(evt)
	return evt, true
}

// RaiseRaw appends an already-constructed event (command.issued,
// loop.iteration, loop.completed, sink.executed/failed, or a worker-posted
// step.exit/action.completed/action.error) to the aggregate, folding it
// through the same apply() switch used by replay. The scheduler uses this
// for event kinds Execution has no dedicated method for.
func (e *Execution) RaiseRaw(evt Event) Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.raise(evt)
	return evt
}

// SetVariable writes a bind result into the execution context.
func (e *Execution) SetVariable(name string, value any) error {
	if name == "step" {
		return fmt.Errorf("write to reserved context name %q rejected", "step")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.context.Set(name, value)
	return nil
}

// Cancel raises execution.cancelled and a terminal playbook.completed with
// status CANCELLED, mirroring how Fail raises the terminal verdict for a
// failure — spec.md §4.1 scenario 5 requires a playbook.completed(CANCELLED)
// event, not just the bare cancellation notice.
func (e *Execution) Cancel(reason string) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusCompleted || e.status == StatusFailed || e.status == StatusCancelled {
		return nil
	}
	e.status = StatusCancelled
	now := time.Now()
	e.endedAt = &now
	evt := NewEvent(e.executionID, EventExecutionCancelled, StatusCancelled)
	if reason != "" {
		evt.Meta = map[string]any{"reason": reason}
	}
	e.raise(evt)
	pb := NewEvent(e.executionID, EventPlaybookCompleted, StatusCancelled)
	if reason != "" {
		pb.Meta = map[string]any{"reason": reason}
	}
	e.raise(pb)
	return []Event{evt, pb}
}

// CancelStep records a CANCELLED terminal for one in-flight step — used by
// the scheduler when a worker reports back (or its lease expires) for a
// node_id after the execution has already been cancelled.
func (e *Execution) CancelStep(nodeID, nodeName string) (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stepOrNew(nodeID, nodeName)
	if st.IsTerminal() {
		return Event{}, false
	}
	st.Cancel()
	evt := NewEvent(e.executionID, EventStepExit, StatusCancelled)
	evt.NodeID, evt.NodeName = nodeID, nodeName
	e.raise(evt)
	return evt, true
}

// Complete raises workflow.completed and playbook.completed.
func (e *Execution) Complete() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusCompleted || e.status == StatusFailed || e.status == StatusCancelled {
		return nil
	}
	now := time.Now()
	e.endedAt = &now
	e.status = StatusCompleted
	wf := NewEvent(e.executionID, EventWorkflowCompleted, StatusCompleted)
	pb := NewEvent(e.executionID, EventPlaybookCompleted, StatusCompleted)
	e.raise(wf)
	e.raise(pb)
	return []Event{wf, pb}
}

// Fail raises playbook.completed with a FAILED status (the execution's
// terminal playbook.* event always carries the final verdict, per
// spec.md §4.5's "execution terminal status" derivation query).
func (e *Execution) Fail(cause *EventError) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusCompleted || e.status == StatusFailed || e.status == StatusCancelled {
		return nil
	}
	now := time.Now()
	e.endedAt = &now
	e.status = StatusFailed
	pb := NewEvent(e.executionID, EventPlaybookCompleted, StatusFailed)
	pb.Error = cause
	e.raise(pb)
	return []Event{pb}
}

func (e *Execution) stepOrNew(nodeID, nodeName string) *StepState {
	st, ok := e.steps[nodeID]
	if !ok {
		st = NewStepState(nodeID, nodeName)
		e.steps[nodeID] = st
	}
	return st
}

func (e *Execution) raise(evt Event) {
	e.apply(evt)
	e.uncommittedEvts = append(e.uncommittedEvts, evt)
}

// apply folds a single event into aggregate state without recording it as
// uncommitted — used both by raise() and by RebuildExecution's replay.
func (e *Execution) apply(evt Event) {
	switch evt.EventType {
	case EventPlaybookInitialized:
		e.status = StatusInitialized
	case EventWorkflowInitialized:
		if e.status == StatusInitialized {
			e.status = StatusRunning
		}
	case EventStepEnter:
		st := e.stepOrNew(evt.NodeID, evt.NodeName)
		if st.status != StatusStarted {
			st.Start()
		}
	case EventStepExit, EventActionCompleted, EventActionError:
		st := e.stepOrNew(evt.NodeID, evt.NodeName)
		switch {
		case evt.Status == StatusCancelled:
			if !st.IsTerminal() {
				st.Cancel()
			}
		case evt.Error != nil:
			st.Fail(evt.Error.Message)
		case !(st.IsTerminal() && st.status == StatusCompleted):
			st.Complete(evt.Result)
		}
	case EventWorkflowCompleted:
		e.status = StatusCompleted
	case EventPlaybookCompleted:
		e.status = evt.Status
		now := evt.Timestamp
		e.endedAt = &now
	case EventExecutionCancelled:
		e.status = StatusCancelled
	}
}

// GetUncommittedEvents returns events raised since the last commit, matching
// the teacher's persistence contract in engine.go's persistEvents.
func (e *Execution) GetUncommittedEvents() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Event, len(e.uncommittedEvts))
	copy(out, e.uncommittedEvts)
	return out
}

// MarkEventsAsCommitted clears the uncommitted buffer after a successful
// append to the event log.
func (e *Execution) MarkEventsAsCommitted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uncommittedEvts = e.uncommittedEvts[:0]
}
