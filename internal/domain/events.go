// Package domain holds the event-sourced core of NoETL: the Execution
// aggregate, step-instance state, the execution context, and the fixed
// event vocabulary the scheduler folds.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType is the fixed vocabulary a NoETL event log may contain. The
// scheduler's fold contract depends on this set never growing silently;
// any new kind must be added here and reflected in the derivation queries.
type EventType string

const (
	EventPlaybookInitialized EventType = "playbook.initialized"
	EventPlaybookCompleted   EventType = "playbook.completed"
	EventWorkflowInitialized EventType = "workflow.initialized"
	EventWorkflowCompleted   EventType = "workflow.completed"
	EventCommandIssued       EventType = "command.issued"
	EventCommandClaimed      EventType = "command.claimed"
	EventCommandCompleted    EventType = "command.completed"
	EventCommandFailed       EventType = "command.failed"
	EventStepEnter           EventType = "step.enter"
	EventStepExit            EventType = "step.exit"
	EventActionCompleted     EventType = "action.completed"
	EventActionError         EventType = "action.error"
	EventLoopIteration       EventType = "loop.iteration"
	EventLoopCompleted       EventType = "loop.completed"
	EventSinkExecuted        EventType = "sink.executed"
	EventSinkFailed          EventType = "sink.failed"
	EventExecutionCancelled  EventType = "execution.cancelled"
)

// IsTerminal reports whether this event type represents a terminal fact for
// the step instance it names (used by the "at-most-one success" invariant
// and by the derivation queries in internal/eventlog).
func (t EventType) IsTerminal() bool {
	switch t {
	case EventStepExit, EventActionCompleted, EventActionError, EventCommandFailed, EventExecutionCancelled:
		return true
	default:
		return false
	}
}

// Status is the lifecycle status attached to an event or projected step.
type Status string

const (
	StatusInitialized Status = "INITIALIZED"
	StatusPending     Status = "PENDING"
	StatusRunning     Status = "RUNNING"
	StatusStarted     Status = "STARTED"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
)

// ErrorKind is the taxonomy from spec.md §7 — a classification, not a Go
// error type; it travels inside Event.Error.Kind.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindTemplate   ErrorKind = "template"
	ErrorKindTool       ErrorKind = "tool"
	ErrorKindTransport  ErrorKind = "transport"
	ErrorKindLeaseLost  ErrorKind = "lease_lost"
	ErrorKindCancelled  ErrorKind = "cancelled"
)

// EventError carries a classified failure onto an event.
type EventError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
}

// LoopInfo is attached to loop.iteration / loop.completed events.
type LoopInfo struct {
	LoopID       string `json:"loop_id"`
	CurrentIndex int    `json:"current_index"`
}

// Event is one append-only fact about an execution. event_id is assigned by
// the event log (monotonically increasing, time-sortable) — it is not set
// by the domain layer, matching spec.md §4.5's "server stamps if missing."
type Event struct {
	EventID        int64                  `json:"event_id"`
	ExecutionID    int64                  `json:"execution_id"`
	ParentEventID  *int64                 `json:"parent_event_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	EventType      EventType              `json:"event_type"`
	NodeID         string                 `json:"node_id,omitempty"`
	NodeName       string                 `json:"node_name,omitempty"`
	Status         Status                 `json:"status"`
	Context        map[string]any         `json:"context,omitempty"`
	Result         map[string]any         `json:"result,omitempty"`
	Meta           map[string]any         `json:"meta,omitempty"`
	Error          *EventError            `json:"error,omitempty"`
	Loop           *LoopInfo              `json:"loop,omitempty"`
	Attempt        int                    `json:"attempt,omitempty"`
	idempotencyKey string
}

// IdempotencyKey returns the (execution_id, node_id, event_type, attempt)
// tuple the event log uses to detect duplicate ingestion, per spec.md §4.5.
func (e Event) IdempotencyKey() string {
	if e.idempotencyKey != "" {
		return e.idempotencyKey
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(idemSeed(e))).String()
}

func idemSeed(e Event) string {
	b, _ := json.Marshal(struct {
		E int64
		N string
		T EventType
		A int
	}{e.ExecutionID, e.NodeID, e.EventType, e.Attempt})
	return string(b)
}

// NewEvent constructs an event with the timestamp defaulted to now, matching
// the teacher's factory-function pattern in internal/domain/events.go
// (NewEvent / ReconstructEvent) but against the rewritten vocabulary above.
func NewEvent(executionID int64, eventType EventType, status Status) Event {
	return Event{
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		EventType:   eventType,
		Status:      status,
	}
}
