// Package scheduler implements the orchestrator's event-folding state
// machine from spec.md §4.1: the step-call protocol, gating/re-evaluation,
// fan-in, loop frames, retry, and cancellation. Grounded on the teacher's
// internal/application/executor/engine.go (WorkflowEngine's 3-phase
// ExecuteWorkflow, generalized from direct in-process execution into the
// pure `fold(events) -> (new_commands, new_events)` shape spec.md §9 calls
// for), planner.go (wave/fan-out computation), and conditions.go
// (graceful missing-variable handling, generalized into parked-gate
// re-evaluation).
package scheduler

import (
	"sync"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/pkg/playbook"
)

// parkedCall is a call whose `when` gate was false at evaluation time,
// recorded so a future terminal event can trigger re-evaluation, per
// spec.md §4.1 step 3 and "Gating and re-evaluation."
type parkedCall struct {
	call Call
}

// Call is one "call" targeting a step, per spec.md §4.1's Petri-net style
// step-call protocol.
type Call struct {
	StepID   string
	Iterator map[string]any
	LoopID   string
	Index    int
}

// executionState is the scheduler's in-memory projection for one
// execution: the Execution aggregate itself, the registered playbook
// definition, parked calls indexed by the step ids their gate references,
// open loop frames, and frozen bind/tool-spec renders per node_id (so
// retries reuse the first issuance's rendered values per spec.md §9 D).
type executionState struct {
	mu         sync.Mutex
	exec       *domain.Execution
	def        *playbook.Definition
	parked     map[string][]parkedCall // referenced step id -> waiting calls
	loopFrames map[string]*domain.LoopFrame
	loopOwner  map[string]string         // loop iteration node_id -> owning loop step id
	frozenBind map[string]map[string]any // node_id -> rendered bind values
	frozenArgs map[string]map[string]any // node_id -> rendered tool args/spec
	attempts   map[string]int            // node_id -> attempt count
	open       map[string]bool           // node_id -> command issued, awaiting a terminal event
	cancelled  bool
	hadFailure bool
	failCause  *domain.EventError
}

func newExecutionState(exec *domain.Execution, def *playbook.Definition) *executionState {
	return &executionState{
		exec:       exec,
		def:        def,
		parked:     make(map[string][]parkedCall),
		loopFrames: make(map[string]*domain.LoopFrame),
		loopOwner:  make(map[string]string),
		frozenBind: make(map[string]map[string]any),
		frozenArgs: make(map[string]map[string]any),
		attempts:   make(map[string]int),
		open:       make(map[string]bool),
	}
}

// StepProjection implements template.StepLookup. Safe to call without
// holding s.mu: domain.Execution guards its own step-state map.
func (s *executionState) StepProjection(nodeID string) (domain.Projection, bool) {
	st := s.exec.StepState(nodeID)
	if st == nil {
		return domain.Projection{}, false
	}
	return st.Project(), true
}

// LoopDone implements template.StepLookup. Callers must hold s.mu — every
// call site in this package reaches LoopDone while already holding it: the
// Scheduler methods in scheduler.go take st.mu before calling any *Locked
// method.
func (s *executionState) LoopDone(loopID string) bool {
	frame, ok := s.loopFrames[loopID]
	return ok && frame.Done()
}
