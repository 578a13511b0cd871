package eventlog

import (
	"context"

	"github.com/noetl/noetl/internal/domain"
)

// Derive holds the three derivation queries spec.md §4.5 names, built on
// top of any EventLog implementation.
type Derive struct {
	Log EventLog
}

// LatestStepStatus returns the last terminal event for (execution_id,
// node_id), or false if the step has not reached a terminal state.
func (d Derive) LatestStepStatus(ctx context.Context, executionID int64, nodeID string) (domain.Event, bool, error) {
	events, err := d.Log.ForExecution(ctx, executionID)
	if err != nil {
		return domain.Event{}, false, err
	}
	var latest domain.Event
	found := false
	for _, e := range events {
		if e.NodeID != nodeID || !e.EventType.IsTerminal() {
			continue
		}
		latest = e
		found = true
	}
	return latest, found, nil
}

// LoopAggregate returns ordered action.completed events within a loop_id,
// indexed by current_index, per spec.md §4.5.
func (d Derive) LoopAggregate(ctx context.Context, executionID int64, loopID string) (map[int]domain.Event, error) {
	events, err := d.Log.ForExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	out := make(map[int]domain.Event)
	for _, e := range events {
		if e.Loop == nil || e.Loop.LoopID != loopID {
			continue
		}
		if e.EventType == domain.EventActionCompleted || e.EventType == domain.EventStepExit {
			out[e.Loop.CurrentIndex] = e
		}
	}
	return out, nil
}

// ExecutionTerminalStatus returns the last playbook.* or
// execution.cancelled event, which carries the execution's final verdict.
func (d Derive) ExecutionTerminalStatus(ctx context.Context, executionID int64) (domain.Event, bool, error) {
	events, err := d.Log.ForExecution(ctx, executionID)
	if err != nil {
		return domain.Event{}, false, err
	}
	var latest domain.Event
	found := false
	for _, e := range events {
		switch e.EventType {
		case domain.EventPlaybookInitialized, domain.EventPlaybookCompleted, domain.EventExecutionCancelled:
			latest = e
			found = true
		}
	}
	return latest, found, nil
}
