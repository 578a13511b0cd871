package scheduler

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/pkg/playbook"
)

// foldTerminalLocked implements spec.md §4.1 step 7: folding a worker's
// step.exit / action.completed / action.error back into the execution,
// then retry, loop-aggregation, next-edge routing, and parked-call
// re-evaluation. Caller must hold st.mu.
func (s *Scheduler) foldTerminalLocked(ctx context.Context, st *executionState, evt domain.Event) error {
	nodeID := evt.NodeID
	prior := st.exec.StepState(nodeID)
	// Only a previously-COMPLETED step is a true duplicate here — mirrors
	// Execution.StepExit's own no-op condition. A prior FAILED status does
	// not short-circuit: that status belongs to an attempt the scheduler is
	// actively retrying, and its eventual success (or final failure) must
	// still be folded, routed, and finalized.
	alreadyTerminal := prior != nil && prior.Status() == domain.StatusCompleted

	// Persist the worker's own event verbatim, preserving its event_type,
	// before any routing side effects — this is what makes a duplicate
	// delivery (at-least-once, spec.md §8) a no-op past this point.
	st.exec.RaiseRaw(evt)
	if alreadyTerminal {
		return nil
	}
	delete(st.open, nodeID)

	if loopStepID, ok := st.loopOwner[nodeID]; ok {
		return s.foldLoopIterationLocked(ctx, st, loopStepID, nodeID, evt)
	}

	stepDef, ok := st.def.StepByID(nodeID)
	if !ok {
		return nil
	}
	return s.foldStepTerminalLocked(ctx, st, stepDef, nodeID, evt)
}

// foldStepTerminalLocked handles a (non-loop-iteration) step's terminal
// event: retry, result directives, next-edge routing, and fan-in
// re-evaluation of calls parked on this step id.
func (s *Scheduler) foldStepTerminalLocked(ctx context.Context, st *executionState, stepDef *playbook.StepDef, nodeID string, evt domain.Event) error {
	if evt.Error != nil {
		st.attempts[nodeID]++
		kind := string(evt.Error.Kind)
		var retry *playbook.RetryDef
		if stepDef.Tool != nil {
			retry = stepDef.Tool.Retry
		}
		if shouldRetry(retry, st.attempts[nodeID], kind) {
			scope := s.buildScope(st, nil)
			if err := s.applyBindLocked(st, stepDef, Call{StepID: nodeID}, scope, retry.Rebind); err != nil {
				return err
			}
			if retry.Rebind {
				delete(st.frozenArgs, nodeID)
			}
			delay := backoffDelay(retry, st.attempts[nodeID])
			scope = s.buildScope(st, nil)
			return s.issueCommandLocked(ctx, st, stepDef, nodeID, stepDef.Step, nil, scope, delay)
		}
	} else if err := s.applyResultDirectivesLocked(ctx, st, stepDef, nodeID, evt.Result); err != nil {
		return err
	}

	if evt.Error != nil {
		st.hadFailure = true
		st.failCause = evt.Error
	} else if _, err := s.routeNextLocked(ctx, st, stepDef, nodeID); err != nil {
		return err
	}

	s.reevaluateParkedLocked(ctx, st, nodeID)
	return nil
}

// openLoopLocked implements spec.md §4.1 step 5: expand a `loop` directive
// into one child call per element, tracked in a LoopFrame so completion
// order never matters (spec.md §3/§9).
func (s *Scheduler) openLoopLocked(ctx context.Context, st *executionState, stepDef *playbook.StepDef, call Call, scope map[string]any) error {
	loopDef := stepDef.Loop
	v, err := s.renderer.Render("{{ "+loopDef.In+" }}", scope, st)
	if err != nil {
		return fmt.Errorf("scheduler: loop.in on step %q: %w", call.StepID, err)
	}
	items, ok := toAnySlice(v)
	if !ok {
		return fmt.Errorf("scheduler: loop.in on step %q did not evaluate to a list", call.StepID)
	}

	collectInto := ""
	if loopDef.Collect != nil {
		collectInto = loopDef.Collect.Into
	}
	frame := domain.NewLoopFrame(call.StepID, stepDef.Step, collectInto, items)
	st.loopFrames[call.StepID] = frame

	if len(items) == 0 {
		return s.closeLoopLocked(ctx, st, stepDef, call.StepID, frame)
	}

	for idx, item := range items {
		childNodeID := fmt.Sprintf("%s[%d]", call.StepID, idx)
		st.loopOwner[childNodeID] = call.StepID

		iterScope := make(map[string]any, len(scope)+2)
		for k, v := range scope {
			iterScope[k] = v
		}
		iterScope[loopDef.As] = item
		iterScope["current_index"] = idx

		evt := domain.NewEvent(st.exec.ID(), domain.EventLoopIteration, domain.StatusRunning)
		evt.NodeID, evt.NodeName = childNodeID, stepDef.Step
		evt.Loop = &domain.LoopInfo{LoopID: call.StepID, CurrentIndex: idx}
		st.exec.RaiseRaw(evt)

		iterator := map[string]any{loopDef.As: item, "current_index": idx}
		if err := s.issueCommandLocked(ctx, st, stepDef, childNodeID, stepDef.Step, iterator, iterScope, 0); err != nil {
			return err
		}
	}
	return nil
}

// foldLoopIterationLocked records one iteration's terminal result into its
// LoopFrame and, once every index has reported, closes the loop.
func (s *Scheduler) foldLoopIterationLocked(ctx context.Context, st *executionState, loopStepID, childNodeID string, evt domain.Event) error {
	frame, ok := st.loopFrames[loopStepID]
	if !ok {
		return nil
	}
	idx, err := loopIndex(childNodeID)
	if err != nil {
		return err
	}
	var result any = evt.Result
	if evt.Error != nil {
		result = map[string]any{"error": evt.Error.Message, "kind": string(evt.Error.Kind)}
	}
	frame.SetResult(idx, result)

	if !frame.Done() {
		return nil
	}
	stepDef, ok := st.def.StepByID(loopStepID)
	if !ok {
		return nil
	}
	return s.closeLoopLocked(ctx, st, stepDef, loopStepID, frame)
}

// closeLoopLocked emits loop.completed, writes the collected results into
// context under collect.into (in original element order, regardless of
// completion order), folds the loop step itself as a terminated step, and
// proceeds with ordinary next-edge routing from it.
func (s *Scheduler) closeLoopLocked(ctx context.Context, st *executionState, stepDef *playbook.StepDef, loopStepID string, frame *domain.LoopFrame) error {
	ordered := frame.OrderedResults()
	if frame.CollectInto != "" {
		if err := st.exec.SetVariable(frame.CollectInto, ordered); err != nil {
			return err
		}
	}

	evt := domain.NewEvent(st.exec.ID(), domain.EventLoopCompleted, domain.StatusCompleted)
	evt.NodeID, evt.NodeName = loopStepID, stepDef.Step
	evt.Loop = &domain.LoopInfo{LoopID: loopStepID, CurrentIndex: frame.Len() - 1}
	evt.Result = map[string]any{"data": map[string]any{"count": frame.Len(), "results": ordered}}
	st.exec.RaiseRaw(evt)

	exit := domain.NewEvent(st.exec.ID(), domain.EventStepExit, domain.StatusCompleted)
	exit.NodeID, exit.NodeName = loopStepID, stepDef.Step
	exit.Result = map[string]any{"data": map[string]any{"count": frame.Len(), "results": ordered}}
	st.exec.RaiseRaw(exit)

	if err := s.applyResultDirectivesLocked(ctx, st, stepDef, loopStepID, exit.Result); err != nil {
		return err
	}
	if _, err := s.routeNextLocked(ctx, st, stepDef, loopStepID); err != nil {
		return err
	}
	s.reevaluateParkedLocked(ctx, st, loopStepID)
	return nil
}

// routeNextLocked evaluates a step's `next` edges in order. Every edge
// whose `when` is true (or omitted) is issued as an independent call —
// this supports both exclusive branching (mutually-exclusive `when`
// clauses, only one true) and fan-out (several bare edges) with the same
// rule, per spec.md §4.1 step 7. Returns whether any edge fired.
func (s *Scheduler) routeNextLocked(ctx context.Context, st *executionState, stepDef *playbook.StepDef, nodeID string) (bool, error) {
	if st.cancelled {
		return true, nil
	}
	routed := false
	scope := s.buildScope(st, nil)
	for _, edge := range stepDef.Next {
		whenExpr := edge.When
		if whenExpr == "" {
			whenExpr = "true"
		}
		ok, err := s.evalGate(whenExpr, scope, st)
		if err != nil {
			return routed, fmt.Errorf("scheduler: next edge %q->%q: %w", nodeID, edge.Step, err)
		}
		if !ok {
			continue
		}
		routed = true
		if err := s.processCallLocked(ctx, st, Call{StepID: edge.Step}); err != nil {
			return routed, err
		}
	}
	return routed, nil
}

// reevaluateParkedLocked re-processes every call parked on nodeID's gate,
// per spec.md §4.1's "Gating and re-evaluation": a terminal event for a
// step referenced by a parked when expression triggers re-evaluation.
func (s *Scheduler) reevaluateParkedLocked(ctx context.Context, st *executionState, nodeID string) {
	for _, call := range st.takeParkedFor(nodeID) {
		_ = s.processCallLocked(ctx, st, call)
	}
}

// applyResultDirectivesLocked implements spec.md §4.6: pick/as/collect and
// sink dispatch for a step's successful result.
func (s *Scheduler) applyResultDirectivesLocked(ctx context.Context, st *executionState, stepDef *playbook.StepDef, nodeID string, raw map[string]any) error {
	if stepDef.Tool == nil || stepDef.Tool.Result == nil {
		return nil
	}
	rd := stepDef.Tool.Result

	out := any(raw)
	if rd.Pick != "" {
		scope := s.buildScope(st, nil)
		scope["result"] = raw
		v, err := s.renderer.Render("{{ "+rd.Pick+" }}", scope, st)
		if err != nil {
			return fmt.Errorf("scheduler: result.pick on %q: %w", nodeID, err)
		}
		out = v
	}
	if rd.As != "" {
		if err := st.exec.SetVariable(rd.As, out); err != nil {
			return err
		}
	}
	if rd.Collect != nil && rd.Collect.Into != "" {
		existing, _ := st.exec.Context().Get(rd.Collect.Into)
		list, _ := existing.([]any)
		list = append(list, out)
		if err := st.exec.SetVariable(rd.Collect.Into, list); err != nil {
			return err
		}
	}
	for i, sink := range rd.Sinks {
		if err := s.dispatchSinkLocked(ctx, st, nodeID, i, sink, out); err != nil && !sink.FailOk {
			return fmt.Errorf("scheduler: sink %d on %q: %w", i, nodeID, err)
		}
	}
	return nil
}

// dispatchSinkLocked enqueues one post-step sink as its own queue command.
// Sinks are fire-and-forget with respect to workflow completion — spec.md
// §4.6 describes them as side effects of a step's result, not additional
// workflow edges — so they are not tracked in st.open.
func (s *Scheduler) dispatchSinkLocked(ctx context.Context, st *executionState, nodeID string, index int, sink playbook.SinkDef, data any) error {
	scope := s.buildScope(st, nil)
	renderedSpec, err := s.renderer.RenderValue(sink.Spec, scope, st)
	if err != nil {
		return err
	}
	spec, _ := renderedSpec.(map[string]any)
	cmd := &queue.Command{
		ExecutionID: st.exec.ID(),
		NodeID:      fmt.Sprintf("%s/sink/%d", nodeID, index),
		Action:      "sink." + sink.Kind,
		Context:     map[string]any{"spec": spec, "data": data, "kind": sink.Kind},
		MaxAttempts: 1,
	}
	return s.cq.Enqueue(ctx, cmd)
}

func loopIndex(childNodeID string) (int, error) {
	i := strings.LastIndex(childNodeID, "[")
	if i < 0 || !strings.HasSuffix(childNodeID, "]") {
		return 0, fmt.Errorf("scheduler: malformed loop child node id %q", childNodeID)
	}
	return strconv.Atoi(childNodeID[i+1 : len(childNodeID)-1])
}

// toAnySlice normalizes a rendered loop.in value (expr-lang may hand back
// []any, []string, []map[string]any, etc.) into a uniform []any.
func toAnySlice(v any) ([]any, bool) {
	if v == nil {
		return nil, true
	}
	if out, ok := v.([]any); ok {
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
