package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/pkg/playbook"
)

// processCallLocked implements spec.md §4.1's step-call protocol, steps
// 1-6. Caller must hold st.mu.
func (s *Scheduler) processCallLocked(ctx context.Context, st *executionState, call Call) error {
	stepDef, ok := st.def.StepByID(call.StepID)
	if !ok {
		return fmt.Errorf("scheduler: unknown step %q in playbook %s", call.StepID, st.def.Path)
	}

	// Step 2: a step already COMPLETED runs at most once; later calls for
	// the same node_id are silent no-ops (call idempotence, spec.md §8).
	if prior := st.exec.StepState(call.StepID); prior != nil && prior.Status() == domain.StatusCompleted && call.LoopID == "" {
		return nil
	}

	scope := s.buildScope(st, call.Iterator)

	// Step 3: evaluate `when` (default true).
	whenExpr := stepDef.When
	if whenExpr == "" {
		whenExpr = "true"
	}
	passed, err := s.evalGate(whenExpr, scope, st)
	if err != nil || !passed {
		st.park(call, whenExpr)
		return nil
	}

	// Step 4: apply bind.
	if err := s.applyBindLocked(st, stepDef, call, scope, false); err != nil {
		return err
	}
	scope = s.buildScope(st, call.Iterator) // bind may have added names referenced by loop/tool exprs

	if stepDef.Loop != nil {
		return s.openLoopLocked(ctx, st, stepDef, call, scope)
	}
	return s.issueCommandLocked(ctx, st, stepDef, call.StepID, stepDef.Step, call.Iterator, scope, 0)
}

func (s *Scheduler) buildScope(st *executionState, iterator map[string]any) map[string]any {
	scope := st.exec.Context().Snapshot(iterator)
	scope["step"] = stepStatusScope(st)
	return scope
}

func stepStatusScope(st *executionState) map[string]any {
	out := map[string]any{}
	for id, ss := range st.exec.AllStepStates() {
		p := ss.Project()
		out[id] = map[string]any{"status": map[string]any{
			"done": p.Done, "ok": p.Ok, "running": p.Running,
			"started_at": p.StartedAt, "finished_at": p.FinishedAt, "error": p.Error,
			"total": p.Total, "completed": p.Completed, "succeeded": p.Succeeded, "failed": p.Failed,
		}}
	}
	return out
}

// evalGate evaluates a `when` expression. A rendering error (e.g. a
// reference to a not-yet-available step) is returned as (false, err); the
// caller decides whether that parks the call or fails the fold.
func (s *Scheduler) evalGate(whenExpr string, scope map[string]any, lookup *executionState) (bool, error) {
	v, err := s.renderer.Render("{{ "+whenExpr+" }}", scope, lookup)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("scheduler: when expression %q did not evaluate to bool", whenExpr)
	}
	return b, nil
}

func (s *Scheduler) applyBindLocked(st *executionState, stepDef *playbook.StepDef, call Call, scope map[string]any, rebind bool) error {
	if len(stepDef.Bind) == 0 {
		return nil
	}
	frozen, hasFrozen := st.frozenBind[call.StepID]
	useFrozen := hasFrozen && !rebind
	values := make(map[string]any, len(stepDef.Bind))
	for name, expr := range stepDef.Bind {
		if name == "step" {
			return fmt.Errorf("scheduler: bind to reserved name \"step\" rejected for step %q", call.StepID)
		}
		if useFrozen {
			if v, ok := frozen[name]; ok {
				values[name] = v
				continue
			}
		}
		v, err := s.renderer.Render(expr, scope, st)
		if err != nil {
			return fmt.Errorf("scheduler: bind %q on step %q: %w", name, call.StepID, err)
		}
		values[name] = v
	}
	for name, v := range values {
		if err := st.exec.SetVariable(name, v); err != nil {
			return err
		}
	}
	st.frozenBind[call.StepID] = values
	return nil
}

// issueCommandLocked performs step 6: emit command.issued and enqueue the
// rendered tool invocation. Non-deterministic helpers (now/uuid) are
// evaluated here, at issuance time, and the rendered values are frozen
// into the command's context so retries see identical inputs, per
// spec.md §4.4's determinism note and §9's resolved bind-freeze question.
func (s *Scheduler) issueCommandLocked(ctx context.Context, st *executionState, stepDef *playbook.StepDef, nodeID, nodeName string, iterator map[string]any, scope map[string]any, delay time.Duration) error {
	st.open[nodeID] = true

	var renderedSpec, renderedArgs map[string]any
	var pool, runtime string
	var timeoutMs int
	var toolRetry *playbook.RetryDef
	if stepDef.Tool != nil {
		toolRetry = stepDef.Tool.Retry
	}
	rebind := toolRetry != nil && toolRetry.Rebind
	frozen, hasFrozen := st.frozenArgs[nodeID]
	if hasFrozen && !rebind {
		renderedSpec, _ = frozen["spec"].(map[string]any)
		renderedArgs, _ = frozen["args"].(map[string]any)
	} else if stepDef.Tool != nil {
		rv, err := s.renderer.RenderValue(map[string]any(stepDef.Tool.Spec), scope, st)
		if err != nil {
			return fmt.Errorf("scheduler: render tool.spec for %q: %w", nodeID, err)
		}
		renderedSpec, _ = rv.(map[string]any)
		av, err := s.renderer.RenderValue(map[string]any(stepDef.Tool.Args), scope, st)
		if err != nil {
			return fmt.Errorf("scheduler: render tool.args for %q: %w", nodeID, err)
		}
		renderedArgs, _ = av.(map[string]any)
		st.frozenArgs[nodeID] = map[string]any{"spec": renderedSpec, "args": renderedArgs}
		if stepDef.Tool.TimeoutMs > 0 {
			timeoutMs = stepDef.Tool.TimeoutMs
		}
	}

	kind := ""
	if stepDef.Tool != nil {
		kind = stepDef.Tool.Kind
	}

	evt := domain.NewEvent(st.exec.ID(), domain.EventCommandIssued, domain.StatusPending)
	evt.NodeID, evt.NodeName = nodeID, nodeName
	evt.Context = map[string]any{"spec": renderedSpec, "args": renderedArgs, "kind": kind}
	if iterator != nil {
		evt.Meta = map[string]any{"iterator": iterator}
	}
	st.exec.RaiseRaw(evt)

	cmd := &queue.Command{
		ExecutionID: st.exec.ID(),
		NodeID:      nodeID,
		Action:      "tool." + kind,
		Context:     map[string]any{"spec": renderedSpec, "args": renderedArgs, "kind": kind, "node_name": nodeName},
		MaxAttempts: 1,
		Pool:        pool,
		Runtime:     runtime,
		TimeoutMs:   timeoutMs,
		AvailableAt: time.Now().Add(delay),
	}
	if toolRetry != nil {
		cmd.MaxAttempts = toolRetry.MaxAttempts + 1
	}
	return s.cq.Enqueue(ctx, cmd)
}

func (s *Scheduler) newWorkerCorrelationID() string { return uuid.NewString() }
