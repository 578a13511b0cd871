package template

import (
	"os"
	"time"
)

// buildEnv merges the rendering scope with the fixed helper table from
// spec.md §4.4: done/ok/fail/running/loop_done/all_done/any_done/now/uuid/
// env. Helpers close over the StepLookup the scheduler supplies so they can
// answer questions about prior steps without the renderer depending on the
// scheduler package (avoids an import cycle; grounded on the teacher's
// ConditionEvaluator environment-construction pattern in conditions.go).
func buildEnv(scope map[string]any, lookup StepLookup) map[string]any {
	env := make(map[string]any, len(scope)+16)
	for k, v := range scope {
		env[k] = v
	}

	env["done"] = func(id string) bool {
		if lookup == nil {
			return false
		}
		p, ok := lookup.StepProjection(id)
		return ok && p.Done
	}
	env["ok"] = func(id string) bool {
		if lookup == nil {
			return false
		}
		p, ok := lookup.StepProjection(id)
		return ok && p.Ok
	}
	env["fail"] = func(id string) bool {
		if lookup == nil {
			return false
		}
		p, ok := lookup.StepProjection(id)
		return ok && p.Done && !p.Ok
	}
	env["running"] = func(id string) bool {
		if lookup == nil {
			return false
		}
		p, ok := lookup.StepProjection(id)
		return ok && p.Running
	}
	env["loop_done"] = func(id string) bool {
		if lookup == nil {
			return false
		}
		return lookup.LoopDone(id)
	}
	env["all_done"] = func(ids []string) bool {
		if lookup == nil {
			return false
		}
		for _, id := range ids {
			p, ok := lookup.StepProjection(id)
			if !ok || !p.Done {
				return false
			}
		}
		return true
	}
	env["any_done"] = func(ids []string) bool {
		if lookup == nil {
			return false
		}
		for _, id := range ids {
			p, ok := lookup.StepProjection(id)
			if ok && p.Done {
				return true
			}
		}
		return false
	}
	env["now"] = func() time.Time { return time.Now() }
	env["uuid"] = func() string { return newUUID() }
	env["env"] = func(name string) string { return os.Getenv(name) }

	return env
}
