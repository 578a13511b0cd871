package scheduler

import "regexp"

var (
	singleIDHelper = regexp.MustCompile(`\b(?:done|ok|fail|running|loop_done)\(\s*['"]([^'"]+)['"]\s*\)`)
	listIDHelper   = regexp.MustCompile(`\b(?:all_done|any_done)\(\s*\[([^\]]*)\]\s*\)`)
	quotedID       = regexp.MustCompile(`['"]([^'"]+)['"]`)
)

// referencedStepIDs extracts every step id a `when` expression's gating
// helpers mention, so a parked call can be indexed for re-evaluation
// exactly as spec.md §4.1 describes: "Parked calls are indexed by the set
// of step identifiers referenced in their when expression."
func referencedStepIDs(whenExpr string) []string {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, m := range singleIDHelper.FindAllStringSubmatch(whenExpr, -1) {
		add(m[1])
	}
	for _, m := range listIDHelper.FindAllStringSubmatch(whenExpr, -1) {
		for _, q := range quotedID.FindAllStringSubmatch(m[1], -1) {
			add(q[1])
		}
	}
	return ids
}

// park records a call as pending re-evaluation, indexed by every step id
// its gate references. If the gate references no steps (a constant or
// context-only condition), it is indexed under a reserved empty-string key
// so cancellation/cleanup can still find it; it will only be re-evaluated
// when explicitly requested. Callers must hold s.mu.
func (s *executionState) park(call Call, whenExpr string) {
	ids := referencedStepIDs(whenExpr)
	if len(ids) == 0 {
		ids = []string{""}
	}
	for _, id := range ids {
		s.parked[id] = append(s.parked[id], parkedCall{call: call})
	}
}

// takeParkedFor pops every call parked against the given step id, so the
// caller can re-evaluate them. Re-parking (on a still-false gate) happens
// through a fresh park() call from the caller. Callers must hold s.mu.
func (s *executionState) takeParkedFor(stepID string) []Call {
	parked := s.parked[stepID]
	delete(s.parked, stepID)
	calls := make([]Call, len(parked))
	for i, p := range parked {
		calls[i] = p.call
	}
	return calls
}
