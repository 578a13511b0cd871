package playbook

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a playbook document against its struct tags (see
// types.go) and the step-id invariants spec.md §6/§7 names as validation
// errors: unknown `next.step` targets and duplicate step ids. Grounded on
// the teacher's validator.v10 usage (seen in its REST layer), adapted away
// from that layer's gin-bound error formatting into a plain error return
// since this module's REST handlers don't use gin.
func Validate(def *Definition) error {
	if err := validate.Struct(def); err != nil {
		return fmt.Errorf("playbook: %w", err)
	}

	seen := make(map[string]bool, len(def.Workflow))
	for _, step := range def.Workflow {
		if seen[step.Step] {
			return fmt.Errorf("playbook: duplicate step id %q", step.Step)
		}
		seen[step.Step] = true
	}
	for _, step := range def.Workflow {
		for _, edge := range step.Next {
			if !seen[edge.Step] {
				return fmt.Errorf("playbook: step %q: next references unknown step %q", step.Step, edge.Step)
			}
		}
	}
	return nil
}
