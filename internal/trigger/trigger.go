// Package trigger implements the three ways a playbook execution can be
// started, per spec.md §6: manual (direct API call), http (webhook), and
// cron (scheduled). Grounded on the teacher's internal/trigger package
// (ManualTrigger/HTTPTrigger, builder pattern) and internal/domain/trigger.go
// (the Trigger entity), generalized from workflow-trigger association to
// "call Starter.Start with this trigger's resolved workload."
package trigger

import "context"

// Starter is the subset of scheduler.Scheduler a trigger needs: begin a
// new execution of a catalog playbook. Kept as a narrow interface so
// internal/trigger never imports internal/scheduler directly.
type Starter interface {
	Start(ctx context.Context, path string, version int, workload map[string]any, parent *int64, parentStep string) (int64, error)
}
