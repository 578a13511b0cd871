// Package sink implements spec.md §4.6's post-step sinks: postgres, duckdb,
// http, event — side effects of a step's result that the scheduler
// dispatches fire-and-forget (internal/scheduler's dispatchSinkLocked),
// not additional workflow edges. Mirrors internal/tool's Tool/Registry
// shape since a sink is dispatched the same way a tool is, just with a
// result value instead of rendered args as its payload.
package sink

import "context"

// Sink writes a step's result (or picked/collected value) to an external
// system. Unlike Tool, Execute returns only an error. The worker logs a sink
// error and completes the command as FAILED; it reports no sink.executed or
// sink.failed event, and a sink's outcome never folds back into workflow
// routing.
type Sink interface {
	Kind() string
	Execute(ctx context.Context, executionID int64, nodeID string, spec map[string]any, data any) error
}

// Registry resolves a sink.kind to its Sink implementation.
type Registry struct {
	sinks map[string]Sink
}

func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

func (r *Registry) Register(s Sink) {
	r.sinks[s.Kind()] = s
}

func (r *Registry) Get(kind string) (Sink, bool) {
	s, ok := r.sinks[kind]
	return s, ok
}
