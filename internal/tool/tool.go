// Package tool implements the Tool plugins a worker dispatches a claimed
// command to: http, postgres, duckdb, shell, python, playbook, llm — the
// full kind set from spec.md §6's `tool.kind` enum. Grounded on the
// teacher's internal/application/executor.NodeExecutor interface
// (node_executors.go), generalized from node-type execution to
// (spec, args) -> result tool execution.
package tool

import "context"

// Tool executes one playbook step's rendered tool invocation and returns a
// result map suitable for Event.Result, per spec.md §4.1 step 6/7.
type Tool interface {
	Kind() string
	Execute(ctx context.Context, spec, args map[string]any) (map[string]any, error)
}

// Registry resolves a tool.kind to its Tool implementation, mirroring the
// teacher's executor registry pattern (pkg/executor/registry.go).
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Kind()] = t
}

func (r *Registry) Get(kind string) (Tool, bool) {
	t, ok := r.tools[kind]
	return t, ok
}
