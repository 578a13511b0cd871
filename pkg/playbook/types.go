// Package playbook defines the NoETL playbook DSL types: the authoring
// surface registered via the catalog and rendered by the template
// renderer/scheduler. It generalizes the teacher's pkg/workflow/types.go
// (NodeDef/EdgeDef/TriggerDef/Definition) to the step/edge/tool shape
// spec.md §6 requires, field for field.
package playbook

// RetryDef mirrors spec.md §4.1's retry directive.
type RetryDef struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts" validate:"min=0"`
	BackoffMs   int      `yaml:"backoff_ms" json:"backoff_ms" validate:"min=0"`
	JitterMs    int      `yaml:"jitter_ms" json:"jitter_ms" validate:"min=0"`
	On          []string `yaml:"on" json:"on"`
	Rebind      bool     `yaml:"rebind" json:"rebind"`
}

// CollectDef is the loop aggregation directive.
type CollectDef struct {
	Into string `yaml:"into" json:"into"`
}

// LoopDef mirrors spec.md §6's `loop` object.
type LoopDef struct {
	In          string      `yaml:"in" json:"in" validate:"required"`
	As          string      `yaml:"as" json:"as" validate:"required"`
	Parallelism int         `yaml:"parallelism,omitempty" json:"parallelism,omitempty"`
	Collect     *CollectDef `yaml:"collect,omitempty" json:"collect,omitempty"`
}

// ResultDef mirrors spec.md §4.6's result directives.
type ResultDef struct {
	Pick    string      `yaml:"pick,omitempty" json:"pick,omitempty"`
	As      string      `yaml:"as,omitempty" json:"as,omitempty"`
	Collect *CollectDef `yaml:"collect,omitempty" json:"collect,omitempty"`
	Sinks   []SinkDef   `yaml:"sink,omitempty" json:"sink,omitempty"`
}

// SinkDef names one post-step sink, per spec.md §4.6.
type SinkDef struct {
	Kind   string         `yaml:"kind" json:"kind" validate:"required,oneof=postgres duckdb http event"`
	Spec   map[string]any `yaml:"spec,omitempty" json:"spec,omitempty"`
	FailOk bool           `yaml:"fail_ok" json:"fail_ok"`
}

// ToolDef mirrors spec.md §6's `tool` object.
type ToolDef struct {
	Kind      string         `yaml:"kind" json:"kind" validate:"required,oneof=http postgres duckdb python shell playbook llm"`
	Spec      map[string]any `yaml:"spec" json:"spec"`
	Args      map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	Result    *ResultDef     `yaml:"result,omitempty" json:"result,omitempty"`
	Retry     *RetryDef      `yaml:"retry,omitempty" json:"retry,omitempty"`
	TimeoutMs int            `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// EdgeDef is one entry of a step's `next` list, per spec.md §6.
type EdgeDef struct {
	Step string `yaml:"step" json:"step" validate:"required"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

// StepDef is one workflow step. Field set is exhaustive and bit-exact on
// the authoring surface per spec.md §6 ("extras rejected").
type StepDef struct {
	Step string            `yaml:"step" json:"step" validate:"required"`
	Desc string            `yaml:"desc,omitempty" json:"desc,omitempty"`
	When string            `yaml:"when,omitempty" json:"when,omitempty"`
	Bind map[string]string `yaml:"bind,omitempty" json:"bind,omitempty"`
	Loop *LoopDef          `yaml:"loop,omitempty" json:"loop,omitempty"`
	Tool *ToolDef          `yaml:"tool,omitempty" json:"tool,omitempty"`
	Next []EdgeDef         `yaml:"next,omitempty" json:"next,omitempty"`
}

// ContinueOnErrorKey names the continue_on_error step key. The scheduler
// does not read it: a step failure left after retries fails the workflow
// whether or not the key is set.
const ContinueOnErrorKey = "continue_on_error"

// Definition is a full playbook document, generalizing the teacher's
// pkg/workflow.Definition (Triggers/Nodes/Edges) to the workload+workflow
// shape spec.md §6 names.
type Definition struct {
	Path     string         `yaml:"path" json:"path" validate:"required"`
	Version  int            `yaml:"version,omitempty" json:"version,omitempty"`
	Schedule string         `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Workload map[string]any `yaml:"workload,omitempty" json:"workload,omitempty"`
	Workflow []StepDef      `yaml:"workflow" json:"workflow" validate:"required,dive"`
}

// StepByID returns the step with the given id, if present.
func (d *Definition) StepByID(id string) (*StepDef, bool) {
	for i := range d.Workflow {
		if d.Workflow[i].Step == id {
			return &d.Workflow[i], true
		}
	}
	return nil, false
}
