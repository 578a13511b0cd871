package playbook

// DefinitionBuilder is a fluent constructor for Definition, mirroring the
// teacher's pkg/workflow.DefinitionBuilder shape.
type DefinitionBuilder struct {
	def Definition
}

// NewDefinition starts a builder for the given catalog path.
func NewDefinition(path string) *DefinitionBuilder {
	return &DefinitionBuilder{def: Definition{Path: path, Version: 1}}
}

func (b *DefinitionBuilder) Version(v int) *DefinitionBuilder {
	b.def.Version = v
	return b
}

func (b *DefinitionBuilder) Schedule(cronExpr string) *DefinitionBuilder {
	b.def.Schedule = cronExpr
	return b
}

func (b *DefinitionBuilder) Workload(w map[string]any) *DefinitionBuilder {
	b.def.Workload = w
	return b
}

func (b *DefinitionBuilder) Step(s StepDef) *DefinitionBuilder {
	b.def.Workflow = append(b.def.Workflow, s)
	return b
}

func (b *DefinitionBuilder) Build() Definition {
	return b.def
}

// StepDefBuilder builds one StepDef fluently.
type StepDefBuilder struct {
	step StepDef
}

func NewStep(id string) *StepDefBuilder {
	return &StepDefBuilder{step: StepDef{Step: id}}
}

func (b *StepDefBuilder) Desc(d string) *StepDefBuilder {
	b.step.Desc = d
	return b
}

func (b *StepDefBuilder) When(expr string) *StepDefBuilder {
	b.step.When = expr
	return b
}

func (b *StepDefBuilder) Bind(name, expr string) *StepDefBuilder {
	if b.step.Bind == nil {
		b.step.Bind = map[string]string{}
	}
	b.step.Bind[name] = expr
	return b
}

func (b *StepDefBuilder) Loop(l LoopDef) *StepDefBuilder {
	b.step.Loop = &l
	return b
}

func (b *StepDefBuilder) Tool(t ToolDef) *StepDefBuilder {
	b.step.Tool = &t
	return b
}

func (b *StepDefBuilder) Next(edges ...EdgeDef) *StepDefBuilder {
	b.step.Next = append(b.step.Next, edges...)
	return b
}

func (b *StepDefBuilder) Build() StepDef {
	return b.step
}
