package tool

import "context"

// PythonTool runs spec.script through the host `python3` interpreter. Like
// DuckDBTool, this is a subprocess boundary rather than an embedded
// interpreter — NoETL's worker process need not link against CPython.
type PythonTool struct{}

func NewPythonTool() *PythonTool { return &PythonTool{} }

func (t *PythonTool) Kind() string { return "python" }

func (t *PythonTool) Execute(ctx context.Context, spec, args map[string]any) (map[string]any, error) {
	script, _ := spec["script"].(string)
	if script == "" {
		return runCommand(ctx, "python3", nil, argvStrings(args))
	}
	return runCommand(ctx, "python3", []string{"-c", script}, argvStrings(args))
}
