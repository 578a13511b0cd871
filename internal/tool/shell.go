package tool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// ShellTool runs spec.command (with args.argv appended) through the host
// shell, capturing stdout/stderr/exit_code. There is no teacher grounding
// for shell execution; this is a small, direct os/exec use, the same
// standard-library surface the duckdb and python tools below shell out
// through.
type ShellTool struct{}

func NewShellTool() *ShellTool { return &ShellTool{} }

func (t *ShellTool) Kind() string { return "shell" }

func (t *ShellTool) Execute(ctx context.Context, spec, args map[string]any) (map[string]any, error) {
	command, _ := spec["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("tool/shell: spec.command is required")
	}
	return runCommand(ctx, "sh", []string{"-c", command}, argvStrings(args))
}

func argvStrings(args map[string]any) []string {
	raw, _ := args["argv"].([]any)
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func runCommand(ctx context.Context, name string, baseArgs, extra []string) (map[string]any, error) {
	cmd := exec.CommandContext(ctx, name, append(baseArgs, extra...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	result := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}
	if err != nil {
		return result, fmt.Errorf("tool: %s: %w", name, err)
	}
	return result, nil
}
