package tool

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPythonTool_Kind(t *testing.T) {
	assert.Equal(t, "python", NewPythonTool().Kind())
}

func TestPythonTool_RunsInlineScript(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available in this environment")
	}
	tl := NewPythonTool()
	result, err := tl.Execute(context.Background(), map[string]any{"script": "print('hi')"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", result["stdout"])
}

func TestPythonTool_PassesArgvWhenNoScript(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available in this environment")
	}
	tl := NewPythonTool()
	result, err := tl.Execute(context.Background(), map[string]any{}, map[string]any{"argv": []any{"-c", "print(42)"}})
	require.NoError(t, err)
	assert.Equal(t, "42\n", result["stdout"])
}
