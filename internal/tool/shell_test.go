package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellTool_CapturesStdout(t *testing.T) {
	tl := NewShellTool()
	result, err := tl.Execute(context.Background(), map[string]any{"command": "echo hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result["stdout"])
	assert.EqualValues(t, 0, result["exit_code"])
}

func TestShellTool_NonZeroExitReturnsResultAndError(t *testing.T) {
	tl := NewShellTool()
	result, err := tl.Execute(context.Background(), map[string]any{"command": "exit 7"}, nil)
	require.Error(t, err)
	assert.EqualValues(t, 7, result["exit_code"])
}

func TestShellTool_PassesArgvToCommand(t *testing.T) {
	// sh -c 'script' arg0 arg1 ...: the first positional after the script
	// becomes $0, so a single argv entry surfaces as $0, not $1.
	tl := NewShellTool()
	result, err := tl.Execute(context.Background(),
		map[string]any{"command": "echo $0"},
		map[string]any{"argv": []any{"arg-value"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "arg-value\n", result["stdout"])
}

func TestShellTool_MissingCommandErrors(t *testing.T) {
	tl := NewShellTool()
	_, err := tl.Execute(context.Background(), map[string]any{}, nil)
	assert.Error(t, err)
}
