package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLLMTool_Kind(t *testing.T) {
	assert.Equal(t, "llm", NewLLMTool("key").Kind())
}

func TestLLMTool_MissingPromptErrors(t *testing.T) {
	tl := NewLLMTool("key")
	_, err := tl.Execute(context.Background(), map[string]any{}, nil)
	assert.Error(t, err)
}

func TestLLMTool_MissingAPIKeyErrors(t *testing.T) {
	tl := NewLLMTool("")
	_, err := tl.Execute(context.Background(), map[string]any{"prompt": "hi"}, nil)
	assert.Error(t, err)
}

func TestLLMTool_EmptyArgsPromptFallsBackToSpecPromptThenNeedsAPIKey(t *testing.T) {
	// neither prompt nor api_key resolution make a network call, so this
	// only exercises the fallback path: an empty args.prompt falls back to
	// spec.prompt, and resolution then stops at the missing api_key.
	tl := NewLLMTool("")
	_, err := tl.Execute(context.Background(), map[string]any{"prompt": "from spec"}, map[string]any{"prompt": ""})
	assert.Error(t, err, "falls through to missing api_key once a prompt is resolved from spec")
}
