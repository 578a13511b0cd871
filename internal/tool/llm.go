package tool

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// LLMTool runs a Chat Completions request, grounded on the teacher's
// OpenAICompletionExecutor (internal/application/executor/node_executors.go):
// resolve an API key, build a ChatCompletionRequest, return the first
// choice's content. NoETL generalizes this from a fixed node type into the
// `tool.kind: llm` plugin, an enrichment beyond spec.md's minimum tool set
// (see SPEC_FULL.md §C.5).
type LLMTool struct {
	DefaultAPIKey string
}

func NewLLMTool(defaultAPIKey string) *LLMTool {
	return &LLMTool{DefaultAPIKey: defaultAPIKey}
}

func (t *LLMTool) Kind() string { return "llm" }

func (t *LLMTool) Execute(ctx context.Context, spec, args map[string]any) (map[string]any, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		prompt, _ = spec["prompt"].(string)
	}
	if prompt == "" {
		return nil, fmt.Errorf("tool/llm: args.prompt or spec.prompt is required")
	}

	apiKey, _ := spec["api_key"].(string)
	if apiKey == "" {
		apiKey = t.DefaultAPIKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("tool/llm: no api_key resolved from spec or worker default")
	}

	model, _ := spec["model"].(string)
	if model == "" {
		model = openai.GPT4o
	}
	temperature, _ := spec["temperature"].(float64)

	client := openai.NewClient(apiKey)
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: float32(temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool/llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("tool/llm: empty response")
	}
	return map[string]any{
		"content":       resp.Choices[0].Message.Content,
		"model":         resp.Model,
		"finish_reason": string(resp.Choices[0].FinishReason),
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}, nil
}
