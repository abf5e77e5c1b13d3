package builtin

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/agent/ports"
)

type llmGenerate struct {
	client ports.StreamingLLMClient
}

// NewLLMGenerate creates the llm.generate tool: a side-channel completion
// for drafting text without burning an agent iteration.
func NewLLMGenerate(client ports.StreamingLLMClient) ports.ToolExecutor {
	return &llmGenerate{client: client}
}

func (t *llmGenerate) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	if t.client == nil {
		return errorResult(call.CallID, "no model client configured", "", "not_configured"), nil
	}
	prompt := call.Params.GetString("prompt", "")
	if strings.TrimSpace(prompt) == "" {
		return errorResult(call.CallID, "missing \"prompt\"", "", "validation_error"), nil
	}

	if role := call.Params.GetString("role", ""); role != "" {
		prompt = fmt.Sprintf("You are %s.\n\n%s", role, prompt)
	}

	req := ports.CompletionRequest{
		Prompt: prompt,
		Model:  call.Params.GetString("model", ""),
	}
	resp, err := t.client.CompleteStream(ctx, req, ports.CompletionStreamCallbacks{})
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("generation failed: %v", err), "retry or simplify the prompt", "provider_error"), nil
	}

	result := successResult(call.CallID, resp.Content)
	result.Metadata["model"] = t.client.Model()
	if resp.Usage.TotalTokens > 0 {
		result.Metadata["tokens"] = resp.Usage.TotalTokens
	}
	return result, nil
}

func (t *llmGenerate) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "llm.generate",
		Version:     "1.0.0",
		Description: "Generate text with the model outside the agent loop",
		Effects:     []ports.Effect{ports.EffectNet},
		Params: []ports.ParamSpec{
			{Name: "prompt", Type: "string", Description: "Generation prompt", Required: true},
			{Name: "model", Type: "string", Description: "Override the default model"},
			{Name: "role", Type: "string", Description: "Persona to adopt for the generation"},
		},
		OutputDesc: "generated text",
	}
}
