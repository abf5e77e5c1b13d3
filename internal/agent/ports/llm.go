package ports

import "context"

// CompletionRequest carries one assembled prompt to the provider.
type CompletionRequest struct {
	Prompt      string         `json:"prompt"`
	Model       string         `json:"model,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CompletionResponse is the provider's full answer after streaming finishes.
type CompletionResponse struct {
	Content    string     `json:"content"`
	Thinking   string     `json:"thinking,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionStreamCallbacks captures optional hooks invoked while streaming.
// The provider delivers reasoning on the thoughts channel and the structured
// response on the answer channel, in order. Nil functions are ignored.
type CompletionStreamCallbacks struct {
	OnThoughtDelta func(delta string)
	OnAnswerDelta  func(delta string)
}

// StreamingLLMClient abstracts a provider adapter with streamed output.
type StreamingLLMClient interface {
	// CompleteStream runs one completion, invoking callbacks for each chunk
	// in arrival order, and returns the concatenated response.
	CompleteStream(ctx context.Context, req CompletionRequest, callbacks CompletionStreamCallbacks) (*CompletionResponse, error)

	// Model returns the active model identifier.
	Model() string
}
