// Package llm provides the provider adapter behind the engine's streaming
// client contract. The only production implementation speaks the
// OpenAI-compatible chat completions API with SSE streaming.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loom/internal/agent/ports"
	loomerrors "loom/internal/errors"
	"loom/internal/shared/logging"
)

// Config carries provider connection settings.
type Config struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Headers     map[string]string
}

// OpenAIClient implements ports.StreamingLLMClient against any
// chat-completions endpoint.
type OpenAIClient struct {
	cfg    Config
	client *http.Client
	logger logging.Logger
}

// NewOpenAIClient builds a streaming client. BaseURL defaults to the OpenAI
// API; the timeout covers the whole stream, not just connection setup.
func NewOpenAIClient(cfg Config, logger logging.Logger) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &OpenAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrNop(logger),
	}
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string {
	return c.cfg.Model
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// CompleteStream sends the prompt as a single user message and forwards
// answer and reasoning deltas in arrival order.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req ports.CompletionRequest, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	payload := map[string]any{
		"model":       model,
		"messages":    []map[string]string{{"role": "user", "content": req.Prompt}},
		"temperature": temperature,
		"stream":      true,
		"stream_options": map[string]any{
			"include_usage": true,
		},
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	endpoint := c.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	started := time.Now()
	c.logger.Debug("llm request: POST %s model=%s prompt=%dB", endpoint, model, len(req.Prompt))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, loomerrors.NewTransientError(err, "provider request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, mapHTTPError(resp.StatusCode, raw, resp.Header)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var content, thinking strings.Builder
	out := &ports.CompletionResponse{}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("llm stream: skipping undecodable chunk: %v", err)
			continue
		}
		if chunk.Usage != nil {
			out.Usage = ports.TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if delta := choice.Delta.ReasoningContent; delta != "" {
				thinking.WriteString(delta)
				if callbacks.OnThoughtDelta != nil {
					callbacks.OnThoughtDelta(delta)
				}
			}
			if delta := choice.Delta.Content; delta != "" {
				content.WriteString(delta)
				if callbacks.OnAnswerDelta != nil {
					callbacks.OnAnswerDelta(delta)
				}
			}
			if choice.FinishReason != nil {
				out.StopReason = *choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, loomerrors.NewTransientError(err, "provider stream interrupted")
	}

	out.Content = content.String()
	out.Thinking = thinking.String()
	c.logger.Debug("llm response: %dB in %s, stop=%s, tokens=%d",
		len(out.Content), time.Since(started).Round(time.Millisecond), out.StopReason, out.Usage.TotalTokens)
	return out, nil
}

// mapHTTPError classifies provider failures so the retry layer can tell
// transient overload from permanent misconfiguration.
func mapHTTPError(status int, body []byte, headers http.Header) error {
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(status)
	}
	base := fmt.Errorf("provider returned %d: %s", status, message)

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		transient := loomerrors.NewTransientError(base, "provider overloaded")
		if hint := parseRetryAfter(headers.Get("Retry-After")); hint > 0 {
			transient.RetryAfter = hint
		}
		return transient
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return loomerrors.NewPermanentError(base, "provider rejected credentials")
	default:
		return loomerrors.NewPermanentError(base, "provider rejected request")
	}
}

func parseRetryAfter(value string) int {
	if value == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err != nil {
		return 0
	}
	return seconds
}
