package builtin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"loom/internal/agent/ports"
)

// ImageGenConfig points media.image_generate at an image API.
type ImageGenConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	APIKey   string        `yaml:"api_key" json:"api_key"`
	Model    string        `yaml:"model" json:"model"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	// MaxConcurrent bounds in-flight generations.
	MaxConcurrent int64 `yaml:"max_concurrent" json:"max_concurrent"`
}

type imageGenerate struct {
	client *http.Client
	sem    *semaphore.Weighted
	cfg    ImageGenConfig
}

// NewImageGenerate creates the media.image_generate tool. Generation is the
// slow path of the catalog, so it runs with an async processing mode and its
// own timeout.
func NewImageGenerate(cfg ImageGenConfig) ports.ToolExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	return &imageGenerate{
		client: &http.Client{Timeout: cfg.Timeout},
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:    cfg,
	}
}

func (t *imageGenerate) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	if t.cfg.Endpoint == "" {
		return errorResult(call.CallID, "image generation is not configured", "set tools.image_generate.endpoint in the server config", "not_configured"), nil
	}
	prompt := call.Params.GetString("prompt", "")
	if strings.TrimSpace(prompt) == "" {
		return errorResult(call.CallID, "missing \"prompt\"", "", "validation_error"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return errorResult(call.CallID, "image generation queue is full", "retry shortly", "timeout"), nil
	}
	defer t.sem.Release(1)

	data, err := t.generate(ctx, prompt, call.Params)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("generation failed: %v", err), "retry or simplify the prompt", "provider_error"), nil
	}

	outPath := call.Params.GetString("file_path", fmt.Sprintf("generated/%s.png", call.CallID))
	abs, rel, err := resolveWorkspacePath(call.WorkspacePath, outPath, "file_path")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("create output directory: %v", err), "", "io_error"), nil
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("write %s: %v", rel, err), "", "io_error"), nil
	}

	result := successResult(call.CallID, fmt.Sprintf("Generated image at %s (%s)", rel, humanSize(int64(len(data)))))
	result.Metadata["file_path"] = rel
	result.Metadata["bytes"] = len(data)
	return result, nil
}

func (t *imageGenerate) generate(ctx context.Context, prompt string, params ports.Params) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"prompt": prompt,
		"model":  firstNonEmpty(params.GetString("model", ""), t.cfg.Model),
		"width":  params.GetInt("width", 1024),
		"height": params.GetInt("height", 1024),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image API returned %s", resp.Status)
	}

	var decoded struct {
		ImageBase64 string `json:"image_base64"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return base64.StdEncoding.DecodeString(decoded.ImageBase64)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (t *imageGenerate) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "media.image_generate",
		Version:     "1.0.0",
		Description: "Generate an image from a prompt and save it to the workspace",
		Effects:     []ports.Effect{ports.EffectNet, ports.EffectDisk},
		Processing:  ports.ProcessingAsync,
		Timeout:     120 * time.Second,
		Params: []ports.ParamSpec{
			{Name: "prompt", Type: "string", Description: "Image description", Required: true},
			{Name: "file_path", Type: "string", Description: "Output path (default: generated/<call_id>.png)"},
			{Name: "model", Type: "string", Description: "Override the configured model"},
			{Name: "width", Type: "integer", Description: "Image width", Default: 1024},
			{Name: "height", Type: "integer", Description: "Image height", Default: 1024},
		},
		OutputDesc: "path of the written image",
	}
}
