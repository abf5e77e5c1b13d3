package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"loom/internal/agent/ports"
	"loom/internal/diff"
)

type fileWrite struct{}

// NewFileWrite creates the file.write tool.
func NewFileWrite() ports.ToolExecutor {
	return &fileWrite{}
}

func (t *fileWrite) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	abs, rel, err := resolveCallPath(call, "file_path")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "check the file_path parameter", "validation_error"), nil
	}
	content, ok := call.Params.Get("content")
	if !ok {
		return errorResult(call.CallID, "missing \"content\"", "", "validation_error"), nil
	}

	var before string
	existed := false
	if data, err := os.ReadFile(abs); err == nil {
		existed = true
		before = string(data)
		if !call.Params.GetBool("overwrite", true) {
			return errorResult(call.CallID, fmt.Sprintf("%s already exists", rel), "set overwrite=true to replace it", "file_exists"), nil
		}
	}

	if call.Params.GetBool("create_dirs", true) {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return errorResult(call.CallID, fmt.Sprintf("create directories for %s: %v", rel, err), "", "io_error"), nil
		}
	}

	text := content.Str
	if content.Kind != ports.KindString {
		text = content.AsString()
	}
	if err := os.WriteFile(abs, []byte(text), 0o644); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("write %s: %v", rel, err), "", "io_error"), nil
	}

	stats := diff.LineStats(before, text)
	result := successResult(call.CallID, fmt.Sprintf("Successfully wrote to %s", rel))
	result.Metadata["file_path"] = rel
	result.Metadata["bytes"] = len(text)
	result.Metadata["existed"] = existed
	result.Ops = []ports.FileOp{{
		Type:         "file_write",
		Path:         rel,
		LinesAdded:   stats.LinesAdded,
		LinesRemoved: stats.LinesRemoved,
		Before:       before,
		After:        text,
	}}
	return result, nil
}

func (t *fileWrite) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file.write",
		Version:     "1.0.0",
		Description: "Write content to a file, creating it if needed",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "file_path", Type: "string", Description: "Workspace-relative file path", Required: true},
			{Name: "content", Type: "string", Description: "Complete file content", Required: true},
			{Name: "create_dirs", Type: "boolean", Description: "Create missing parent directories", Default: true},
			{Name: "overwrite", Type: "boolean", Description: "Replace an existing file", Default: true},
		},
		OutputDesc: "status with a file_write op",
	}
}
