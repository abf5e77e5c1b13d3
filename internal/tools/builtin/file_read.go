package builtin

import (
	"context"
	"fmt"
	"os"
	"sync"

	"loom/internal/agent/ports"
	"loom/internal/checkpoint"
	"loom/internal/diff"
)

type fileRead struct {
	mu   sync.Mutex
	seen map[string]string // content hash -> path of first read
}

// NewFileRead creates the file.read tool. Repeated reads of identical
// content return a duplicate marker instead of the full content, unless
// force_reread is set.
func NewFileRead() ports.ToolExecutor {
	return &fileRead{seen: make(map[string]string)}
}

func (t *fileRead) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	abs, rel, err := resolveCallPath(call, "file_path")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "check the file_path parameter", "validation_error"), nil
	}

	maxMB := call.Params.GetInt("max_size_mb", 10)
	info, err := os.Stat(abs)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("cannot read %s: %v", rel, err), "verify the file exists", "file_not_found"), nil
	}
	if info.Size() > maxMB*1024*1024 {
		return errorResult(call.CallID,
			fmt.Sprintf("%s is %s, above the %d MB limit", rel, humanSize(info.Size()), maxMB),
			"raise max_size_mb or narrow the read with file.grep", "file_too_large"), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("read %s: %v", rel, err), "", "io_error"), nil
	}
	content := string(data)
	if diff.IsBinary(content) {
		return errorResult(call.CallID, fmt.Sprintf("%s is binary", rel), "file.read only handles text files", "binary_file"), nil
	}

	hash := checkpoint.ContentHash(content)
	force := call.Params.GetBool("force_reread", false)

	t.mu.Lock()
	firstPath, dup := t.seen[hash]
	if !dup {
		t.seen[hash] = rel
	}
	t.mu.Unlock()

	if dup && !force {
		result := successResult(call.CallID, fmt.Sprintf("Content identical to previously read %s (hash %s)", firstPath, hash[:12]))
		result.Status = "duplicate"
		result.Metadata["content_hash"] = hash
		result.Metadata["duplicate_of"] = firstPath
		return result, nil
	}

	result := successResult(call.CallID, content)
	result.Metadata["file_path"] = rel
	result.Metadata["size"] = info.Size()
	result.Metadata["lines"] = countLines(content)
	result.Metadata["content_hash"] = hash
	result.Payload = map[string]any{
		"summary": fmt.Sprintf("Successfully read %s (%d lines, %s)", rel, countLines(content), humanSize(info.Size())),
	}
	return result, nil
}

func (t *fileRead) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file.read",
		Version:     "1.0.0",
		Description: "Read a text file from the workspace",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "file_path", Type: "string", Description: "Workspace-relative file path", Required: true},
			{Name: "max_size_mb", Type: "integer", Description: "Maximum file size to read", Default: 10},
			{Name: "force_reread", Type: "boolean", Description: "Return content even when identical to a previous read"},
		},
		OutputDesc: "file content with size metadata, or a duplicate marker",
	}
}
