package builtin

import (
	"context"
	"fmt"
	"os"

	"loom/internal/agent/ports"
	"loom/internal/diff"
)

const attachSizeLimit = 1 << 20

type fileAttach struct{}

// NewFileAttach creates the file.attach tool: pin a file's content into the
// conversation so subsequent prompts carry it.
func NewFileAttach() ports.ToolExecutor {
	return &fileAttach{}
}

func (t *fileAttach) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	abs, rel, err := resolveCallPath(call, "file_path")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("cannot attach %s: %v", rel, err), "", "file_not_found"), nil
	}
	if info.Size() > attachSizeLimit {
		return errorResult(call.CallID,
			fmt.Sprintf("%s is %s, too large to attach", rel, humanSize(info.Size())),
			"attach a smaller file or read portions with file.grep", "file_too_large"), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("read %s: %v", rel, err), "", "io_error"), nil
	}
	if diff.IsBinary(string(data)) {
		return errorResult(call.CallID, fmt.Sprintf("%s is binary", rel), "", "binary_file"), nil
	}

	result := successResult(call.CallID, fmt.Sprintf("Attached %s (%s)", rel, humanSize(info.Size())))
	result.Metadata["attached_file"] = rel
	result.Metadata["size"] = info.Size()
	result.Payload = map[string]any{"file_path": rel, "content": string(data)}
	return result, nil
}

func (t *fileAttach) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file.attach",
		Version:     "1.0.0",
		Description: "Attach a workspace file to the conversation context",
		Effects:     []ports.Effect{ports.EffectDisk, ports.EffectContext},
		Params: []ports.ParamSpec{
			{Name: "file_path", Type: "string", Description: "File to attach", Required: true},
		},
		OutputDesc: "attachment confirmation with content payload",
	}
}
