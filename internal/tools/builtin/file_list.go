package builtin

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"loom/internal/agent/ports"
)

type fileListDir struct{}

// NewFileListDir creates the file.list_dir tool.
func NewFileListDir() ports.ToolExecutor {
	return &fileListDir{}
}

func (t *fileListDir) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	path := call.Params.GetString("path", ".")
	abs, rel, err := resolveWorkspacePath(call.WorkspacePath, path, "path")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("list %s: %v", rel, err), "", "io_error"), nil
	}

	showHidden := call.Params.GetBool("show_hidden", false)
	var names []string
	var listing []map[string]any
	for _, entry := range entries {
		name := entry.Name()
		if !showHidden && strings.HasPrefix(name, ".") {
			continue
		}
		item := map[string]any{"name": name, "dir": entry.IsDir()}
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			item["size"] = info.Size()
		}
		listing = append(listing, item)
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	result := successResult(call.CallID, strings.Join(names, "\n"))
	result.Metadata["path"] = rel
	result.Metadata["count"] = len(names)
	result.Payload = map[string]any{"entries": listing}
	return result, nil
}

func (t *fileListDir) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file.list_dir",
		Version:     "1.0.0",
		Description: "List the entries of a directory",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "path", Type: "string", Description: "Directory to list", Default: "."},
			{Name: "show_hidden", Type: "boolean", Description: "Include dotfiles"},
		},
		OutputDesc: "sorted entry names with a structured listing",
	}
}
