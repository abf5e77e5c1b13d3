package builtin

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"loom/internal/agent/ports"
)

const searchResultLimit = 200

type fileSearch struct{}

// NewFileSearch creates the file.search tool: find files by name pattern.
func NewFileSearch() ports.ToolExecutor {
	return &fileSearch{}
}

func (t *fileSearch) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	pattern := call.Params.GetString("pattern", "")
	if pattern == "" {
		return errorResult(call.CallID, "missing \"pattern\"", "", "validation_error"), nil
	}
	rootParam := call.Params.GetString("path", ".")
	absRoot, relRoot, err := resolveWorkspacePath(call.WorkspacePath, rootParam, "path")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}

	var matches []string
	truncated := false
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		ok, _ := filepath.Match(pattern, name)
		if !ok && !strings.Contains(name, pattern) {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		matches = append(matches, filepath.ToSlash(rel))
		if len(matches) >= searchResultLimit {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return errorResult(call.CallID, "search cancelled", "", "cancelled"), nil
	}

	content := strings.Join(matches, "\n")
	if len(matches) == 0 {
		content = fmt.Sprintf("No files matching %q under %s", pattern, relRoot)
	}
	result := successResult(call.CallID, content)
	result.Metadata["count"] = len(matches)
	result.Metadata["truncated"] = truncated
	result.Payload = map[string]any{"matches": matches}
	return result, nil
}

func (t *fileSearch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file.search",
		Version:     "1.0.0",
		Description: "Find files by name glob or substring",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "pattern", Type: "string", Description: "Glob or substring to match against file names", Required: true},
			{Name: "path", Type: "string", Description: "Directory to search under", Default: "."},
		},
		OutputDesc: "matching workspace-relative paths",
	}
}
