// Package builtin provides the contractually required tool suite: file
// operations, planning, shell execution, retrieval and generation tools.
package builtin

import (
	"fmt"
	"path/filepath"
	"strings"

	"loom/internal/agent/ports"
)

// errorResult wraps a tool failure as data so it reaches the model through
// history instead of escaping as an error.
func errorResult(callID, message, suggestion, errorType string) *ports.ToolResult {
	return &ports.ToolResult{
		CallID:     callID,
		Status:     "error",
		Error:      message,
		Suggestion: suggestion,
		ErrorType:  errorType,
	}
}

func successResult(callID, content string) *ports.ToolResult {
	return &ports.ToolResult{
		CallID:   callID,
		Status:   "success",
		Content:  content,
		Metadata: map[string]any{},
	}
}

// resolveCallPath resolves a path parameter against the call's workspace
// sandbox. Calls without a workspace resolve relative to the process cwd.
func resolveCallPath(call *ports.ToolCall, param string) (abs string, rel string, err error) {
	raw := call.Params.GetString(param, "")
	return resolveWorkspacePath(call.WorkspacePath, raw, param)
}

func resolveWorkspacePath(workspace, raw, param string) (abs string, rel string, err error) {
	if strings.TrimSpace(raw) == "" {
		return "", "", fmt.Errorf("missing %q", param)
	}
	if workspace == "" {
		abs, err = filepath.Abs(raw)
		return abs, filepath.ToSlash(raw), err
	}

	root, err := filepath.Abs(workspace)
	if err != nil {
		return "", "", err
	}
	target := raw
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)
	relPath, err := filepath.Rel(root, target)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %q escapes the workspace", raw)
	}
	return target, filepath.ToSlash(relPath), nil
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}
