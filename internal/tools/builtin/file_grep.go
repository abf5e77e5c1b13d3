package builtin

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"loom/internal/agent/ports"
)

const grepMatchLimit = 500

type fileGrep struct{}

// NewFileGrep creates the file.grep tool: regex search over file contents.
func NewFileGrep() ports.ToolExecutor {
	return &fileGrep{}
}

func (t *fileGrep) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	pattern := call.Params.GetString("pattern", "")
	if pattern == "" {
		return errorResult(call.CallID, "missing \"pattern\"", "", "validation_error"), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("invalid regex: %v", err), "escape special characters or simplify the pattern", "validation_error"), nil
	}

	rootParam := call.Params.GetString("path", ".")
	absRoot, _, err := resolveWorkspacePath(call.WorkspacePath, rootParam, "path")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}
	fileGlob := call.Params.GetString("file_pattern", "")

	type match struct {
		File string `json:"file"`
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	var matches []match
	truncated := false

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			if d != nil && d.IsDir() && (d.Name() == ".git" || d.Name() == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if fileGlob != "" {
			if ok, _ := filepath.Match(fileGlob, d.Name()); !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if strings.ContainsRune(line, 0) {
				return nil // binary
			}
			if re.MatchString(line) {
				matches = append(matches, match{File: filepath.ToSlash(rel), Line: lineNo, Text: line})
				if len(matches) >= grepMatchLimit {
					truncated = true
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return errorResult(call.CallID, "grep cancelled", "", "cancelled"), nil
	}

	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s:%d: %s\n", m.File, m.Line, m.Text)
	}
	content := b.String()
	if content == "" {
		content = fmt.Sprintf("No matches for %q", pattern)
	}

	result := successResult(call.CallID, content)
	result.Metadata["count"] = len(matches)
	result.Metadata["truncated"] = truncated
	result.Payload = map[string]any{"matches": matches}
	return result, nil
}

func (t *fileGrep) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file.grep",
		Version:     "1.0.0",
		Description: "Search file contents with a regular expression",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "pattern", Type: "string", Description: "Regular expression to search for", Required: true},
			{Name: "path", Type: "string", Description: "Directory to search under", Default: "."},
			{Name: "file_pattern", Type: "string", Description: "Glob filter on file names"},
		},
		OutputDesc: "file:line matches",
	}
}
