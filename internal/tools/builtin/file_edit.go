package builtin

import (
	"context"
	"fmt"
	"os"

	"loom/internal/agent/ports"
	"loom/internal/autoexec"
	"loom/internal/diff"
)

type fileEdit struct{}

// NewFileEdit creates the file.edit tool with find_replace and line_range
// modes. The same edit core backs speculative streaming execution, so an
// approved pre-executed call and a live call produce identical content.
func NewFileEdit() ports.ToolExecutor {
	return &fileEdit{}
}

func (t *fileEdit) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	abs, rel, err := resolveCallPath(call, "file_path")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "check the file_path parameter", "validation_error"), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("cannot edit %s: %v", rel, err), "the file must exist; use file.write to create it", "file_not_found"), nil
	}
	original := string(data)
	if diff.IsBinary(original) {
		return errorResult(call.CallID, fmt.Sprintf("%s is binary", rel), "", "binary_file"), nil
	}

	params := make(map[string]string, len(call.Params))
	for _, entry := range call.Params {
		params[entry.Name] = entry.Value.AsString()
	}

	edited, mode, affected, err := autoexec.ApplyEdit(original, params)
	if err != nil {
		return errorResult(call.CallID, err.Error(), "re-check edit_mode and its parameters", "edit_error"), nil
	}
	if err := os.WriteFile(abs, []byte(edited), 0o644); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("write %s: %v", rel, err), "", "io_error"), nil
	}

	stats := diff.LineStats(original, edited)
	result := successResult(call.CallID, fmt.Sprintf("Successfully edited %s (%s, lines_affected=%d)", rel, mode, affected))
	result.Metadata["file_path"] = rel
	result.Metadata["edit_mode"] = mode
	result.Metadata["lines_affected"] = affected
	result.Ops = []ports.FileOp{{
		Type:         "file_edit",
		Path:         rel,
		EditMode:     mode,
		LinesAdded:   stats.LinesAdded,
		LinesRemoved: stats.LinesRemoved,
		Before:       original,
		After:        edited,
	}}
	return result, nil
}

func (t *fileEdit) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file.edit",
		Version:     "1.0.0",
		Description: "Edit a file by find/replace or by replacing a line range",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "file_path", Type: "string", Description: "Workspace-relative file path", Required: true},
			{Name: "edit_mode", Type: "string", Description: "Editing strategy", Required: true, Enum: []string{"find_replace", "line_range"}},
			{Name: "find_text", Type: "string", Description: "Text or regex to find (find_replace)"},
			{Name: "replace_text", Type: "string", Description: "Replacement text (find_replace)"},
			{Name: "use_regex", Type: "boolean", Description: "Treat find_text as a regular expression"},
			{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence instead of the first"},
			{Name: "start_line", Type: "integer", Description: "First line to replace, 1-indexed inclusive (line_range)"},
			{Name: "end_line", Type: "integer", Description: "Last line to replace, 1-indexed inclusive (line_range)"},
			{Name: "new_content", Type: "string", Description: "Replacement lines (line_range)"},
		},
		OutputDesc: "status with a file_edit op",
	}
}
