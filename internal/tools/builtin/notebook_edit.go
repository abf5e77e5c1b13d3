package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"loom/internal/agent/ports"
)

type notebookEdit struct{}

// NewNotebookEdit creates the file.notebook_edit tool for Jupyter notebooks.
func NewNotebookEdit() ports.ToolExecutor {
	return &notebookEdit{}
}

func (t *notebookEdit) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	abs, rel, err := resolveCallPath(call, "file_path")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}
	if !strings.HasSuffix(rel, ".ipynb") {
		return errorResult(call.CallID, fmt.Sprintf("%s is not a notebook", rel), "file.notebook_edit only handles .ipynb files", "validation_error"), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("read %s: %v", rel, err), "", "file_not_found"), nil
	}
	var notebook map[string]json.RawMessage
	if err := json.Unmarshal(data, &notebook); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("%s is not valid notebook JSON: %v", rel, err), "", "parse_error"), nil
	}

	var cells []map[string]any
	if err := json.Unmarshal(notebook["cells"], &cells); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("decode cells of %s: %v", rel, err), "", "parse_error"), nil
	}

	index := int(call.Params.GetInt("cell_index", -1))
	action := call.Params.GetString("action", "replace")
	source := call.Params.GetString("source", "")
	cellType := call.Params.GetString("cell_type", "code")

	sourceLines := splitNotebookSource(source)
	switch action {
	case "replace":
		if index < 0 || index >= len(cells) {
			return errorResult(call.CallID, fmt.Sprintf("cell_index %d out of range (%d cells)", index, len(cells)), "", "validation_error"), nil
		}
		cells[index]["source"] = sourceLines
		delete(cells[index], "outputs")
		if cells[index]["cell_type"] == "code" {
			cells[index]["outputs"] = []any{}
			cells[index]["execution_count"] = nil
		}
	case "insert":
		if index < 0 || index > len(cells) {
			index = len(cells)
		}
		cell := map[string]any{"cell_type": cellType, "source": sourceLines, "metadata": map[string]any{}}
		if cellType == "code" {
			cell["outputs"] = []any{}
			cell["execution_count"] = nil
		}
		cells = append(cells[:index], append([]map[string]any{cell}, cells[index:]...)...)
	case "delete":
		if index < 0 || index >= len(cells) {
			return errorResult(call.CallID, fmt.Sprintf("cell_index %d out of range (%d cells)", index, len(cells)), "", "validation_error"), nil
		}
		cells = append(cells[:index], cells[index+1:]...)
	default:
		return errorResult(call.CallID, fmt.Sprintf("unknown action %q", action), "use replace, insert or delete", "validation_error"), nil
	}

	encodedCells, err := json.Marshal(cells)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("encode cells: %v", err), "", "io_error"), nil
	}
	notebook["cells"] = encodedCells
	out, err := json.MarshalIndent(notebook, "", " ")
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("encode notebook: %v", err), "", "io_error"), nil
	}
	if err := os.WriteFile(abs, out, 0o644); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("write %s: %v", rel, err), "", "io_error"), nil
	}

	result := successResult(call.CallID, fmt.Sprintf("Notebook %s: %s cell %d", rel, action, index))
	result.Metadata["file_path"] = rel
	result.Metadata["cells"] = len(cells)
	result.Ops = []ports.FileOp{{
		Type:     "notebook_edit",
		Path:     rel,
		EditMode: action,
		Before:   string(data),
		After:    string(out),
	}}
	return result, nil
}

// splitNotebookSource renders source in the notebook's line-array form,
// each line keeping its trailing newline except the last.
func splitNotebookSource(source string) []string {
	if source == "" {
		return []string{}
	}
	lines := strings.SplitAfter(source, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (t *notebookEdit) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file.notebook_edit",
		Version:     "1.0.0",
		Description: "Replace, insert or delete a cell in a Jupyter notebook",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "file_path", Type: "string", Description: "Notebook path (.ipynb)", Required: true},
			{Name: "action", Type: "string", Description: "Edit action", Enum: []string{"replace", "insert", "delete"}, Default: "replace"},
			{Name: "cell_index", Type: "integer", Description: "0-indexed cell position", Required: true},
			{Name: "source", Type: "string", Description: "New cell source (replace/insert)"},
			{Name: "cell_type", Type: "string", Description: "Cell type for insert", Enum: []string{"code", "markdown"}, Default: "code"},
		},
		OutputDesc: "status with a notebook_edit op",
	}
}
