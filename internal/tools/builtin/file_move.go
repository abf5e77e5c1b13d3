package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"loom/internal/agent/ports"
	"loom/internal/diff"
)

type fileMove struct{}

// NewFileMove creates the file.move tool.
func NewFileMove() ports.ToolExecutor {
	return &fileMove{}
}

func (t *fileMove) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	srcAbs, srcRel, err := resolveCallPath(call, "source")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}
	dstAbs, dstRel, err := resolveCallPath(call, "destination")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}

	if _, err := os.Stat(srcAbs); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("source %s: %v", srcRel, err), "", "file_not_found"), nil
	}
	if _, err := os.Stat(dstAbs); err == nil && !call.Params.GetBool("overwrite", false) {
		return errorResult(call.CallID, fmt.Sprintf("destination %s already exists", dstRel), "set overwrite=true to replace it", "file_exists"), nil
	}

	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("create destination directories: %v", err), "", "io_error"), nil
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("move %s to %s: %v", srcRel, dstRel, err), "", "io_error"), nil
	}

	result := successResult(call.CallID, fmt.Sprintf("Moved %s to %s", srcRel, dstRel))
	result.Metadata["source"] = srcRel
	result.Metadata["destination"] = dstRel
	return result, nil
}

func (t *fileMove) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file.move",
		Version:     "1.0.0",
		Description: "Move or rename a file within the workspace",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "source", Type: "string", Description: "Current file path", Required: true},
			{Name: "destination", Type: "string", Description: "New file path", Required: true},
			{Name: "overwrite", Type: "boolean", Description: "Replace an existing destination"},
		},
		OutputDesc: "status",
	}
}

type fileMoveLines struct{}

// NewFileMoveLines creates the file.move_lines tool: cut a line range from
// one file and insert it into another (or elsewhere in the same file).
func NewFileMoveLines() ports.ToolExecutor {
	return &fileMoveLines{}
}

func (t *fileMoveLines) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	srcAbs, srcRel, err := resolveCallPath(call, "source")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}
	dstAbs, dstRel, err := resolveCallPath(call, "destination")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}

	start := int(call.Params.GetInt("start_line", 0))
	end := int(call.Params.GetInt("end_line", 0))
	insertAt := int(call.Params.GetInt("insert_at", 0))

	srcData, err := os.ReadFile(srcAbs)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("read %s: %v", srcRel, err), "", "file_not_found"), nil
	}
	srcLines := strings.Split(string(srcData), "\n")
	if start < 1 || end < start || end > len(srcLines) {
		return errorResult(call.CallID,
			fmt.Sprintf("line range [%d, %d] out of bounds for %d lines", start, end, len(srcLines)),
			"line ranges are 1-indexed and inclusive", "validation_error"), nil
	}

	moved := append([]string(nil), srcLines[start-1:end]...)
	remaining := append(append([]string(nil), srcLines[:start-1]...), srcLines[end:]...)

	sameFile := srcAbs == dstAbs
	var dstLines []string
	if sameFile {
		dstLines = remaining
	} else if dstData, err := os.ReadFile(dstAbs); err == nil {
		dstLines = strings.Split(string(dstData), "\n")
	}

	if insertAt < 1 || insertAt > len(dstLines)+1 {
		insertAt = len(dstLines) + 1
	}
	merged := make([]string, 0, len(dstLines)+len(moved))
	merged = append(merged, dstLines[:insertAt-1]...)
	merged = append(merged, moved...)
	merged = append(merged, dstLines[insertAt-1:]...)

	if !sameFile {
		if err := os.WriteFile(srcAbs, []byte(strings.Join(remaining, "\n")), 0o644); err != nil {
			return errorResult(call.CallID, fmt.Sprintf("write %s: %v", srcRel, err), "", "io_error"), nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("create destination directories: %v", err), "", "io_error"), nil
	}
	if err := os.WriteFile(dstAbs, []byte(strings.Join(merged, "\n")), 0o644); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("write %s: %v", dstRel, err), "", "io_error"), nil
	}

	stats := diff.LineStats(string(srcData), strings.Join(remaining, "\n"))
	result := successResult(call.CallID,
		fmt.Sprintf("Moved lines %d-%d from %s to %s at line %d", start, end, srcRel, dstRel, insertAt))
	result.Metadata["lines_moved"] = len(moved)
	result.Ops = []ports.FileOp{
		{Type: "file_edit", Path: srcRel, EditMode: "line_range", LinesRemoved: stats.LinesRemoved, LinesAdded: stats.LinesAdded},
		{Type: "file_edit", Path: dstRel, EditMode: "line_range", LinesAdded: len(moved)},
	}
	return result, nil
}

func (t *fileMoveLines) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "file.move_lines",
		Version:     "1.0.0",
		Description: "Cut a line range from one file and insert it into another",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "source", Type: "string", Description: "File to cut lines from", Required: true},
			{Name: "destination", Type: "string", Description: "File to insert lines into", Required: true},
			{Name: "start_line", Type: "integer", Description: "First line to move, 1-indexed inclusive", Required: true},
			{Name: "end_line", Type: "integer", Description: "Last line to move, 1-indexed inclusive", Required: true},
			{Name: "insert_at", Type: "integer", Description: "Insertion line in the destination (default: append)"},
		},
		OutputDesc: "status with per-file ops",
	}
}
