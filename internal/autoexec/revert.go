package autoexec

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"loom/internal/agent/ports"
)

// Revert undoes a rejected speculative edit using its captured pre-state.
// For edits it works on the current file content, so user changes outside
// the tool-touched region survive the rollback.
func (e *Engine) Revert(state *ports.PreExecutionState) error {
	if state == nil {
		return fmt.Errorf("no pre-execution state to revert")
	}
	abs, rel, err := resolvePath(e.workspace, state.FilePath)
	if err != nil {
		return err
	}

	switch {
	case state.ToolName == "file.write" && !state.FileExisted:
		return e.revertCreation(abs, rel, state)
	case state.ToolName == "file.write":
		return e.restoreOriginal(abs, rel, state)
	case state.ToolName == "file.edit":
		return e.revertEdit(abs, rel, state)
	default:
		return fmt.Errorf("cannot revert tool %q", state.ToolName)
	}
}

// revertCreation deletes a speculatively created file and prunes the
// directories created for it, innermost first. Directories that picked up
// other files in the meantime are left alone.
func (e *Engine) revertCreation(abs, rel string, state *ports.PreExecutionState) error {
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", rel, err)
	}

	for i := len(state.CreatedDirs) - 1; i >= 0; i-- {
		dirAbs, _, err := resolvePath(e.workspace, state.CreatedDirs[i])
		if err != nil {
			continue
		}
		// os.Remove refuses non-empty directories, which is exactly the
		// skip behaviour we want.
		if err := os.Remove(dirAbs); err != nil && !os.IsNotExist(err) {
			e.logger.Debug("keeping non-empty directory %s", state.CreatedDirs[i])
		}
	}

	e.lastSent.Remove(rel)
	e.emitRevert(rel, "deleted", "")
	return nil
}

func (e *Engine) restoreOriginal(abs, rel string, state *ports.PreExecutionState) error {
	if err := os.WriteFile(abs, []byte(state.OriginalContent), 0o644); err != nil {
		return fmt.Errorf("restore %s: %w", rel, err)
	}
	e.lastSent.Remove(rel)
	e.emitRevert(rel, "content", state.OriginalContent)
	return nil
}

func (e *Engine) revertEdit(abs, rel string, state *ports.PreExecutionState) error {
	current, err := os.ReadFile(abs)
	if err != nil {
		return e.restoreOriginal(abs, rel, state)
	}

	mode := stringParam(state.Params, "edit_mode")
	var reverted string
	var ok bool
	switch mode {
	case "find_replace":
		reverted, ok = inverseFindReplace(string(current), state.Params)
	case "line_range":
		reverted, ok = spliceOriginalRange(string(current), state.OriginalContent, state.Params)
	}
	if !ok {
		// Inverse no longer applies (the user removed the replacement);
		// fall back to the full original.
		return e.restoreOriginal(abs, rel, state)
	}

	if err := os.WriteFile(abs, []byte(reverted), 0o644); err != nil {
		return fmt.Errorf("restore %s: %w", rel, err)
	}
	e.lastSent.Remove(rel)
	e.emitRevert(rel, "content", reverted)
	return nil
}

// inverseFindReplace substitutes the tool's replacement text back to the
// original text on the current content.
func inverseFindReplace(current string, params map[string]any) (string, bool) {
	find := stringParam(params, "find_text")
	replace := stringParam(params, "replace_text")
	if replace == "" || !strings.Contains(current, replace) {
		return "", false
	}
	if boolAnyParam(params, "replace_all") {
		return strings.ReplaceAll(current, replace, find), true
	}
	return strings.Replace(current, replace, find, 1), true
}

// spliceOriginalRange puts the original lines back into the edited range
// while keeping the current content outside it.
func spliceOriginalRange(current, original string, params map[string]any) (string, bool) {
	start, ok1 := intAnyParam(params, "start_line")
	end, ok2 := intAnyParam(params, "end_line")
	if !ok1 || !ok2 {
		return "", false
	}

	currentLines := strings.Split(current, "\n")
	originalLines := strings.Split(original, "\n")
	if start < 1 || end < start || end > len(originalLines) || end > len(currentLines) {
		return "", false
	}

	result := make([]string, 0, len(currentLines))
	result = append(result, currentLines[:start-1]...)
	result = append(result, originalLines[start-1:end]...)
	result = append(result, currentLines[end:]...)
	return strings.Join(result, "\n"), true
}

func (e *Engine) emitRevert(rel, revertedTo, content string) {
	payload := map[string]any{
		"file_path":   rel,
		"reverted_to": revertedTo,
	}
	if revertedTo == "content" {
		payload["content"] = content
	}
	e.emit(ports.Event{
		Kind:      ports.EventCoderFileRevert,
		TaskID:    e.taskID,
		DomainID:  e.domainID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func stringParam(params map[string]any, name string) string {
	if v, ok := params[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func boolAnyParam(params map[string]any, name string) bool {
	switch v := params[name].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

func intAnyParam(params map[string]any, name string) (int, bool) {
	switch v := params[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n, true
		}
	}
	return 0, false
}
