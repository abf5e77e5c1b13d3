// Package autoexec applies file.write and file.edit proposals to disk while
// the model is still streaming, so the UI shows a live diff and a later
// rejection can roll the workspace back.
package autoexec

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"loom/internal/agent/ports"
	"loom/internal/diff"
	"loom/internal/shared/logging"
	"loom/internal/toolregistry"
)

const lastSentCacheSize = 256

// Engine holds the speculative-execution state for one task.
type Engine struct {
	taskID    string
	domainID  string
	workspace string
	emitter   ports.EventEmitter
	logger    logging.Logger

	mu       sync.Mutex
	states   map[string]*ports.PreExecutionState
	results  map[string]*ports.ToolResult
	lastSent *lru.Cache[string, string]
}

// NewEngine creates a per-task engine rooted at workspace.
func NewEngine(taskID, domainID, workspace string, emitter ports.EventEmitter, logger logging.Logger) *Engine {
	cache, _ := lru.New[string, string](lastSentCacheSize)
	return &Engine{
		taskID:    taskID,
		domainID:  domainID,
		workspace: workspace,
		emitter:   emitter,
		logger:    logging.OrNop(logger),
		states:    make(map[string]*ports.PreExecutionState),
		results:   make(map[string]*ports.ToolResult),
		lastSent:  cache,
	}
}

// AutoExec speculatively applies one streamed invocation. Partial
// invocations (final=false) re-run against the original pre-state, so
// repeated delivery of a growing content prefix is idempotent.
func (e *Engine) AutoExec(toolName string, raw []toolregistry.RawParam, callID string, final bool) {
	params := rawToMap(raw)

	var err error
	switch toolName {
	case "file.write":
		err = e.applyWrite(callID, params, final)
	case "file.edit":
		err = e.applyEdit(callID, params, final)
	default:
		return
	}

	if err == nil {
		return
	}
	if !final {
		// Partial invocations routinely fail while params are incomplete.
		e.logger.Debug("auto-exec partial %s (%s): %v", toolName, callID, err)
		return
	}
	e.logger.Warn("auto-exec %s (%s) failed: %v", toolName, callID, err)
	e.mu.Lock()
	e.results[callID] = &ports.ToolResult{
		CallID:    callID,
		Status:    "error",
		Error:     err.Error(),
		ErrorType: "auto_exec_error",
	}
	e.mu.Unlock()
}

// State returns the captured pre-execution state for a call-id, or nil when
// that call never auto-executed.
func (e *Engine) State(callID string) *ports.PreExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[callID]
}

// Result returns the synthesized result of the final invocation for a
// call-id. The approval gate uses it instead of re-running the tool.
func (e *Engine) Result(callID string) *ports.ToolResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results[callID]
}

func (e *Engine) applyWrite(callID string, params map[string]string, final bool) error {
	abs, rel, err := resolvePath(e.workspace, params["file_path"])
	if err != nil {
		return err
	}
	content := params["content"]

	state, err := e.ensureState(callID, "file.write", abs, rel, params)
	if err != nil {
		return err
	}

	created := missingParents(e.workspace, abs)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}

	e.mu.Lock()
	state.CreatedDirs = mergeCreatedDirs(state.CreatedDirs, created)
	state.Params = paramsToAny(params)
	original := state.OriginalContent
	e.mu.Unlock()

	stats := diff.LineStats(original, content)
	e.emitFileOp(callID, "file.write", rel, original, content, stats, final)

	if final {
		e.storeResult(callID, "file.write", rel, original, content, ports.FileOp{
			Type:         "file_write",
			Path:         rel,
			LinesAdded:   stats.LinesAdded,
			LinesRemoved: stats.LinesRemoved,
			Before:       original,
			After:        content,
			PreExecuted:  true,
		})
	}
	return nil
}

func (e *Engine) applyEdit(callID string, params map[string]string, final bool) error {
	abs, rel, err := resolvePath(e.workspace, params["file_path"])
	if err != nil {
		return err
	}

	state, err := e.ensureState(callID, "file.edit", abs, rel, params)
	if err != nil {
		return err
	}

	e.mu.Lock()
	original := state.OriginalContent
	existed := state.FileExisted
	e.mu.Unlock()
	if !existed {
		return fmt.Errorf("file %s does not exist", rel)
	}

	// Edits are always computed from the original content so that repeated
	// streaming invocations never compound.
	newContent, mode, affected, err := ApplyEdit(original, params)
	if err != nil {
		return err
	}

	if err := os.WriteFile(abs, []byte(newContent), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}

	e.mu.Lock()
	state.Params = paramsToAny(params)
	e.mu.Unlock()

	stats := diff.LineStats(original, newContent)
	e.emitFileOp(callID, "file.edit", rel, original, newContent, stats, final)

	if final {
		result := e.storeResult(callID, "file.edit", rel, original, newContent, ports.FileOp{
			Type:         "file_edit",
			Path:         rel,
			EditMode:     mode,
			LinesAdded:   stats.LinesAdded,
			LinesRemoved: stats.LinesRemoved,
			Before:       original,
			After:        newContent,
			PreExecuted:  true,
		})
		// Same summary as a live file.edit run; history must not betray
		// which path executed the call.
		result.Content = fmt.Sprintf("Successfully edited %s (%s, lines_affected=%d)", rel, mode, affected)
		result.Metadata["edit_mode"] = mode
		result.Metadata["lines_affected"] = affected
	}
	return nil
}

// ensureState captures the pre-state on the first invocation of a call-id
// and leaves it untouched on re-invocations.
func (e *Engine) ensureState(callID, toolName, abs, rel string, params map[string]string) (*ports.PreExecutionState, error) {
	e.mu.Lock()
	if state, ok := e.states[callID]; ok {
		e.mu.Unlock()
		return state, nil
	}
	e.mu.Unlock()

	state := &ports.PreExecutionState{
		ToolName:   toolName,
		FilePath:   rel,
		Params:     paramsToAny(params),
		CapturedAt: time.Now(),
	}
	if data, err := os.ReadFile(abs); err == nil {
		if diff.IsBinary(string(data)) {
			return nil, fmt.Errorf("file %s is binary", rel)
		}
		state.FileExisted = true
		state.OriginalContent = string(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.states[callID]; ok {
		return existing, nil
	}
	e.states[callID] = state
	return state, nil
}

// ApplyEdit computes the edited content from original per edit_mode. The
// resolved params are the single source of truth for the mode.
func ApplyEdit(original string, params map[string]string) (content, mode string, affected int, err error) {
	mode = params["edit_mode"]
	switch mode {
	case "find_replace":
		return applyFindReplace(original, params)
	case "line_range":
		return applyLineRange(original, params)
	default:
		return "", mode, 0, fmt.Errorf("unsupported edit_mode %q", mode)
	}
}

func applyFindReplace(original string, params map[string]string) (string, string, int, error) {
	find := params["find_text"]
	if find == "" {
		return "", "find_replace", 0, fmt.Errorf("find_text is required")
	}
	replace := params["replace_text"]
	useRegex := boolParam(params, "use_regex", false)
	replaceAll := boolParam(params, "replace_all", false)

	if useRegex {
		re, err := regexp.Compile(find)
		if err != nil {
			return "", "find_replace", 0, fmt.Errorf("invalid regex %q: %w", find, err)
		}
		matches := re.FindAllStringIndex(original, -1)
		if len(matches) == 0 {
			return "", "find_replace", 0, fmt.Errorf("pattern %q not found", find)
		}
		if replaceAll {
			return re.ReplaceAllString(original, replace), "find_replace", len(matches), nil
		}
		loc := matches[0]
		replaced := re.ReplaceAllString(original[loc[0]:loc[1]], replace)
		return original[:loc[0]] + replaced + original[loc[1]:], "find_replace", 1, nil
	}

	count := strings.Count(original, find)
	if count == 0 {
		return "", "find_replace", 0, fmt.Errorf("text %q not found", find)
	}
	if replaceAll {
		return strings.ReplaceAll(original, find, replace), "find_replace", count, nil
	}
	return strings.Replace(original, find, replace, 1), "find_replace", 1, nil
}

func applyLineRange(original string, params map[string]string) (string, string, int, error) {
	start, err := intParam(params, "start_line")
	if err != nil {
		return "", "line_range", 0, err
	}
	end, err := intParam(params, "end_line")
	if err != nil {
		return "", "line_range", 0, err
	}

	lines := strings.Split(original, "\n")
	if start < 1 || end < start || end > len(lines) {
		return "", "line_range", 0, fmt.Errorf("line range [%d, %d] out of bounds for %d lines", start, end, len(lines))
	}

	newLines := strings.Split(params["new_content"], "\n")
	result := make([]string, 0, len(lines)-(end-start+1)+len(newLines))
	result = append(result, lines[:start-1]...)
	result = append(result, newLines...)
	result = append(result, lines[end:]...)
	return strings.Join(result, "\n"), "line_range", end - start + 1, nil
}

// emitFileOp publishes the streaming UI payload for one applied mutation,
// preferring a delta when the new content strictly extends the last sent.
func (e *Engine) emitFileOp(callID, tool, rel, original, content string, stats diff.Stats, final bool) {
	payload := map[string]any{
		"call_id":       callID,
		"tool":          tool,
		"file_path":     rel,
		"content":       content,
		"lines_added":   stats.LinesAdded,
		"lines_removed": stats.LinesRemoved,
		"final":         final,
	}

	prev, havePrev := e.lastSent.Get(rel)
	if havePrev && len(content) > len(prev) && strings.HasPrefix(content, prev) {
		payload["update_type"] = "delta"
		payload["delta"] = content[len(prev):]
		payload["offset"] = len(prev)
		payload["decorations"] = diff.AppendDecorations(prev, content)
	} else {
		payload["update_type"] = "full"
		payload["decorations"] = diff.Decorations(original, content)
	}
	e.lastSent.Add(rel, content)

	e.emit(ports.Event{
		Kind:      ports.EventCoderFileOp,
		TaskID:    e.taskID,
		DomainID:  e.domainID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func (e *Engine) storeResult(callID, tool, rel, original, content string, op ports.FileOp) *ports.ToolResult {
	result := &ports.ToolResult{
		CallID:  callID,
		Status:  "success",
		Content: fmt.Sprintf("Successfully wrote to %s", rel),
		Ops:     []ports.FileOp{op},
		Metadata: map[string]any{
			"file_path":     rel,
			"lines_added":   op.LinesAdded,
			"lines_removed": op.LinesRemoved,
			"pre_executed":  true,
		},
	}
	if op.Diff == "" && original != content {
		result.Ops[0].Diff = diff.NewGenerator(false).Unified(original, content, rel)
	}

	e.mu.Lock()
	e.results[callID] = result
	e.mu.Unlock()
	return result
}

func (e *Engine) emit(event ports.Event) {
	if e.emitter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event emitter panicked: %v", r)
		}
	}()
	e.emitter(event)
}

func rawToMap(raw []toolregistry.RawParam) map[string]string {
	m := make(map[string]string, len(raw))
	for _, p := range raw {
		m[p.Name] = p.Value
	}
	return m
}

func paramsToAny(params map[string]string) map[string]any {
	m := make(map[string]any, len(params))
	for k, v := range params {
		m[k] = v
	}
	return m
}

func boolParam(params map[string]string, name string, fallback bool) bool {
	raw, ok := params[name]
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}

func intParam(params map[string]string, name string) (int, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return n, nil
}
