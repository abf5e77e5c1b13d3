package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"loom/internal/agent/ports"
	"loom/internal/parser/stream"
)

// BatchAllCallID is the sentinel call id that selects every pending proposal.
const BatchAllCallID = "batch_all"

// Decision is one approval event from the UI.
type Decision struct {
	CallID string `json:"call_id"`
	Accept bool   `json:"accept"`
	// Batch selects all pending proposals regardless of CallID.
	Batch bool `json:"batch,omitempty"`

	// Optional overlays from the caller; keys are call ids. Values override
	// what was attached at registration time.
	PreExecuted map[string]bool                      `json:"pre_executed,omitempty"`
	PreStates   map[string]*ports.PreExecutionState `json:"pre_states,omitempty"`
}

// DecisionResponse reports the outcome of one decision. Late and duplicate
// decisions succeed with Stale or NoPending set; they never error.
type DecisionResponse struct {
	TaskID   string           `json:"task_id"`
	Status   ports.TaskStatus `json:"status"`
	Stale    bool             `json:"stale_request,omitempty"`
	NoPending bool            `json:"no_pending,omitempty"`
	Decided  []string         `json:"decided,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// HandleToolDecision routes an approval event into the task's action queue.
// Decisions for tasks that finished within the grace window return a benign
// stale response (UIs double-send after retries and reloads).
func (e *Executor) HandleToolDecision(taskID string, decision Decision) (*DecisionResponse, error) {
	rt := e.runtime(taskID)
	if rt == nil {
		if status, ok := e.registry.RecentlyCompleted(taskID); ok {
			return &DecisionResponse{TaskID: taskID, Status: status, Stale: true}, nil
		}
		return nil, fmt.Errorf("unknown task %s", taskID)
	}

	reply := make(chan *DecisionResponse, 1)
	e.dispatch(rt, action{kind: actionDecision, decision: &decision, reply: reply})
	return <-reply, nil
}

// applyDecision settles pending proposals; it runs inside the task's queue drain.
func (e *Executor) applyDecision(rt *taskRuntime, decision *Decision) *DecisionResponse {
	state := rt.state
	resp := &DecisionResponse{TaskID: state.TaskID, Status: state.Status}

	if len(state.Pending) == 0 {
		e.logger.Warn("task %s: decision for %s arrived with no pending tools", state.TaskID, decision.CallID)
		resp.NoPending = true
		return resp
	}

	selected := e.selectProposals(state, decision)
	if len(selected) == 0 {
		// Already-decided call id: idempotent no-op.
		e.logger.Warn("task %s: call %s is not pending", state.TaskID, decision.CallID)
		resp.NoPending = true
		return resp
	}
	e.overlayPreExecution(rt, selected, decision)

	if !decision.Accept {
		e.rejectProposals(rt, selected)
		resp.Status = state.Status
		resp.Decided = callIDs(selected)
		resp.Message = state.AgentMessage
		return resp
	}

	for _, call := range selected {
		e.acceptProposal(rt, call)
	}

	decided := make(map[string]bool, len(selected))
	for _, call := range selected {
		decided[call.CallID] = true
	}
	state.RemovePending(decided)
	resp.Decided = callIDs(selected)

	switch {
	case len(state.Pending) > 0:
		state.Status = ports.TaskWaitingUser
		e.emitState(rt)
	case state.DeferredCompletion != nil:
		state.AgentMessage = *state.DeferredCompletion
		state.DeferredCompletion = nil
		e.finalize(rt, ports.TaskCompleted)
	default:
		state.Status = ports.TaskRunning
		e.enqueue(rt, action{kind: actionRun})
	}
	resp.Status = state.Status
	return resp
}

func (e *Executor) selectProposals(state *ports.TaskState, decision *Decision) []*ports.ToolCall {
	if decision.CallID == BatchAllCallID || (decision.Batch && len(state.Pending) > 1) {
		return append([]*ports.ToolCall(nil), state.Pending...)
	}
	if call, ok := state.PendingCall(decision.CallID); ok {
		return []*ports.ToolCall{call}
	}
	return nil
}

// overlayPreExecution applies caller-supplied pre-execution overlays and
// synthesizes a minimal pre-state for file tools that lack one. The fallback
// covers UI/backend timing skew and is always logged.
func (e *Executor) overlayPreExecution(rt *taskRuntime, selected []*ports.ToolCall, decision *Decision) {
	for _, call := range selected {
		if flag, ok := decision.PreExecuted[call.CallID]; ok {
			call.PreExecuted = flag
		}
		if preState, ok := decision.PreStates[call.CallID]; ok && preState != nil {
			call.PreExecutionState = preState
		}

		if stream.AutoExecTools[call.Name] && call.PreExecuted && call.PreExecutionState == nil {
			e.logger.Warn("task %s: call %s marked pre-executed without state, synthesizing", rt.state.TaskID, call.CallID)
			call.PreExecutionState = e.synthesizePreState(rt, call)
		}
	}
}

func (e *Executor) synthesizePreState(rt *taskRuntime, call *ports.ToolCall) *ports.PreExecutionState {
	preState := &ports.PreExecutionState{
		ToolName:   call.Name,
		FilePath:   call.Params.GetString("file_path", ""),
		Params:     call.Params.ToMap(),
		CapturedAt: time.Now(),
	}
	if preState.FilePath != "" && rt.state.WorkspacePath != "" {
		if data, err := os.ReadFile(rt.state.WorkspacePath + "/" + preState.FilePath); err == nil {
			preState.FileExisted = true
			preState.OriginalContent = string(data)
		}
	}
	return preState
}

// rejectProposals reverts every pre-executed proposal and aborts the task.
// Revert failures are logged; the abort still completes.
func (e *Executor) rejectProposals(rt *taskRuntime, selected []*ports.ToolCall) {
	state := rt.state
	var names []string
	for _, call := range selected {
		names = append(names, call.Name)
		if call.PreExecutionState != nil && rt.engine != nil {
			if err := rt.engine.Revert(call.PreExecutionState); err != nil {
				e.logger.Error("task %s: revert of %s failed: %v", state.TaskID, call.CallID, err)
			}
		}
		rec := ports.ToolExecutionRecord{
			CallID:     call.CallID,
			ToolName:   call.Name,
			Params:     call.Params,
			Accepted:   false,
			ExecutedAt: time.Now(),
			Summary:    "rejected by user",
			Error:      "rejected by user",
		}
		if state.RecordExecution(rec) {
			e.logger.Warn("task %s: duplicate call id %s in history, overwriting", state.TaskID, call.CallID)
		}
		if rt.session != nil {
			rt.session.ToolExecution(&rec)
		}
	}

	decided := make(map[string]bool, len(selected))
	for _, call := range selected {
		decided[call.CallID] = true
	}
	state.RemovePending(decided)

	state.AgentMessage = fmt.Sprintf("Task aborted: user rejected %s", strings.Join(names, ", "))
	e.finalize(rt, ports.TaskAborted)
}

// acceptProposal executes (or synthesizes the result of) one accepted call,
// checkpoints its ops and appends the history record.
func (e *Executor) acceptProposal(rt *taskRuntime, call *ports.ToolCall) {
	state := rt.state
	result := e.executeCall(rt, call)

	e.checkpointOps(state.WorkspacePath, result)
	summary := summarizeResult(call.Name, result)

	rec := ports.ToolExecutionRecord{
		CallID:     call.CallID,
		ToolName:   call.Name,
		Params:     call.Params,
		Accepted:   true,
		ExecutedAt: time.Now(),
		Summary:    summary,
		Result:     trimResult(result),
		Ops:        trimOps(result.Ops),
		Error:      result.Error,
	}
	if state.RecordExecution(rec) {
		e.logger.Warn("task %s: duplicate call id %s in history, overwriting", state.TaskID, call.CallID)
	}
	state.ToolCallCount++
	e.metrics.ToolExecuted(call.Name, result.Status)

	if plan, ok := result.Metadata["plan"].(*ports.ExecutionPlan); ok {
		state.Plan = plan
	}

	if rt.session != nil {
		rt.session.ToolExecution(&rec)
	}
	rt.emitter(ports.Event{
		Kind:     ports.EventToolExecution,
		TaskID:   state.TaskID,
		DomainID: state.DomainID,
		Payload: map[string]any{
			"call_id": call.CallID,
			"tool":    call.Name,
			"status":  result.Status,
			"summary": summary,
			"error":   result.Error,
		},
		Timestamp: time.Now(),
	})
	e.emitState(rt)
	state.AppendSnapshot()
}

// executeCall produces the call's result. Auto-executed calls are never
// re-run: re-applying an edit on top of its own output would double-apply it,
// so a missing speculative result becomes an error result instead.
func (e *Executor) executeCall(rt *taskRuntime, call *ports.ToolCall) *ports.ToolResult {
	if stream.AutoExecTools[call.Name] && call.PreExecuted {
		if rt.engine != nil {
			if result := rt.engine.Result(call.CallID); result != nil {
				return result
			}
		}
		return &ports.ToolResult{
			CallID:     call.CallID,
			Status:     "error",
			Error:      fmt.Sprintf("no pre-executed result recorded for %s", call.CallID),
			Suggestion: "repropose the tool call",
			ErrorType:  "pre_execution_synthesis_error",
		}
	}

	tool, err := e.tools.Get(call.Name)
	if err != nil {
		return &ports.ToolResult{
			CallID:    call.CallID,
			Status:    "error",
			Error:     err.Error(),
			ErrorType: "unknown_tool",
		}
	}
	result, err := tool.Execute(rt.ctx, call)
	if err != nil {
		// Tool failures are data for the next iteration, never exceptions.
		return &ports.ToolResult{
			CallID:     call.CallID,
			Status:     "error",
			Error:      err.Error(),
			Suggestion: "adjust the parameters and retry",
			ErrorType:  "tool_execution_error",
		}
	}
	if result == nil {
		result = &ports.ToolResult{CallID: call.CallID, Status: "success"}
	}
	return result
}

// checkpointOps saves before/after checkpoints for each file op. Byte-equal
// before/after pairs are skipped entirely. Checkpoint failures never fail the
// enclosing tool call.
func (e *Executor) checkpointOps(workspace string, result *ports.ToolResult) {
	if e.checkpoints == nil {
		return
	}
	for i := range result.Ops {
		op := &result.Ops[i]
		if op.Before == op.After {
			continue
		}
		if before, created, err := e.checkpoints.Save(workspace, op.Path, op.Before, op.Type); err == nil {
			op.BeforeCheckpointID = before.ID
			op.BeforeCheckpointCreated = created
		} else {
			e.logger.Warn("before-checkpoint for %s failed: %v", op.Path, err)
		}
		if after, created, err := e.checkpoints.Save(workspace, op.Path, op.After, op.Type); err == nil {
			op.AfterCheckpointID = after.ID
			op.AfterCheckpointCreated = created
		} else {
			e.logger.Warn("after-checkpoint for %s failed: %v", op.Path, err)
		}
	}
}

// largeResultFields are dropped from history records; the full content lives
// in checkpoints and events, not in the prompt-rendered history.
var largeResultFields = []string{"before", "after", "diff", "patch", "content", "raw", "original_content"}

func trimResult(result *ports.ToolResult) map[string]any {
	out := map[string]any{
		"status": result.Status,
	}
	if result.Error != "" {
		out["error"] = result.Error
		out["error_type"] = result.ErrorType
		if result.Suggestion != "" {
			out["suggestion"] = result.Suggestion
		}
	}
	if len(result.Metadata) > 0 {
		metadata := make(map[string]any, len(result.Metadata))
		for k, v := range result.Metadata {
			metadata[k] = v
		}
		for _, field := range largeResultFields {
			delete(metadata, field)
		}
		out["metadata"] = metadata
	}
	if len(result.Payload) > 0 {
		payload := make(map[string]any, len(result.Payload))
		for k, v := range result.Payload {
			payload[k] = v
		}
		for _, field := range largeResultFields {
			delete(payload, field)
		}
		if len(payload) > 0 {
			out["payload"] = payload
		}
	}
	return out
}

func trimOps(ops []ports.FileOp) []ports.FileOp {
	if len(ops) == 0 {
		return nil
	}
	trimmed := make([]ports.FileOp, len(ops))
	for i, op := range ops {
		op.Before = ""
		op.After = ""
		op.Diff = ""
		trimmed[i] = op
	}
	return trimmed
}

// summarizeResult renders the short type-aware line stored in history and
// shown in the session log.
func summarizeResult(tool string, result *ports.ToolResult) string {
	if result.Error != "" {
		return fmt.Sprintf("%s failed: %s", tool, result.Error)
	}
	switch tool {
	case "file.read":
		if summary, ok := result.Payload["summary"].(string); ok {
			return summary
		}
		if result.Status == "duplicate" {
			return result.Content
		}
	case "file.write", "file.edit":
		return result.Content
	}
	if result.Content != "" {
		if len(result.Content) > 160 {
			return result.Content[:160] + "..."
		}
		return result.Content
	}
	if len(result.Payload) > 0 {
		if data, err := json.Marshal(result.Payload); err == nil && len(data) <= 160 {
			return string(data)
		}
	}
	return result.Status
}

func callIDs(calls []*ports.ToolCall) []string {
	ids := make([]string, len(calls))
	for i, call := range calls {
		ids[i] = call.CallID
	}
	return ids
}
