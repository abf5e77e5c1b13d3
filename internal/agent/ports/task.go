package ports

import "time"

// TaskStatus is the lifecycle state of an active task.
type TaskStatus string

const (
	TaskRunning           TaskStatus = "running"
	TaskWaitingUser       TaskStatus = "waiting_user"
	TaskAwaitContinuation TaskStatus = "await_continuation"
	TaskCompleted         TaskStatus = "completed"
	TaskFailed            TaskStatus = "failed"
	TaskAborted           TaskStatus = "aborted"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskAborted:
		return true
	default:
		return false
	}
}

// HistoryMessage is one persisted chat turn fed into the prompt builder.
// The engine never writes the chat store; it only consumes this shape.
type HistoryMessage struct {
	Role          string   `json:"role"` // user, assistant, system, tool
	Content       string   `json:"content"`
	AttachedFiles []string `json:"attachedFiles,omitempty"`
}

// ContextSnapshot is a bounded point-in-time record of task progress.
type ContextSnapshot struct {
	Iteration    int        `json:"iteration"`
	Status       TaskStatus `json:"status"`
	AgentMessage string     `json:"agent_message,omitempty"`
	ToolCalls    int        `json:"tool_calls"`
	TakenAt      time.Time  `json:"taken_at"`
}

// MaxContextSnapshots bounds the snapshot ring per task.
const MaxContextSnapshots = 20

// TaskState is the single mutable record for one active task. Mutations are
// serialized by the task's action loop; nothing outside that loop writes it.
type TaskState struct {
	// Immutable identity.
	TaskID        string `json:"task_id"`
	ChatID        string `json:"chat_id"`
	DomainID      string `json:"domain_id"`
	AgentID       string `json:"agent_id"`
	Request       string `json:"request"`
	WorkspacePath string `json:"workspace_path,omitempty"`

	// Evolving state.
	Status        TaskStatus            `json:"status"`
	Iteration     int                   `json:"iteration"`
	ToolCallCount int                   `json:"tool_call_count"`
	AgentMessage  string                `json:"agent_message,omitempty"`
	LastResponse  string                `json:"last_response,omitempty"`
	Plan          *ExecutionPlan        `json:"plan,omitempty"`
	CodeSpec      string                `json:"code_spec,omitempty"`
	Pending       []*ToolCall           `json:"pending,omitempty"`
	History       []ToolExecutionRecord `json:"history,omitempty"`
	Snapshots     []ContextSnapshot     `json:"snapshots,omitempty"`
	Metadata      map[string]any        `json:"metadata,omitempty"`

	// DeferredCompletion holds the closing message when COMPLETE arrived
	// together with tool calls; completion waits until all are decided.
	DeferredCompletion *string `json:"deferred_completion,omitempty"`

	ChatHistory   []HistoryMessage `json:"-"`
	AttachedFiles []string         `json:"-"`
	Budget        int              `json:"budget,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppendSnapshot records progress, keeping only the most recent entries.
func (t *TaskState) AppendSnapshot() {
	t.Snapshots = append(t.Snapshots, ContextSnapshot{
		Iteration:    t.Iteration,
		Status:       t.Status,
		AgentMessage: t.AgentMessage,
		ToolCalls:    t.ToolCallCount,
		TakenAt:      time.Now(),
	})
	if len(t.Snapshots) > MaxContextSnapshots {
		t.Snapshots = t.Snapshots[len(t.Snapshots)-MaxContextSnapshots:]
	}
}

// RecordExecution appends rec to history, replacing an existing record with
// the same call id. It reports whether a replacement happened.
func (t *TaskState) RecordExecution(rec ToolExecutionRecord) (replaced bool) {
	for i := range t.History {
		if t.History[i].CallID == rec.CallID {
			t.History[i] = rec
			return true
		}
	}
	t.History = append(t.History, rec)
	return false
}

// PendingCall returns the pending proposal with the given call id.
func (t *TaskState) PendingCall(callID string) (*ToolCall, bool) {
	for _, call := range t.Pending {
		if call.CallID == callID {
			return call, true
		}
	}
	return nil, false
}

// RemovePending drops the listed call ids from the pending set.
func (t *TaskState) RemovePending(callIDs map[string]bool) {
	kept := t.Pending[:0]
	for _, call := range t.Pending {
		if !callIDs[call.CallID] {
			kept = append(kept, call)
		}
	}
	t.Pending = kept
}

// Domain describes one agent domain: its allowlisted tools and instructions.
type Domain struct {
	ID                    string   `json:"id"`
	AgentID               string   `json:"agent_id"`
	Tools                 []string `json:"tools"`
	BaseInstructions      string   `json:"base_instructions,omitempty"`
	PlanningInstructions  string   `json:"planning_instructions,omitempty"`
	ExecutionInstructions string   `json:"execution_instructions,omitempty"`
	// RequireToolUse rejects COMPLETE when no tool has executed (coder).
	RequireToolUse bool `json:"require_tool_use,omitempty"`
}

// Allows reports whether the domain allowlists the tool name.
func (d *Domain) Allows(tool string) bool {
	for _, name := range d.Tools {
		if name == tool {
			return true
		}
	}
	return false
}
