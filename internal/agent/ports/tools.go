package ports

import (
	"context"
	"time"
)

// Effect tags a tool's side-effect surface.
type Effect string

const (
	EffectNet     Effect = "net"
	EffectDisk    Effect = "disk"
	EffectExec    Effect = "exec"
	EffectContext Effect = "context"
)

// ProcessingMode distinguishes inline tools from slow async ones.
type ProcessingMode string

const (
	ProcessingInline ProcessingMode = "inline"
	ProcessingAsync  ProcessingMode = "async"
)

// ParamSpec declares one named parameter of a tool.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, integer, number, boolean, object, array
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// ToolDefinition is the declarative description consumed by the registry, the
// parser (for typing) and the prompt builder (for the catalog).
type ToolDefinition struct {
	Name        string      `json:"name"`
	Version     string      `json:"version,omitempty"`
	Description string      `json:"description"`
	Effects     []Effect    `json:"effects,omitempty"`
	Params      []ParamSpec `json:"params"`
	OutputDesc  string      `json:"output_desc,omitempty"`
	Processing  ProcessingMode `json:"processing,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"` // async tools only
}

// ParamSpecFor returns the declared spec for a parameter name.
func (d ToolDefinition) ParamSpecFor(name string) (ParamSpec, bool) {
	for _, spec := range d.Params {
		if spec.Name == name {
			return spec, true
		}
	}
	return ParamSpec{}, false
}

// ToolExecutor executes a single tool call.
type ToolExecutor interface {
	Execute(ctx context.Context, call *ToolCall) (*ToolResult, error)
	Definition() ToolDefinition
}

// ToolCall is one parsed tool proposal within a task.
type ToolCall struct {
	CallID      string    `json:"call_id"`
	Name        string    `json:"name"`
	Params      Params    `json:"params"`
	Reason      string    `json:"reason,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// PreExecuted marks calls already applied to disk during streaming.
	// A pre-executed call always carries the state needed to revert it.
	PreExecuted       bool               `json:"pre_executed,omitempty"`
	PreExecutionState *PreExecutionState `json:"pre_execution_state,omitempty"`

	TaskID        string `json:"task_id,omitempty"`
	WorkspacePath string `json:"-"`
}

// PreExecutionState captures everything needed to undo a speculative edit.
type PreExecutionState struct {
	ToolName        string         `json:"tool_name"`
	FilePath        string         `json:"file_path"` // workspace-relative, posix
	FileExisted     bool           `json:"file_existed"`
	OriginalContent string         `json:"original_content"`
	Params          map[string]any `json:"params"` // resolved params, single source of truth for revert
	CreatedDirs     []string       `json:"created_dirs,omitempty"`
	CapturedAt      time.Time      `json:"captured_at"`
}

// FileOp describes one filesystem mutation performed by a tool.
type FileOp struct {
	Type         string `json:"type"` // file_write, file_edit, notebook_edit
	Path         string `json:"path"`
	EditMode     string `json:"edit_mode,omitempty"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Before       string `json:"before,omitempty"`
	After        string `json:"after,omitempty"`
	Diff         string `json:"diff,omitempty"`
	PreExecuted  bool   `json:"pre_executed,omitempty"`

	BeforeCheckpointID      string `json:"before_checkpoint_id,omitempty"`
	AfterCheckpointID       string `json:"after_checkpoint_id,omitempty"`
	BeforeCheckpointCreated bool   `json:"before_checkpoint_created,omitempty"`
	AfterCheckpointCreated  bool   `json:"after_checkpoint_created,omitempty"`
}

// ToolResult is the structured outcome of one tool execution.
type ToolResult struct {
	CallID   string         `json:"call_id"`
	Status   string         `json:"status"` // success, error, duplicate
	Content  string         `json:"content,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Ops      []FileOp       `json:"ops,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	Error      string `json:"error,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	ErrorType  string `json:"error_type,omitempty"`
}

// Failed reports whether the result carries an error.
func (r *ToolResult) Failed() bool {
	return r != nil && r.Error != ""
}

// ToolExecutionRecord is one append-only history entry for a task.
type ToolExecutionRecord struct {
	CallID     string         `json:"call_id"`
	ToolName   string         `json:"tool_name"`
	Params     Params         `json:"params"`
	Accepted   bool           `json:"accepted"`
	ExecutedAt time.Time      `json:"executed_at"`
	Summary    string         `json:"summary,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Ops        []FileOp       `json:"ops,omitempty"`
	Error      string         `json:"error,omitempty"`
}
