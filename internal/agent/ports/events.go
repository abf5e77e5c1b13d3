package ports

import "time"

// EventKind enumerates the envelope kinds delivered to the UI callback.
type EventKind string

const (
	EventState             EventKind = "state"
	EventToolExecution     EventKind = "tool_execution"
	EventCoderStream       EventKind = "coder_stream"
	EventCoderFileOp       EventKind = "coder_file_operation"
	EventCoderFileRevert   EventKind = "coder_file_revert"
	EventRetryNotification EventKind = "retry_notification"
)

// Event is the envelope delivered through a task's event callback.
type Event struct {
	Kind      EventKind      `json:"event_kind"`
	TaskID    string         `json:"task_id"`
	DomainID  string         `json:"domain_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventEmitter is the single opaque callback supplied at task creation.
// Implementations must never let a panic escape into the state machine.
type EventEmitter func(Event)
