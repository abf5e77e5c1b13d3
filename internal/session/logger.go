// Package session writes the per-task session log: one append-only text
// file per task recording iterations, proposals, executions and outcome.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"loom/internal/agent/ports"
	"loom/internal/shared/logging"
)

// Logger is the per-task session log. All methods are safe for concurrent
// use and become no-ops after Close.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	taskID string
	path   string
	logger logging.Logger
}

// NewLogger opens the session log for a task under baseDir.
func NewLogger(baseDir, taskID string, logger logging.Logger) (*Logger, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, baseDir[2:])
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	path := filepath.Join(baseDir, fmt.Sprintf("%s.log", taskID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	return &Logger{
		file:   file,
		taskID: taskID,
		path:   path,
		logger: logging.OrNop(logger),
	}, nil
}

// Path returns the on-disk location of the log file.
func (l *Logger) Path() string {
	return l.path
}

// Start records the session header.
func (l *Logger) Start(domainID, request string) {
	l.writeLine("SESSION START domain=%s", domainID)
	l.writeLine("REQUEST %s", compact(request))
}

// IterationStart marks the beginning of one iteration.
func (l *Logger) IterationStart(n int) {
	l.writeLine("ITERATION %d START", n)
}

// IterationEnd marks the end of one iteration with its resulting status.
func (l *Logger) IterationEnd(n int, status string) {
	l.writeLine("ITERATION %d END status=%s", n, status)
}

// AgentMessage records the agent's streamed message for an iteration.
func (l *Logger) AgentMessage(message string) {
	if message == "" {
		return
	}
	l.writeLine("MESSAGE %s", compact(message))
}

// ToolProposal records one parsed tool call awaiting decision.
func (l *Logger) ToolProposal(call *ports.ToolCall) {
	l.writeLine("PROPOSAL call_id=%s tool=%s reason=%s", call.CallID, call.Name, compact(call.Reason))
}

// ToolExecution records one decided and executed tool call.
func (l *Logger) ToolExecution(record *ports.ToolExecutionRecord) {
	line := fmt.Sprintf("EXECUTION call_id=%s tool=%s accepted=%t summary=%s",
		record.CallID, record.ToolName, record.Accepted, compact(record.Summary))
	if record.Error != "" {
		line += " error=" + compact(record.Error)
	}
	l.writeLine("%s", line)
}

// Warn records a recoverable anomaly.
func (l *Logger) Warn(format string, args ...any) {
	l.writeLine("WARN "+format, args...)
}

// Error records a failure.
func (l *Logger) Error(format string, args ...any) {
	l.writeLine("ERROR "+format, args...)
}

// End records the terminal outcome and closes the log.
func (l *Logger) End(finalStatus string, iterations, toolCalls int, output string) {
	l.writeLine("SESSION END status=%s iterations=%d tool_calls=%d", finalStatus, iterations, toolCalls)
	if output != "" {
		l.writeLine("OUTPUT %s", compact(output))
	}
	l.Close()
}

// Close releases the underlying file. Safe to call more than once.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	if err := l.file.Close(); err != nil {
		l.logger.Warn("close session log %s: %v", l.path, err)
	}
	l.file = nil
}

func (l *Logger) writeLine(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	line := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	if _, err := l.file.WriteString(line); err != nil {
		l.logger.Warn("write session log %s: %v", l.path, err)
	}
}

// compact flattens multi-line text into a single log-friendly line.
func compact(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 500 {
		text = text[:500] + "..."
	}
	return strings.ReplaceAll(text, "\n", "\\n")
}

// SafeEmitter wraps an event callback so panics never reach the state
// machine, and mirrors every event into the debug log.
func SafeEmitter(emitter ports.EventEmitter, logger logging.Logger) ports.EventEmitter {
	logger = logging.OrNop(logger)
	return func(event ports.Event) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("event callback panicked on %s: %v", event.Kind, r)
			}
		}()
		if emitter != nil {
			emitter(event)
		}
	}
}

// MarshalEvent renders an event for transports that need JSON framing.
func MarshalEvent(event ports.Event) ([]byte, error) {
	return json.Marshal(event)
}
