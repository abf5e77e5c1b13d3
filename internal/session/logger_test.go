package session

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/agent/ports"
)

func TestSessionLogLifecycle(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, "task-abc", nil)
	require.NoError(t, err)

	l.Start("coder", "build me a thing\nwith details")
	l.IterationStart(1)
	l.ToolProposal(&ports.ToolCall{CallID: "c1", Name: "file.write", Reason: "create"})
	l.ToolExecution(&ports.ToolExecutionRecord{CallID: "c1", ToolName: "file.write", Accepted: true, Summary: "Successfully wrote to a.txt"})
	l.IterationEnd(1, "waiting_user")
	l.End("completed", 1, 1, "done")

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	log := string(data)

	assert.Contains(t, log, "SESSION START domain=coder")
	assert.Contains(t, log, `REQUEST build me a thing\nwith details`)
	assert.Contains(t, log, "ITERATION 1 START")
	assert.Contains(t, log, "PROPOSAL call_id=c1 tool=file.write")
	assert.Contains(t, log, "EXECUTION call_id=c1 tool=file.write accepted=true")
	assert.Contains(t, log, "SESSION END status=completed iterations=1 tool_calls=1")
}

func TestWritesAfterCloseAreNoOps(t *testing.T) {
	l, err := NewLogger(t.TempDir(), "task-x", nil)
	require.NoError(t, err)
	l.Close()
	l.Close()
	l.AgentMessage("should not panic")
}

func TestExecutionWithError(t *testing.T) {
	l, err := NewLogger(t.TempDir(), "task-y", nil)
	require.NoError(t, err)
	l.ToolExecution(&ports.ToolExecutionRecord{CallID: "c2", ToolName: "file.edit", Error: "text not found"})
	l.Close()

	data, _ := os.ReadFile(l.Path())
	assert.Contains(t, string(data), "error=text not found")
}

func TestSafeEmitterSwallowsPanics(t *testing.T) {
	emit := SafeEmitter(func(ports.Event) { panic("ui died") }, nil)
	assert.NotPanics(t, func() {
		emit(ports.Event{Kind: ports.EventState})
	})
}

func TestCompactTruncatesLongText(t *testing.T) {
	got := compact(strings.Repeat("a", 600))
	assert.Len(t, got, 503)
	assert.True(t, strings.HasSuffix(got, "..."))
}
