package approval

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/agent/ports"
)

func promptCall() *ports.ToolCall {
	call := &ports.ToolCall{CallID: "auto_exec_iter1_tool0", Name: "file.write", Reason: "create config"}
	call.Params = call.Params.Set("path", ports.StringValue("a.txt"))
	call.Params = call.Params.Set("content", ports.StringValue("hello"))
	return call
}

func newTestApprover(input string, timeout time.Duration) (*InteractiveApprover, *bytes.Buffer) {
	out := &bytes.Buffer{}
	a := NewInteractiveApprover(timeout, false, false)
	a.in = strings.NewReader(input)
	a.out = out
	return a, out
}

func TestDecideAccept(t *testing.T) {
	a, out := newTestApprover("y\n", 0)
	verdict, err := a.Decide(context.Background(), promptCall())
	require.NoError(t, err)
	assert.True(t, verdict.Accept)
	assert.False(t, verdict.Batch)
	assert.Contains(t, out.String(), "file.write")
	assert.Contains(t, out.String(), "create config")
}

func TestDecideRejectOnEmptyInput(t *testing.T) {
	a, _ := newTestApprover("\n", 0)
	verdict, err := a.Decide(context.Background(), promptCall())
	require.NoError(t, err)
	assert.False(t, verdict.Accept)
}

func TestDecideBatchVerdicts(t *testing.T) {
	a, _ := newTestApprover("a\n", 0)
	verdict, err := a.Decide(context.Background(), promptCall())
	require.NoError(t, err)
	assert.True(t, verdict.Accept)
	assert.True(t, verdict.Batch)

	a, _ = newTestApprover("r\n", 0)
	verdict, err = a.Decide(context.Background(), promptCall())
	require.NoError(t, err)
	assert.False(t, verdict.Accept)
	assert.True(t, verdict.Batch)
}

func TestDecideRepromptsOnInvalidInput(t *testing.T) {
	a, out := newTestApprover("maybe\ny\n", 0)
	verdict, err := a.Decide(context.Background(), promptCall())
	require.NoError(t, err)
	assert.True(t, verdict.Accept)
	assert.Contains(t, out.String(), "Please answer")
}

func TestDecideTimeoutRejects(t *testing.T) {
	out := &bytes.Buffer{}
	a := NewInteractiveApprover(20*time.Millisecond, false, false)
	a.in = blockingReader{}
	a.out = out

	verdict, err := a.Decide(context.Background(), promptCall())
	require.NoError(t, err)
	assert.False(t, verdict.Accept)
	assert.Equal(t, "approval timeout", verdict.Message)
}

func TestAutoApproveSkipsPrompt(t *testing.T) {
	a := NewInteractiveApprover(0, true, false)
	a.in = blockingReader{}
	verdict, err := a.Decide(context.Background(), promptCall())
	require.NoError(t, err)
	assert.True(t, verdict.Accept)
}

func TestDecideTruncatesLongParams(t *testing.T) {
	call := promptCall()
	call.Params = call.Params.Set("content", ports.StringValue(strings.Repeat("x", 500)))
	a, out := newTestApprover("y\n", 0)
	_, err := a.Decide(context.Background(), call)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "...")
	assert.NotContains(t, out.String(), strings.Repeat("x", 500))
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}
