package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecForeground(t *testing.T) {
	tools := NewExecTools(NewJobManager(nil))
	run := tools[0]

	result, err := run.Execute(context.Background(),
		newCall(t.TempDir(), "system.exec", "command", "echo hello"))
	require.NoError(t, err)
	require.Equal(t, "success", result.Status)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, 0, result.Metadata["exit_code"])
}

func TestExecForegroundFailure(t *testing.T) {
	tools := NewExecTools(NewJobManager(nil))
	run := tools[0]

	result, err := run.Execute(context.Background(),
		newCall(t.TempDir(), "system.exec", "command", "exit 3"))
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.Equal(t, "exec_error", result.ErrorType)
	assert.Equal(t, 3, result.Metadata["exit_code"])
}

func TestExecBackgroundLifecycle(t *testing.T) {
	manager := NewJobManager(nil)
	tools := NewExecTools(manager)
	run, status, wait := tools[0], tools[1], tools[4]
	ctx := context.Background()
	ws := t.TempDir()

	result, err := run.Execute(ctx, newCall(ws, "system.exec",
		"command", "sleep 0.1 && echo done", "background", true))
	require.NoError(t, err)
	require.Equal(t, "success", result.Status)
	jobID, ok := result.Metadata["job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)

	statusResult, err := status.Execute(ctx, newCall(ws, "system.exec_status", "job_id", jobID))
	require.NoError(t, err)
	assert.Equal(t, "success", statusResult.Status)

	waitResult, err := wait.Execute(ctx, newCall(ws, "system.exec_wait",
		"job_id", jobID, "timeout_seconds", 10))
	require.NoError(t, err)
	require.Equal(t, "success", waitResult.Status)
	assert.Equal(t, string(JobExited), waitResult.Metadata["state"])
	assert.Contains(t, waitResult.Metadata["stdout"], "done")
}

func TestExecKill(t *testing.T) {
	manager := NewJobManager(nil)
	tools := NewExecTools(manager)
	run, kill := tools[0], tools[2]
	ctx := context.Background()
	ws := t.TempDir()

	result, err := run.Execute(ctx, newCall(ws, "system.exec",
		"command", "sleep 30", "background", true))
	require.NoError(t, err)
	jobID := result.Metadata["job_id"].(string)

	killResult, err := kill.Execute(ctx, newCall(ws, "system.exec_kill", "job_id", jobID))
	require.NoError(t, err)
	assert.Equal(t, "success", killResult.Status)

	j, ok := manager.get(jobID)
	require.True(t, ok)
	select {
	case <-j.done:
	case <-time.After(5 * time.Second):
		t.Fatal("killed job did not settle")
	}
	assert.Equal(t, JobKilled, j.State)
}

func TestExecTimeout(t *testing.T) {
	tools := NewExecTools(NewJobManager(nil))
	run := tools[0]

	result, err := run.Execute(context.Background(),
		newCall(t.TempDir(), "system.exec", "command", "sleep 30", "timeout_seconds", 1))
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.Equal(t, string(JobTimedOut), result.Metadata["state"])
}

func TestExecList(t *testing.T) {
	manager := NewJobManager(nil)
	tools := NewExecTools(manager)
	run, list := tools[0], tools[3]
	ctx := context.Background()
	ws := t.TempDir()

	empty, err := list.Execute(ctx, newCall(ws, "system.exec_list"))
	require.NoError(t, err)
	assert.Equal(t, "No jobs", empty.Content)

	_, err = run.Execute(ctx, newCall(ws, "system.exec", "command", "true"))
	require.NoError(t, err)

	listed, err := list.Execute(ctx, newCall(ws, "system.exec_list"))
	require.NoError(t, err)
	assert.Contains(t, listed.Content, "true")
}

func TestExecUnknownJob(t *testing.T) {
	tools := NewExecTools(NewJobManager(nil))
	status := tools[1]

	result, err := status.Execute(context.Background(),
		newCall(t.TempDir(), "system.exec_status", "job_id", "nope"))
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
}
