package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"loom/internal/agent/ports"
	"loom/internal/shared/id"
	"loom/internal/shared/logging"
)

const (
	defaultExecTimeout = 120 * time.Second
	maxExecOutput      = 64 * 1024
)

// JobState is the lifecycle of one background command.
type JobState string

const (
	JobRunning  JobState = "running"
	JobExited   JobState = "exited"
	JobFailed   JobState = "failed"
	JobKilled   JobState = "killed"
	JobTimedOut JobState = "timed_out"
)

type job struct {
	ID        string
	Command   string
	State     JobState
	ExitCode  int
	StartedAt time.Time
	EndedAt   time.Time

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout syncBuffer
	stderr syncBuffer
	done   chan struct{}
}

// syncBuffer makes captured output safe to read while the command writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// JobManager owns the background command table shared by the system.exec
// tool family.
type JobManager struct {
	mu     sync.Mutex
	jobs   map[string]*job
	logger logging.Logger
}

// NewJobManager creates an empty job table.
func NewJobManager(logger logging.Logger) *JobManager {
	return &JobManager{jobs: make(map[string]*job), logger: logging.OrNop(logger)}
}

func (m *JobManager) start(workdir, command string, timeout time.Duration) (*job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workdir

	j := &job{
		ID:        id.NewJobID(),
		Command:   command,
		State:     JobRunning,
		StartedAt: time.Now(),
		cmd:       cmd,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	cmd.Stdout = &j.stdout
	cmd.Stderr = &j.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()

	go func() {
		err := cmd.Wait()
		cancel()

		m.mu.Lock()
		j.EndedAt = time.Now()
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			j.State = JobTimedOut
			j.ExitCode = -1
		case j.State == JobKilled:
			// kill already recorded the state
		case err != nil:
			j.State = JobFailed
			if exitErr, ok := err.(*exec.ExitError); ok {
				j.ExitCode = exitErr.ExitCode()
			} else {
				j.ExitCode = -1
			}
		default:
			j.State = JobExited
			j.ExitCode = 0
		}
		m.mu.Unlock()
		close(j.done)
		m.logger.Debug("job %s finished: %s", j.ID, j.State)
	}()
	return j, nil
}

func (m *JobManager) get(jobID string) (*job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	return j, ok
}

func (m *JobManager) kill(jobID string) error {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown job %s", jobID)
	}
	if j.State != JobRunning {
		m.mu.Unlock()
		return fmt.Errorf("job %s already %s", jobID, j.State)
	}
	j.State = JobKilled
	j.ExitCode = -1
	m.mu.Unlock()

	if j.cmd.Process != nil {
		return j.cmd.Process.Kill()
	}
	return nil
}

func (m *JobManager) list() []*job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out
}

func (m *JobManager) snapshot(j *job) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := map[string]any{
		"job_id":     j.ID,
		"command":    j.Command,
		"state":      string(j.State),
		"started_at": j.StartedAt,
		"stdout":     truncateOutput(j.stdout.String()),
		"stderr":     truncateOutput(j.stderr.String()),
	}
	if j.State != JobRunning {
		info["exit_code"] = j.ExitCode
		info["ended_at"] = j.EndedAt
	}
	return info
}

func truncateOutput(s string) string {
	if len(s) <= maxExecOutput {
		return s
	}
	return s[:maxExecOutput] + "\n... (output truncated)"
}

// NewExecTools creates the system.exec tool family over one job table.
func NewExecTools(manager *JobManager) []ports.ToolExecutor {
	return []ports.ToolExecutor{
		&execRun{jobs: manager},
		&execStatus{jobs: manager},
		&execKill{jobs: manager},
		&execList{jobs: manager},
		&execWait{jobs: manager},
	}
}

type execRun struct {
	jobs *JobManager
}

func (t *execRun) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	command := call.Params.GetString("command", "")
	if strings.TrimSpace(command) == "" {
		return errorResult(call.CallID, "missing \"command\"", "", "validation_error"), nil
	}
	timeout := time.Duration(call.Params.GetInt("timeout_seconds", int64(defaultExecTimeout/time.Second))) * time.Second
	background := call.Params.GetBool("background", false)

	j, err := t.jobs.start(call.WorkspacePath, command, timeout)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("start command: %v", err), "", "exec_error"), nil
	}

	if background {
		result := successResult(call.CallID, fmt.Sprintf("Started background job %s", j.ID))
		result.Metadata["job_id"] = j.ID
		return result, nil
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		_ = t.jobs.kill(j.ID)
		return errorResult(call.CallID, "command cancelled", "", "cancelled"), nil
	}

	info := t.jobs.snapshot(j)
	content := info["stdout"].(string)
	if stderr := info["stderr"].(string); stderr != "" {
		content += "\n[stderr]\n" + stderr
	}
	result := successResult(call.CallID, strings.TrimSpace(content))
	result.Metadata = info
	if j.State != JobExited {
		result.Status = "error"
		result.Error = fmt.Sprintf("command %s (exit code %d)", j.State, j.ExitCode)
		result.Suggestion = "inspect stderr and adjust the command"
		result.ErrorType = "exec_error"
	}
	return result, nil
}

func (t *execRun) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "system.exec",
		Version:     "1.0.0",
		Description: "Run a shell command in the workspace",
		Effects:     []ports.Effect{ports.EffectExec},
		Params: []ports.ParamSpec{
			{Name: "command", Type: "string", Description: "Shell command line", Required: true},
			{Name: "timeout_seconds", Type: "integer", Description: "Kill the command after this many seconds", Default: 120},
			{Name: "background", Type: "boolean", Description: "Return immediately with a job id"},
		},
		OutputDesc: "command output, or a job id when backgrounded",
	}
}

type execStatus struct {
	jobs *JobManager
}

func (t *execStatus) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	jobID := call.Params.GetString("job_id", "")
	j, ok := t.jobs.get(jobID)
	if !ok {
		return errorResult(call.CallID, fmt.Sprintf("unknown job %q", jobID), "use system.exec_list to see jobs", "validation_error"), nil
	}
	info := t.jobs.snapshot(j)
	result := successResult(call.CallID, fmt.Sprintf("Job %s is %s", jobID, info["state"]))
	result.Metadata = info
	return result, nil
}

func (t *execStatus) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "system.exec_status",
		Version:     "1.0.0",
		Description: "Report the state and output of a background job",
		Effects:     []ports.Effect{ports.EffectExec},
		Params: []ports.ParamSpec{
			{Name: "job_id", Type: "string", Description: "Job identifier from system.exec", Required: true},
		},
		OutputDesc: "job state with captured output",
	}
}

type execKill struct {
	jobs *JobManager
}

func (t *execKill) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	jobID := call.Params.GetString("job_id", "")
	if err := t.jobs.kill(jobID); err != nil {
		return errorResult(call.CallID, err.Error(), "", "exec_error"), nil
	}
	return successResult(call.CallID, fmt.Sprintf("Killed job %s", jobID)), nil
}

func (t *execKill) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "system.exec_kill",
		Version:     "1.0.0",
		Description: "Kill a running background job",
		Effects:     []ports.Effect{ports.EffectExec},
		Params: []ports.ParamSpec{
			{Name: "job_id", Type: "string", Description: "Job identifier from system.exec", Required: true},
		},
		OutputDesc: "status",
	}
}

type execList struct {
	jobs *JobManager
}

func (t *execList) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	jobs := t.jobs.list()
	var lines []string
	var infos []map[string]any
	for _, j := range jobs {
		info := t.jobs.snapshot(j)
		delete(info, "stdout")
		delete(info, "stderr")
		infos = append(infos, info)
		lines = append(lines, fmt.Sprintf("%s %s %s", j.ID, info["state"], j.Command))
	}
	content := strings.Join(lines, "\n")
	if content == "" {
		content = "No jobs"
	}
	result := successResult(call.CallID, content)
	result.Payload = map[string]any{"jobs": infos}
	return result, nil
}

func (t *execList) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "system.exec_list",
		Version:     "1.0.0",
		Description: "List all background jobs and their states",
		Effects:     []ports.Effect{ports.EffectExec},
		Params:      []ports.ParamSpec{},
		OutputDesc:  "job table",
	}
}

type execWait struct {
	jobs *JobManager
}

func (t *execWait) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	jobID := call.Params.GetString("job_id", "")
	j, ok := t.jobs.get(jobID)
	if !ok {
		return errorResult(call.CallID, fmt.Sprintf("unknown job %q", jobID), "use system.exec_list to see jobs", "validation_error"), nil
	}

	waitSeconds := call.Params.GetInt("timeout_seconds", 60)
	select {
	case <-j.done:
	case <-time.After(time.Duration(waitSeconds) * time.Second):
		return errorResult(call.CallID, fmt.Sprintf("job %s still running after %ds", jobID, waitSeconds), "poll with system.exec_status or raise timeout_seconds", "timeout"), nil
	case <-ctx.Done():
		return errorResult(call.CallID, "wait cancelled", "", "cancelled"), nil
	}

	info := t.jobs.snapshot(j)
	result := successResult(call.CallID, fmt.Sprintf("Job %s finished: %s", jobID, info["state"]))
	result.Metadata = info
	return result, nil
}

func (t *execWait) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "system.exec_wait",
		Version:     "1.0.0",
		Description: "Block until a background job finishes",
		Effects:     []ports.Effect{ports.EffectExec},
		Params: []ports.ParamSpec{
			{Name: "job_id", Type: "string", Description: "Job identifier from system.exec", Required: true},
			{Name: "timeout_seconds", Type: "integer", Description: "Give up waiting after this many seconds", Default: 60},
		},
		OutputDesc: "final job state with captured output",
	}
}
