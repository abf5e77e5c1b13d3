package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/agent"
	"loom/internal/agent/ports"
	"loom/internal/agent/taskregistry"
	"loom/internal/checkpoint"
	"loom/internal/errors"
	"loom/internal/metrics"
	"loom/internal/shared/config"
	"loom/internal/tools/builtin"
	"loom/internal/toolregistry"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (s *scriptedLLM) CompleteStream(ctx context.Context, req ports.CompletionRequest, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	s.mu.Lock()
	if len(s.responses) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted LLM exhausted")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	s.calls++
	s.mu.Unlock()

	if callbacks.OnAnswerDelta != nil {
		for chunk := next; chunk != ""; {
			n := 11
			if n > len(chunk) {
				n = len(chunk)
			}
			callbacks.OnAnswerDelta(chunk[:n])
			chunk = chunk[n:]
		}
	}
	return &ports.CompletionResponse{Content: next}, nil
}

func (s *scriptedLLM) Model() string { return "scripted" }

type fixture struct {
	server    *httptest.Server
	registry  *taskregistry.Registry
	workspace string
}

func newFixture(t *testing.T, responses ...string) *fixture {
	t.Helper()

	tools := toolregistry.New(nil)
	builtin.RegisterAll(tools, builtin.Deps{})

	registry := taskregistry.New(taskregistry.Config{
		GraceWindow:  10 * time.Second,
		CleanupAfter: 30 * time.Second,
	}, nil)
	promRegistry := prometheus.NewRegistry()

	executor := agent.NewExecutor(agent.Config{
		MaxIterations: 10,
		Retry:         errors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
	}, agent.Deps{
		Tools:       tools,
		LLM:         &scriptedLLM{responses: responses},
		Checkpoints: checkpoint.NewStore(checkpoint.Config{}, nil),
		Registry:    registry,
		Metrics:     metrics.New(promRegistry),
	})

	workspace := t.TempDir()
	srv := New(config.ServerConfig{Addr: ":0", ShutdownTimeout: time.Second}, Deps{
		Executor: executor,
		Registry: registry,
		Gatherer: promRegistry,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, registry: registry, workspace: workspace}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (f *fixture) getJSON(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (f *fixture) awaitStatus(t *testing.T, taskID string, want ports.TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		code, body := f.getJSON(t, "/api/tasks/"+taskID)
		if code != http.StatusOK {
			return false
		}
		return body["status"] == string(want)
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s", taskID, want)
}

const writeThenAwait = `<MESSAGE>writing</MESSAGE>
<TOOL_CALL>
<TOOL>file.write</TOOL>
<REASON>create the file</REASON>
<PARAM name="file_path">out.txt</PARAM>
<PARAM name="content">hello</PARAM>
</TOOL_CALL>
<AGENT_STATUS>AWAIT_TOOL</AGENT_STATUS>`

const plainComplete = `<MESSAGE>done</MESSAGE>
<AGENT_STATUS>COMPLETE</AGENT_STATUS>`

func TestCreateTaskAndApprove(t *testing.T) {
	f := newFixture(t, writeThenAwait, plainComplete)

	code, created := f.postJSON(t, "/api/tasks", map[string]any{
		"domain_id":      "coder",
		"request":        "write out.txt",
		"workspace_path": f.workspace,
	})
	require.Equal(t, http.StatusAccepted, code)
	taskID := created["task_id"].(string)
	require.NotEmpty(t, taskID)

	f.awaitStatus(t, taskID, ports.TaskWaitingUser)

	// The speculative write already landed on disk.
	data, err := os.ReadFile(filepath.Join(f.workspace, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, body := f.getJSON(t, "/api/tasks/"+taskID)
	pending := body["pending"].([]any)
	require.Len(t, pending, 1)
	callID := pending[0].(map[string]any)["call_id"].(string)

	code, decision := f.postJSON(t, "/api/tasks/"+taskID+"/decision", map[string]any{
		"call_id": callID,
		"accept":  true,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, taskID, decision["task_id"])

	// After acceptance the follow-up iteration completes the task and the
	// registry answers from the recently-completed set.
	require.Eventually(t, func() bool {
		_, body := f.getJSON(t, "/api/tasks/"+taskID)
		return body["status"] == string(ports.TaskCompleted)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRejectAbortsAndReverts(t *testing.T) {
	f := newFixture(t, writeThenAwait)

	_, created := f.postJSON(t, "/api/tasks", map[string]any{
		"domain_id":      "coder",
		"request":        "write out.txt",
		"workspace_path": f.workspace,
	})
	taskID := created["task_id"].(string)
	f.awaitStatus(t, taskID, ports.TaskWaitingUser)

	code, _ := f.postJSON(t, "/api/tasks/"+taskID+"/decision", map[string]any{
		"call_id": agent.BatchAllCallID,
		"accept":  false,
	})
	require.Equal(t, http.StatusOK, code)

	_, err := os.Stat(filepath.Join(f.workspace, "out.txt"))
	assert.True(t, os.IsNotExist(err), "rejected speculative write must be reverted")

	_, body := f.getJSON(t, "/api/tasks/"+taskID)
	assert.Equal(t, string(ports.TaskAborted), body["status"])
}

func TestStaleDecisionIsBenign(t *testing.T) {
	f := newFixture(t, plainComplete)

	_, created := f.postJSON(t, "/api/tasks", map[string]any{
		"domain_id": "assistant",
		"request":   "say hi",
	})
	taskID := created["task_id"].(string)

	require.Eventually(t, func() bool {
		_, body := f.getJSON(t, "/api/tasks/"+taskID)
		return body["status"] == string(ports.TaskCompleted)
	}, 5*time.Second, 10*time.Millisecond)

	code, body := f.postJSON(t, "/api/tasks/"+taskID+"/decision", map[string]any{
		"call_id": "anything",
		"accept":  true,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["stale_request"])
}

func TestUnknownTaskAndDomain(t *testing.T) {
	f := newFixture(t)

	code, _ := f.getJSON(t, "/api/tasks/nope")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.postJSON(t, "/api/tasks/nope/decision", map[string]any{"call_id": "x", "accept": true})
	assert.Equal(t, http.StatusNotFound, code)

	code, body := f.postJSON(t, "/api/tasks", map[string]any{"domain_id": "bogus", "request": "hi"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "unknown domain")
}

func TestAbortEndpoint(t *testing.T) {
	f := newFixture(t, writeThenAwait)

	_, created := f.postJSON(t, "/api/tasks", map[string]any{
		"domain_id":      "coder",
		"request":        "write out.txt",
		"workspace_path": f.workspace,
	})
	taskID := created["task_id"].(string)
	f.awaitStatus(t, taskID, ports.TaskWaitingUser)

	code, _ := f.postJSON(t, "/api/tasks/"+taskID+"/abort", map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusAccepted, code)

	require.Eventually(t, func() bool {
		_, body := f.getJSON(t, "/api/tasks/"+taskID)
		return body["status"] == string(ports.TaskAborted)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t, plainComplete)

	code, body := f.getJSON(t, "/api/health")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	_, created := f.postJSON(t, "/api/tasks", map[string]any{"domain_id": "assistant", "request": "hi"})
	taskID := created["task_id"].(string)
	require.Eventually(t, func() bool {
		_, body := f.getJSON(t, "/api/tasks/"+taskID)
		return body["status"] == string(ports.TaskCompleted)
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "loom_tasks_started_total")
}

func TestHubBacklogReplay(t *testing.T) {
	h := newHub(nil)
	for i := 0; i < 3; i++ {
		h.Emit(ports.Event{Kind: ports.EventState, TaskID: "t1", Payload: map[string]any{"n": i}})
	}
	h.Emit(ports.Event{Kind: ports.EventState, TaskID: "t2"})

	events, cancel := h.Subscribe("t1")
	defer cancel()

	for i := 0; i < 3; i++ {
		select {
		case event := <-events:
			assert.Equal(t, "t1", event.TaskID)
		case <-time.After(time.Second):
			t.Fatalf("backlog event %d not replayed", i)
		}
	}
	select {
	case event := <-events:
		t.Fatalf("unexpected extra event %+v", event)
	default:
	}
}
