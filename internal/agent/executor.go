// Package agent contains the iteration driver: the state machine that turns a
// user request into model iterations, tool proposals, approvals and a final
// status. Each task is single-writer: every mutation of its state happens
// inside the task's action queue drain.
package agent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"loom/internal/agent/ports"
	"loom/internal/agent/taskregistry"
	"loom/internal/autoexec"
	"loom/internal/checkpoint"
	"loom/internal/errors"
	"loom/internal/metrics"
	"loom/internal/parser"
	"loom/internal/parser/stream"
	"loom/internal/session"
	"loom/internal/shared/id"
	"loom/internal/shared/logging"
	"loom/internal/toolregistry"
)

// DomainCoder is the domain with streaming auto-execution and a session log.
const DomainCoder = "coder"

// Config tunes the iteration driver.
type Config struct {
	// MaxIterations bounds iterations per task when the request carries no
	// budget of its own.
	MaxIterations int
	// SessionDir is where per-task session logs are written. Empty disables
	// session logging.
	SessionDir string
	Retry      errors.RetryConfig
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 30
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = errors.DefaultRetryConfig()
	}
}

// RateGate reserves model-call capacity before an attempt. Optional.
type RateGate interface {
	Reserve(ctx context.Context) error
}

// TaskRequest is the input of ExecuteTask.
type TaskRequest struct {
	Domain        *ports.Domain
	Request       string
	ChatID        string
	ChatHistory   []ports.HistoryMessage
	AttachedFiles []string
	Budget        int
	WorkspacePath string
	Metadata      map[string]any
}

// Deps are the executor's construction-time dependencies. The tool registry
// and the active-task registry are passed in explicitly so tests can isolate
// them.
type Deps struct {
	Tools       *toolregistry.Registry
	LLM         ports.StreamingLLMClient
	Checkpoints *checkpoint.Store
	Registry    *taskregistry.Registry
	Metrics     *metrics.Metrics
	RateGate    RateGate
	Logger      logging.Logger
}

// Executor drives tasks through iterations and approvals.
type Executor struct {
	config      Config
	tools       *toolregistry.Registry
	parser      *parser.Parser
	llm         ports.StreamingLLMClient
	checkpoints *checkpoint.Store
	registry    *taskregistry.Registry
	metrics     *metrics.Metrics
	rateGate    RateGate
	prompts     *promptBuilder
	logger      logging.Logger

	mu    sync.Mutex
	tasks map[string]*taskRuntime
}

// NewExecutor wires the driver.
func NewExecutor(config Config, deps Deps) *Executor {
	config.SetDefaults()
	logger := logging.OrNop(deps.Logger)
	return &Executor{
		config:      config,
		tools:       deps.Tools,
		parser:      parser.New(deps.Tools),
		llm:         deps.LLM,
		checkpoints: deps.Checkpoints,
		registry:    deps.Registry,
		metrics:     deps.Metrics,
		rateGate:    deps.RateGate,
		prompts:     newPromptBuilder(deps.Tools),
		logger:      logger,
		tasks:       make(map[string]*taskRuntime),
	}
}

// actionKind enumerates the per-task action queue entries.
type actionKind int

const (
	actionRun actionKind = iota
	actionDecision
	actionAbort
	actionContinue
)

type action struct {
	kind     actionKind
	decision *Decision
	reply    chan *DecisionResponse
	reason   string
}

// decisionReply is a reply held back until the queue drain settles, so that
// a follow-up iteration enqueued by the decision is reflected in the status.
type decisionReply struct {
	resp *DecisionResponse
	ch   chan *DecisionResponse
}

// taskRuntime is the per-task execution context. The queue plus the draining
// flag enforce the single-writer invariant: whichever goroutine finds the
// queue idle drains it, and everyone else just appends.
type taskRuntime struct {
	state   *ports.TaskState
	domain  *ports.Domain
	emitter ports.EventEmitter
	session *session.Logger
	engine  *autoexec.Engine
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	queue    []action
	draining bool
	replies  []decisionReply // only touched by the draining goroutine
}

// ExecuteTask builds a fresh task, registers it and runs iterations until the
// task parks (waiting_user) or terminates. Callers wanting fire-and-forget use
// StartTask instead; the returned state is safe to read once it parks.
func (e *Executor) ExecuteTask(ctx context.Context, req TaskRequest, emitter ports.EventEmitter) (*ports.TaskState, error) {
	rt, err := e.prepareTask(ctx, req, emitter)
	if err != nil {
		return nil, err
	}
	e.dispatch(rt, action{kind: actionRun})
	return rt.state, nil
}

// StartTask registers the task and runs its iterations on a fresh goroutine,
// returning as soon as the task exists. Progress arrives through the emitter.
func (e *Executor) StartTask(ctx context.Context, req TaskRequest, emitter ports.EventEmitter) (*ports.TaskState, error) {
	rt, err := e.prepareTask(ctx, req, emitter)
	if err != nil {
		return nil, err
	}
	go e.dispatch(rt, action{kind: actionRun})
	return rt.state, nil
}

func (e *Executor) prepareTask(ctx context.Context, req TaskRequest, emitter ports.EventEmitter) (*taskRuntime, error) {
	if req.Domain == nil {
		return nil, fmt.Errorf("task request has no domain")
	}
	if strings.TrimSpace(req.Request) == "" {
		return nil, fmt.Errorf("task request is empty")
	}

	budget := req.Budget
	if budget <= 0 {
		budget = e.config.MaxIterations
	}
	now := time.Now()
	state := &ports.TaskState{
		TaskID:        id.NewTaskID(),
		ChatID:        req.ChatID,
		DomainID:      req.Domain.ID,
		AgentID:       req.Domain.AgentID,
		Request:       req.Request,
		WorkspacePath: req.WorkspacePath,
		Status:        ports.TaskRunning,
		Budget:        budget,
		ChatHistory:   req.ChatHistory,
		AttachedFiles: req.AttachedFiles,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	safeEmitter := session.SafeEmitter(emitter, e.logger)
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := &taskRuntime{
		state:   state,
		domain:  req.Domain,
		emitter: safeEmitter,
		ctx:     taskCtx,
		cancel:  cancel,
	}
	if req.Domain.ID == DomainCoder {
		rt.engine = autoexec.NewEngine(state.TaskID, req.Domain.ID, req.WorkspacePath, safeEmitter, e.logger)
		if e.config.SessionDir != "" {
			log, err := session.NewLogger(e.config.SessionDir, state.TaskID, e.logger)
			if err != nil {
				e.logger.Warn("session log for task %s unavailable: %v", state.TaskID, err)
			} else {
				rt.session = log
				log.Start(req.Domain.ID, req.Request)
			}
		}
	}

	e.registry.Add(state)
	e.mu.Lock()
	e.tasks[state.TaskID] = rt
	e.mu.Unlock()
	e.metrics.TaskStarted()
	state.AppendSnapshot()

	e.logger.Info("task %s started: domain=%s budget=%d", state.TaskID, state.DomainID, budget)
	return rt, nil
}

// Abort is the external cancel hook. Terminal tasks are a no-op. The in-flight
// model stream is not interrupted; the abort applies once the current action
// finishes.
func (e *Executor) Abort(taskID, reason string) {
	rt := e.runtime(taskID)
	if rt == nil {
		return
	}
	e.dispatch(rt, action{kind: actionAbort, reason: reason})
}

// Continue resumes a task parked in await_continuation.
func (e *Executor) Continue(taskID string) {
	rt := e.runtime(taskID)
	if rt == nil {
		return
	}
	e.dispatch(rt, action{kind: actionContinue})
}

// Task returns the live state for an active task.
func (e *Executor) Task(taskID string) (*ports.TaskState, bool) {
	return e.registry.Get(taskID)
}

func (e *Executor) runtime(taskID string) *taskRuntime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks[taskID]
}

// dispatch appends the action and drains the queue unless another goroutine
// already is. Decision replies are flushed by the draining goroutine once
// the queue is empty, with the status the task actually settled on.
func (e *Executor) dispatch(rt *taskRuntime, act action) {
	rt.mu.Lock()
	rt.queue = append(rt.queue, act)
	if rt.draining {
		rt.mu.Unlock()
		return
	}
	rt.draining = true
	for len(rt.queue) > 0 {
		next := rt.queue[0]
		rt.queue = rt.queue[1:]
		rt.mu.Unlock()
		e.process(rt, next)
		rt.mu.Lock()
	}
	for _, held := range rt.replies {
		held.resp.Status = rt.state.Status
		held.ch <- held.resp
	}
	rt.replies = nil
	rt.draining = false
	rt.mu.Unlock()
}

func (e *Executor) process(rt *taskRuntime, act action) {
	if rt.state.Status.IsTerminal() {
		if act.reply != nil {
			act.reply <- &DecisionResponse{TaskID: rt.state.TaskID, Status: rt.state.Status, Stale: true}
		}
		return
	}
	switch act.kind {
	case actionRun:
		e.runIteration(rt)
	case actionDecision:
		// Held until the drain settles: an accept can enqueue the next
		// iteration, and its outcome belongs in the reported status.
		rt.replies = append(rt.replies, decisionReply{resp: e.applyDecision(rt, act.decision), ch: act.reply})
	case actionAbort:
		reason := act.reason
		if reason == "" {
			reason = "aborted by user"
		}
		rt.state.AgentMessage = reason
		e.finalize(rt, ports.TaskAborted)
	case actionContinue:
		if rt.state.Status == ports.TaskAwaitContinuation {
			rt.state.Status = ports.TaskRunning
			e.enqueue(rt, action{kind: actionRun})
		}
	}
}

// enqueue appends without draining; only called from inside a drain.
func (e *Executor) enqueue(rt *taskRuntime, act action) {
	rt.mu.Lock()
	rt.queue = append(rt.queue, act)
	rt.mu.Unlock()
}

var syntheticCallPattern = regexp.MustCompile(`^(?:format_error|parse_error)_iter(\d+)_`)

// runIteration is the loop body: purge, prompt, model, parse, classify.
// Corrective iterations re-enter by queueing another run action, never by
// recursion.
func (e *Executor) runIteration(rt *taskRuntime) {
	state := rt.state
	state.Iteration++
	state.Status = ports.TaskRunning
	e.metrics.Iteration()
	if rt.session != nil {
		rt.session.IterationStart(state.Iteration)
	}

	if state.Iteration > state.Budget {
		e.failTask(rt, fmt.Sprintf("iteration budget (%d) exhausted", state.Budget))
		return
	}
	e.purgeSyntheticRecords(state)

	prompt := e.prompts.Build(rt)
	e.logger.Debug("task %s iteration %d: prompt ~%d tokens", state.TaskID, state.Iteration, e.prompts.Tokens(prompt))
	response, err := e.callModel(rt, prompt)
	if err != nil {
		e.failTask(rt, fmt.Sprintf("model call failed: %v", err))
		return
	}
	state.LastResponse = response

	parsed := e.parser.Parse(response)
	if parsed.Message != "" {
		state.AgentMessage = parsed.Message
		if rt.session != nil {
			rt.session.AgentMessage(parsed.Message)
		}
	}
	if parsed.CodeSpec != "" {
		state.CodeSpec = parsed.CodeSpec
	}

	status := parsed.Status
	if status != ports.StatusAwaitTool && status != ports.StatusComplete && status != ports.StatusParseError {
		e.logger.Warn("task %s iteration %d: unexpected status %q, treating as COMPLETE", state.TaskID, state.Iteration, status)
		status = ports.StatusComplete
		parsed.ToolCalls = nil
	}

	switch {
	case status == ports.StatusParseError:
		e.appendSyntheticRecord(rt, "format_error", "system.format_validation",
			"Response was missing the required protocol tags. Reply with <MESSAGE>, optional <TOOL_CALL> blocks and a final <AGENT_STATUS> tag.")
		e.enqueue(rt, action{kind: actionRun})

	case status == ports.StatusAwaitTool && len(parsed.ToolCalls) == 0:
		e.appendSyntheticRecord(rt, "parse_error", "system.parse_validation",
			"AGENT_STATUS was AWAIT_TOOL but no tool call could be parsed. Check the <TOOL_CALL> block tags and repropose the call.")
		e.enqueue(rt, action{kind: actionRun})

	case status == ports.StatusAwaitTool:
		if !e.registerProposals(rt, parsed.ToolCalls) {
			return
		}
		state.Status = ports.TaskWaitingUser
		e.emitState(rt)

	case status == ports.StatusComplete && len(parsed.ToolCalls) > 0:
		if !e.registerProposals(rt, parsed.ToolCalls) {
			return
		}
		message := parsed.Message
		state.DeferredCompletion = &message
		state.Status = ports.TaskWaitingUser
		e.emitState(rt)

	default: // COMPLETE without tool calls
		if reason, ok := e.validateCompletion(rt); !ok {
			e.rejectCompletion(rt, reason)
			e.enqueue(rt, action{kind: actionRun})
		} else {
			e.finalize(rt, ports.TaskCompleted)
			return
		}
	}

	state.AppendSnapshot()
	state.UpdatedAt = time.Now()
	if rt.session != nil {
		rt.session.IterationEnd(state.Iteration, string(state.Status))
	}
}

// purgeSyntheticRecords removes format/parse error records two iterations
// after the one that created them, so each is visible for exactly one
// corrective iteration.
func (e *Executor) purgeSyntheticRecords(state *ports.TaskState) {
	kept := state.History[:0]
	for _, rec := range state.History {
		if m := syntheticCallPattern.FindStringSubmatch(rec.CallID); m != nil {
			var born int
			fmt.Sscanf(m[1], "%d", &born)
			if state.Iteration-born >= 2 {
				continue
			}
		}
		kept = append(kept, rec)
	}
	state.History = kept
}

func (e *Executor) appendSyntheticRecord(rt *taskRuntime, kind, tool, feedback string) {
	state := rt.state
	rec := ports.ToolExecutionRecord{
		CallID:     fmt.Sprintf("%s_iter%d_%s", kind, state.Iteration, randSuffix()),
		ToolName:   tool,
		Accepted:   false,
		ExecutedAt: time.Now(),
		Summary:    kind,
		Error:      feedback,
	}
	state.RecordExecution(rec)
	e.logger.Warn("task %s iteration %d: %s, corrective iteration queued", state.TaskID, state.Iteration, kind)
	if rt.session != nil {
		rt.session.Warn("%s on iteration %d", kind, state.Iteration)
	}
}

// validateCompletion gates COMPLETE. Domains that require tool use (coder)
// reject completion before any tool has executed.
func (e *Executor) validateCompletion(rt *taskRuntime) (reason string, ok bool) {
	if rt.domain.RequireToolUse && rt.state.ToolCallCount == 0 {
		return "COMPLETE rejected: no tool has executed yet. Propose the next tool call and set AGENT_STATUS to AWAIT_TOOL.", false
	}
	return "", true
}

// rejectCompletion records a completion_rejected entry, replacing any earlier
// one so rejections do not stack in the rendered history.
func (e *Executor) rejectCompletion(rt *taskRuntime, feedback string) {
	state := rt.state
	kept := state.History[:0]
	for _, rec := range state.History {
		if strings.HasPrefix(rec.CallID, "completion_rejected_") {
			continue
		}
		kept = append(kept, rec)
	}
	state.History = kept

	state.RecordExecution(ports.ToolExecutionRecord{
		CallID:     fmt.Sprintf("completion_rejected_iter%d_%s", state.Iteration, randSuffix()),
		ToolName:   "system.completion_validation",
		Accepted:   false,
		ExecutedAt: time.Now(),
		Summary:    "completion_rejected",
		Error:      feedback,
	})
	e.logger.Info("task %s: completion rejected on iteration %d", state.TaskID, state.Iteration)
}

// registerProposals attaches ids and pre-execution state to parsed calls and
// moves them into the pending set. A tool outside the domain allowlist or the
// registry fails the task; it reports whether registration succeeded.
func (e *Executor) registerProposals(rt *taskRuntime, calls []*ports.ToolCall) bool {
	state := rt.state
	for index, call := range calls {
		if !rt.domain.Allows(call.Name) {
			e.failTask(rt, fmt.Sprintf("tool %s is not allowed in domain %s", call.Name, rt.domain.ID))
			return false
		}
		if !e.tools.Has(call.Name) {
			e.failTask(rt, fmt.Sprintf("tool %s is not registered", call.Name))
			return false
		}

		// The deterministic id is what couples a streaming-time side effect
		// to this proposal; the scanner numbered blocks in the same order the
		// parser extracts them.
		if stream.AutoExecTools[call.Name] {
			call.CallID = stream.DeterministicCallID(state.Iteration, index)
		} else {
			call.CallID = id.NewCallID()
		}
		call.TaskID = state.TaskID
		call.WorkspacePath = state.WorkspacePath

		if rt.engine != nil {
			if preState := rt.engine.State(call.CallID); preState != nil {
				call.PreExecuted = true
				call.PreExecutionState = preState
			}
		}

		state.Pending = append(state.Pending, call)
		if rt.session != nil {
			rt.session.ToolProposal(call)
		}
	}
	return true
}

// callModel runs one completion through the retry controller, streaming the
// answer through the tag scanner for coder tasks.
func (e *Executor) callModel(rt *taskRuntime, prompt string) (string, error) {
	state := rt.state
	prechecked := false
	if state.Metadata != nil {
		if flag, ok := state.Metadata["rate_limit_prechecked"].(bool); ok && flag {
			// The reservation flag is consumed exactly once.
			prechecked = true
			delete(state.Metadata, "rate_limit_prechecked")
		}
	}

	notify := func(notice errors.RetryNotice) {
		e.metrics.Retry()
		rt.emitter(ports.Event{
			Kind:     ports.EventRetryNotification,
			TaskID:   state.TaskID,
			DomainID: state.DomainID,
			Payload: map[string]any{
				"attempt":      notice.Attempt,
				"max_attempts": notice.MaxAttempts,
				"delay_ms":     notice.Delay.Milliseconds(),
				"error":        notice.Err.Error(),
				"model":        e.llm.Model(),
			},
			Timestamp: time.Now(),
		})
	}

	response, err := errors.RetryWithResult(rt.ctx, e.config.Retry, e.logger, notify,
		func(ctx context.Context) (*ports.CompletionResponse, error) {
			if e.rateGate != nil && !prechecked {
				if err := e.rateGate.Reserve(ctx); err != nil {
					return nil, err
				}
			}
			prechecked = false

			scanner := e.newScanner(rt)
			resp, err := e.llm.CompleteStream(ctx, ports.CompletionRequest{Prompt: prompt}, ports.CompletionStreamCallbacks{
				OnThoughtDelta: func(delta string) {
					if scanner != nil {
						scanner.FeedThought(delta)
					}
				},
				OnAnswerDelta: func(delta string) {
					if scanner != nil {
						scanner.FeedAnswer(delta)
					}
				},
			})
			if scanner != nil {
				scanner.Close()
			}
			if err != nil {
				return nil, err
			}
			return resp, nil
		})
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// newScanner couples the answer stream to UI events and speculative
// execution. Non-coder domains stream nothing.
func (e *Executor) newScanner(rt *taskRuntime) *stream.Scanner {
	if rt.domain.ID != DomainCoder {
		return nil
	}
	state := rt.state
	sink := func(ev stream.Event) {
		rt.emitter(ports.Event{
			Kind:     ports.EventCoderStream,
			TaskID:   state.TaskID,
			DomainID: state.DomainID,
			Payload: map[string]any{
				"segment": ev.Segment,
				"action":  ev.Action,
				"field":   ev.Field,
				"name":    ev.Name,
				"value":   ev.Value,
				"text":    ev.Text,
				"call_id": ev.CallID,
			},
			Timestamp: time.Now(),
		})
	}
	var autoExec stream.AutoExecFunc
	if rt.engine != nil {
		autoExec = rt.engine.AutoExec
	}
	return stream.NewScanner(state.Iteration, sink, autoExec, e.logger)
}

func (e *Executor) failTask(rt *taskRuntime, message string) {
	e.logger.Error("task %s failed: %s", rt.state.TaskID, message)
	rt.state.AgentMessage = message
	if rt.session != nil {
		rt.session.Error("%s", message)
	}
	e.finalize(rt, ports.TaskFailed)
}

// finalize moves the task to a terminal status, closes its session log and
// retires it from the active set.
func (e *Executor) finalize(rt *taskRuntime, status ports.TaskStatus) {
	state := rt.state
	state.Status = status
	state.UpdatedAt = time.Now()
	state.AppendSnapshot()

	if rt.session != nil {
		rt.session.End(string(status), state.Iteration, state.ToolCallCount, state.AgentMessage)
	}
	e.registry.Complete(state.TaskID, status)
	e.metrics.TaskFinished(string(status))
	e.emitState(rt)

	e.mu.Lock()
	delete(e.tasks, state.TaskID)
	e.mu.Unlock()
	rt.cancel()
	e.logger.Info("task %s finished: %s after %d iterations, %d tool calls",
		state.TaskID, status, state.Iteration, state.ToolCallCount)
}

func (e *Executor) emitState(rt *taskRuntime) {
	state := rt.state
	pending := make([]string, 0, len(state.Pending))
	for _, call := range state.Pending {
		pending = append(pending, call.CallID)
	}
	rt.emitter(ports.Event{
		Kind:     ports.EventState,
		TaskID:   state.TaskID,
		DomainID: state.DomainID,
		Payload: map[string]any{
			"status":        string(state.Status),
			"iteration":     state.Iteration,
			"agent_message": state.AgentMessage,
			"tool_calls":    state.ToolCallCount,
			"pending":       pending,
		},
		Timestamp: time.Now(),
	})
}

func randSuffix() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(buf[:])
}
