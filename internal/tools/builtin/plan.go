package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"loom/internal/agent/ports"
)

// planStore holds the current plan per task. Both plan tools share one
// store; the driver reads the updated plan back from result metadata.
type planStore struct {
	mu    sync.Mutex
	plans map[string]*ports.ExecutionPlan
}

// NewPlanTools creates the plan.write and plan.update pair over a shared
// per-task store.
func NewPlanTools() (write, update ports.ToolExecutor) {
	store := &planStore{plans: make(map[string]*ports.ExecutionPlan)}
	return &planWrite{store: store}, &planUpdate{store: store}
}

type planWrite struct {
	store *planStore
}

func (t *planWrite) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	description := call.Params.GetString("task_description", "")
	if description == "" {
		return errorResult(call.CallID, "missing \"task_description\"", "", "validation_error"), nil
	}
	stepsValue, ok := call.Params.Get("steps")
	if !ok || stepsValue.Kind != ports.KindArray || len(stepsValue.Array) == 0 {
		return errorResult(call.CallID, "\"steps\" must be a non-empty array", "provide one entry per planned step", "validation_error"), nil
	}

	plan := &ports.ExecutionPlan{TaskDescription: description}
	for i, item := range stepsValue.Array {
		step := ports.PlanStep{ID: fmt.Sprintf("step-%d", i+1), Status: ports.StepPending}
		switch item.Kind {
		case ports.KindObject:
			if d, ok := item.Object["description"]; ok {
				step.Description = d.AsString()
			}
			if id, ok := item.Object["id"]; ok && id.AsString() != "" {
				step.ID = id.AsString()
			}
		default:
			step.Description = item.AsString()
		}
		if step.Description == "" {
			return errorResult(call.CallID, fmt.Sprintf("step %d has no description", i+1), "", "validation_error"), nil
		}
		plan.Steps = append(plan.Steps, step)
	}
	if err := validateStepIDs(plan); err != nil {
		return errorResult(call.CallID, err.Error(), "step ids must be unique", "validation_error"), nil
	}

	t.store.mu.Lock()
	t.store.plans[call.TaskID] = plan
	t.store.mu.Unlock()

	result := successResult(call.CallID, fmt.Sprintf("Plan written: %d steps", len(plan.Steps)))
	result.Metadata["plan"] = plan
	return result, nil
}

func (t *planWrite) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "plan.write",
		Version:     "1.0.0",
		Description: "Write the execution plan for the current task",
		Effects:     []ports.Effect{ports.EffectContext},
		Params: []ports.ParamSpec{
			{Name: "task_description", Type: "string", Description: "One-line goal of the task", Required: true},
			{Name: "steps", Type: "array", Description: "Ordered step descriptions", Required: true},
		},
		OutputDesc: "metadata.plan with the stored plan",
	}
}

type planUpdate struct {
	store *planStore
}

func (t *planUpdate) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	t.store.mu.Lock()
	plan := t.store.plans[call.TaskID]
	t.store.mu.Unlock()
	if plan == nil {
		return errorResult(call.CallID, "no plan exists for this task", "call plan.write first", "validation_error"), nil
	}

	updates, ok := call.Params.Get("updates")
	if !ok || updates.Kind != ports.KindObject {
		return errorResult(call.CallID, "\"updates\" must be an object", "", "validation_error"), nil
	}

	var applied []string
	if d, ok := updates.Object["task_description"]; ok && d.AsString() != "" {
		plan.TaskDescription = d.AsString()
		applied = append(applied, "task_description")
	}
	if add, ok := updates.Object["add_steps"]; ok && add.Kind == ports.KindArray {
		for _, item := range add.Array {
			plan.Steps = append(plan.Steps, ports.PlanStep{
				ID:          fmt.Sprintf("step-%d", len(plan.Steps)+1),
				Description: item.AsString(),
				Status:      ports.StepPending,
			})
		}
		applied = append(applied, fmt.Sprintf("add_steps(%d)", len(add.Array)))
	}
	if upd, ok := updates.Object["update_steps"]; ok && upd.Kind == ports.KindArray {
		for _, item := range upd.Array {
			if item.Kind != ports.KindObject {
				continue
			}
			id := item.Object["id"].AsString()
			step, found := plan.Step(id)
			if !found {
				return errorResult(call.CallID, fmt.Sprintf("unknown step id %q", id), "", "validation_error"), nil
			}
			if s, ok := item.Object["status"]; ok {
				status := ports.StepStatus(s.AsString())
				if !validStepStatus(status) {
					return errorResult(call.CallID, fmt.Sprintf("invalid status %q for step %s", s.AsString(), id), "", "validation_error"), nil
				}
				step.Status = status
			}
			if r, ok := item.Object["result"]; ok {
				step.Result = r.AsString()
			}
			if d, ok := item.Object["description"]; ok && d.AsString() != "" {
				step.Description = d.AsString()
			}
			applied = append(applied, "update:"+id)
		}
	}
	if rem, ok := updates.Object["remove_steps"]; ok && rem.Kind == ports.KindArray {
		remove := make(map[string]bool)
		for _, item := range rem.Array {
			remove[item.AsString()] = true
		}
		kept := plan.Steps[:0]
		for _, step := range plan.Steps {
			if !remove[step.ID] {
				kept = append(kept, step)
			}
		}
		plan.Steps = kept
		applied = append(applied, fmt.Sprintf("remove_steps(%d)", len(remove)))
	}

	if len(applied) == 0 {
		return errorResult(call.CallID, "updates object contained nothing applicable", "use task_description, add_steps, update_steps or remove_steps", "validation_error"), nil
	}

	t.store.mu.Lock()
	t.store.plans[call.TaskID] = plan
	t.store.mu.Unlock()

	done, total := plan.Progress()
	result := successResult(call.CallID, fmt.Sprintf("Plan updated (%s); %d/%d steps completed", strings.Join(applied, ", "), done, total))
	result.Metadata["plan"] = plan
	return result, nil
}

func (t *planUpdate) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "plan.update",
		Version:     "1.0.0",
		Description: "Update the execution plan: add, change or remove steps",
		Effects:     []ports.Effect{ports.EffectContext},
		Params: []ports.ParamSpec{
			{Name: "updates", Type: "object", Description: "Partial update with task_description, add_steps, update_steps or remove_steps", Required: true},
		},
		OutputDesc: "metadata.plan with the updated plan",
	}
}

func validateStepIDs(plan *ports.ExecutionPlan) error {
	seen := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
	}
	return nil
}

func validStepStatus(s ports.StepStatus) bool {
	switch s {
	case ports.StepPending, ports.StepInProgress, ports.StepCompleted, ports.StepFailed, ports.StepSkipped:
		return true
	}
	return false
}
