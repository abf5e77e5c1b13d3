package ports

// StepStatus is the lifecycle state of one plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// PlanStep is one entry in an execution plan. Step ids are unique per plan.
type PlanStep struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Status      StepStatus     `json:"status"`
	Result      string         `json:"result,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ExecutionPlan is written by plan.write and consumed by the prompt builder.
type ExecutionPlan struct {
	TaskDescription string     `json:"task_description"`
	Steps           []PlanStep `json:"steps"`
}

// Step returns the step with the given id.
func (p *ExecutionPlan) Step(id string) (*PlanStep, bool) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i], true
		}
	}
	return nil, false
}

// Progress counts completed steps against the total.
func (p *ExecutionPlan) Progress() (done, total int) {
	for _, step := range p.Steps {
		if step.Status == StepCompleted {
			done++
		}
	}
	return done, len(p.Steps)
}
