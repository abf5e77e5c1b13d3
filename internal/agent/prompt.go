package agent

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"loom/internal/agent/ports"
	"loom/internal/toolregistry"
)

const defaultInstructions = `You are an autonomous engineering agent. Work iteratively: inspect the
workspace, propose tool calls, and finish only when the request is done.
Never invent file contents; read before you edit.`

const responseStanza = `## Response format

Reply using exactly this structure:

<MESSAGE>short progress note for the user</MESSAGE>
<TOOL_CALL>
  <TOOL>tool.name</TOOL>
  <REASON>why this call</REASON>
  <PARAM name="param">value</PARAM>
</TOOL_CALL>
<AGENT_STATUS>AWAIT_TOOL</AGENT_STATUS>

Set AGENT_STATUS to COMPLETE when the task is finished. Parameter values are
taken literally: do not escape or wrap code in string parameters.`

var newlineRuns = regexp.MustCompile(`\n{3,}`)

// promptBuilder assembles the single text prompt of one iteration.
type promptBuilder struct {
	registry *toolregistry.Registry

	encOnce sync.Once
	encoder *tiktoken.Tiktoken
}

func newPromptBuilder(registry *toolregistry.Registry) *promptBuilder {
	return &promptBuilder{registry: registry}
}

// Build renders the full prompt for the task's next model call.
func (p *promptBuilder) Build(rt *taskRuntime) string {
	state := rt.state
	domain := rt.domain
	var b strings.Builder

	base := domain.BaseInstructions
	if base == "" {
		base = defaultInstructions
	}
	b.WriteString(base)
	b.WriteString("\n\n")

	// Coder switches between planning and execution guidance depending on
	// whether a plan exists yet.
	switch {
	case state.Plan == nil && domain.PlanningInstructions != "":
		b.WriteString(domain.PlanningInstructions)
		b.WriteString("\n\n")
	case state.Plan != nil && domain.ExecutionInstructions != "":
		b.WriteString(domain.ExecutionInstructions)
		b.WriteString("\n\n")
	}

	p.writeToolCatalog(&b, domain)
	fmt.Fprintf(&b, "Iteration %d of %d.\n\n", state.Iteration, state.Budget)

	fmt.Fprintf(&b, "## Request\n\n%s\n\n", state.Request)
	p.writeChatHistory(&b, state.ChatHistory)
	p.writeAttachedFiles(&b, state.AttachedFiles)
	p.writeToolHistory(&b, state.History)
	p.writePending(&b, state.Pending)
	p.writePlan(&b, state.Plan)

	b.WriteString(responseStanza)

	return newlineRuns.ReplaceAllString(b.String(), "\n\n")
}

// Tokens estimates the prompt's token count for budget accounting. Falls back
// to a character heuristic when the encoding is unavailable offline.
func (p *promptBuilder) Tokens(prompt string) int {
	p.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			p.encoder = enc
		}
	})
	if p.encoder != nil {
		return len(p.encoder.Encode(prompt, nil, nil))
	}
	return len(prompt) / 4
}

// writeToolCatalog renders the allowlisted tools, required parameters first,
// with types, enums and defaults.
func (p *promptBuilder) writeToolCatalog(b *strings.Builder, domain *ports.Domain) {
	b.WriteString("## Available tools\n\n")
	for _, def := range p.registry.List() {
		if !domain.Allows(def.Name) {
			continue
		}
		fmt.Fprintf(b, "### %s\n%s\n", def.Name, def.Description)
		for _, spec := range orderedParams(def.Params) {
			fmt.Fprintf(b, "- %s (%s", spec.Name, spec.Type)
			if spec.Required {
				b.WriteString(", required")
			}
			if len(spec.Enum) > 0 {
				fmt.Fprintf(b, ", one of: %s", strings.Join(spec.Enum, "|"))
			}
			if spec.Default != nil {
				fmt.Fprintf(b, ", default %v", spec.Default)
			}
			b.WriteString(")")
			if spec.Description != "" {
				b.WriteString(": " + spec.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
}

func orderedParams(params []ports.ParamSpec) []ports.ParamSpec {
	ordered := make([]ports.ParamSpec, 0, len(params))
	for _, spec := range params {
		if spec.Required {
			ordered = append(ordered, spec)
		}
	}
	for _, spec := range params {
		if !spec.Required {
			ordered = append(ordered, spec)
		}
	}
	return ordered
}

func (p *promptBuilder) writeChatHistory(b *strings.Builder, history []ports.HistoryMessage) {
	if len(history) == 0 {
		return
	}
	b.WriteString("## Conversation so far\n\n")
	for _, msg := range history {
		fmt.Fprintf(b, "[%s] %s\n", msg.Role, msg.Content)
		if len(msg.AttachedFiles) > 0 {
			fmt.Fprintf(b, "  (attached: %s)\n", strings.Join(msg.AttachedFiles, ", "))
		}
	}
	b.WriteString("\n")
}

func (p *promptBuilder) writeAttachedFiles(b *strings.Builder, files []string) {
	if len(files) == 0 {
		return
	}
	b.WriteString("## Attached files\n\n")
	for _, file := range files {
		fmt.Fprintf(b, "- %s\n", file)
	}
	b.WriteString("\n")
}

// writeToolHistory renders executed tools. Identical file.read content is
// shown once per content hash; repeats collapse to a back-reference.
func (p *promptBuilder) writeToolHistory(b *strings.Builder, history []ports.ToolExecutionRecord) {
	if len(history) == 0 {
		return
	}
	b.WriteString("## Tool history\n\n")
	seenHashes := make(map[string]string)
	for _, rec := range history {
		verdict := "executed"
		if !rec.Accepted {
			verdict = "not executed"
		}
		fmt.Fprintf(b, "- %s [%s, %s]", rec.ToolName, rec.CallID, verdict)

		if rec.ToolName == "file.read" {
			if hash := recordContentHash(rec); hash != "" {
				if first, dup := seenHashes[hash]; dup {
					fmt.Fprintf(b, ": content identical to %s, omitted", first)
					b.WriteString("\n")
					continue
				}
				seenHashes[hash] = rec.CallID
			}
		}
		if rec.Summary != "" {
			fmt.Fprintf(b, ": %s", rec.Summary)
		}
		if rec.Error != "" {
			fmt.Fprintf(b, " (error: %s)", rec.Error)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func recordContentHash(rec ports.ToolExecutionRecord) string {
	metadata, ok := rec.Result["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	hash, _ := metadata["content_hash"].(string)
	return hash
}

func (p *promptBuilder) writePending(b *strings.Builder, pending []*ports.ToolCall) {
	if len(pending) == 0 {
		return
	}
	b.WriteString("## Awaiting approval\n\n")
	for _, call := range pending {
		fmt.Fprintf(b, "- %s [%s]\n", call.Name, call.CallID)
	}
	b.WriteString("\n")
}

// writePlan renders a compact plan block, omitting completed steps.
func (p *promptBuilder) writePlan(b *strings.Builder, plan *ports.ExecutionPlan) {
	if plan == nil {
		return
	}
	done, total := plan.Progress()
	fmt.Fprintf(b, "## Plan: %s (%d/%d done)\n\n", plan.TaskDescription, done, total)
	for _, step := range plan.Steps {
		if step.Status == ports.StepCompleted {
			continue
		}
		fmt.Fprintf(b, "- [%s] %s: %s\n", step.Status, step.ID, step.Description)
	}
	b.WriteString("\n")
}
