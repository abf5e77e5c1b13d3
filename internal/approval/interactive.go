// Package approval renders pending tool proposals on a terminal and collects
// accept/reject decisions when the engine runs without a UI in front of it.
package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"loom/internal/agent/ports"
	"loom/internal/diff"
)

// Verdict is one terminal decision for a proposal.
type Verdict struct {
	Accept  bool
	Batch   bool // apply the verdict to every pending proposal
	Message string
}

// InteractiveApprover prompts on a terminal with a colorized diff.
type InteractiveApprover struct {
	timeout      time.Duration
	autoApprove  bool
	colorEnabled bool
	in           io.Reader
	out          io.Writer
}

// NewInteractiveApprover creates a terminal approver. A zero timeout waits
// forever; autoApprove accepts everything without prompting.
func NewInteractiveApprover(timeout time.Duration, autoApprove, colorEnabled bool) *InteractiveApprover {
	return &InteractiveApprover{
		timeout:      timeout,
		autoApprove:  autoApprove,
		colorEnabled: colorEnabled,
		in:           os.Stdin,
		out:          os.Stdout,
	}
}

// Decide renders the proposal and returns the user's verdict. A timeout
// rejects: speculative writes must not stay on disk unattended.
func (a *InteractiveApprover) Decide(ctx context.Context, call *ports.ToolCall) (*Verdict, error) {
	if a.autoApprove {
		return &Verdict{Accept: true, Message: "auto-approved"}, nil
	}
	a.display(call)

	verdicts := make(chan *Verdict, 1)
	errs := make(chan error, 1)
	go func() {
		verdict, err := a.readVerdict()
		if err != nil {
			errs <- err
			return
		}
		verdicts <- verdict
	}()

	waitCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	select {
	case verdict := <-verdicts:
		return verdict, nil
	case err := <-errs:
		return nil, err
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, a.colorize("No answer before the timeout, rejecting", color.FgRed))
		return &Verdict{Accept: false, Message: "approval timeout"}, nil
	}
}

func (a *InteractiveApprover) display(call *ports.ToolCall) {
	separator := strings.Repeat("=", 80)
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, a.colorize(separator, color.FgCyan))
	fmt.Fprintln(a.out, a.colorize(fmt.Sprintf("Proposed: %s [%s]", call.Name, call.CallID), color.FgYellow, color.Bold))
	if call.Reason != "" {
		fmt.Fprintln(a.out, a.colorize("Reason: "+call.Reason, color.FgWhite))
	}
	fmt.Fprintln(a.out, a.colorize(separator, color.FgCyan))

	if state := call.PreExecutionState; state != nil {
		fmt.Fprintln(a.out, a.colorize("Already applied to "+state.FilePath+" (rejecting reverts it):", color.FgCyan))
		fmt.Fprintln(a.out, a.renderDiff(call.WorkspacePath, state))
	} else {
		for _, entry := range call.Params {
			value := entry.Value.AsString()
			if len(value) > 200 {
				value = value[:200] + "..."
			}
			fmt.Fprintf(a.out, "  %s = %s\n", entry.Name, value)
		}
	}
	fmt.Fprintln(a.out, a.colorize(separator, color.FgCyan))
}

func (a *InteractiveApprover) renderDiff(workspace string, state *ports.PreExecutionState) string {
	current, err := os.ReadFile(filepath.Join(workspace, filepath.FromSlash(state.FilePath)))
	if err != nil {
		return fmt.Sprintf("(cannot read applied content: %v)", err)
	}
	out := diff.NewGenerator(a.colorEnabled).Unified(state.OriginalContent, string(current), state.FilePath)
	if out == "" {
		return "(no content change)"
	}
	return out
}

func (a *InteractiveApprover) readVerdict() (*Verdict, error) {
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, a.colorize("Apply this change?", color.FgYellow, color.Bold))
	fmt.Fprintln(a.out, "  [y] yes")
	fmt.Fprintln(a.out, "  [n] no, revert")
	fmt.Fprintln(a.out, "  [a] yes to all pending")
	fmt.Fprintln(a.out, "  [r] reject all pending")
	fmt.Fprint(a.out, a.colorize("Choice: ", color.FgCyan))

	reader := bufio.NewReader(a.in)
	for {
		input, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read approval input: %w", err)
		}
		switch strings.TrimSpace(strings.ToLower(input)) {
		case "y", "yes":
			return &Verdict{Accept: true, Message: "approved by user"}, nil
		case "n", "no", "":
			return &Verdict{Accept: false, Message: "rejected by user"}, nil
		case "a", "all":
			return &Verdict{Accept: true, Batch: true, Message: "approved all by user"}, nil
		case "r":
			return &Verdict{Accept: false, Batch: true, Message: "rejected all by user"}, nil
		default:
			fmt.Fprint(a.out, a.colorize("Please answer y, n, a or r: ", color.FgRed))
		}
	}
}

func (a *InteractiveApprover) colorize(text string, attributes ...color.Attribute) string {
	if !a.colorEnabled {
		return text
	}
	return color.New(attributes...).Sprint(text)
}

// AutoApprover accepts every proposal. Used in tests and headless runs.
type AutoApprover struct{}

// Decide always accepts.
func (AutoApprover) Decide(ctx context.Context, call *ports.ToolCall) (*Verdict, error) {
	return &Verdict{Accept: true, Message: "auto-approved"}, nil
}
