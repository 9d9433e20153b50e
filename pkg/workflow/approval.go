package workflow

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/tombee/forge/pkg/recipe"
	"golang.org/x/term"
)

var (
	approvalTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212")).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true)

	approvalMessageStyle = lipgloss.NewStyle().
				PaddingLeft(2)
)

// handleApprovalGate prompts the operator with the step's options. With
// auto-approve, or when stdin is not a terminal, the default action is
// selected without prompting and the output marks the decision as
// automatic. An aborted prompt also falls back to the default.
func (r *Runner) handleApprovalGate(step *recipe.Step, wfCtx *Context) error {
	message := wfCtx.ResolveString(step.Message)
	if message == "" {
		message = "Approval required"
	}
	options := step.Options
	defaultAction := step.DefaultAction

	if r.autoApprove {
		wfCtx.Logger.Info("auto-approving", "step_id", step.ID, "selection", defaultAction)
		wfCtx.SetStepOutput(step.ID, map[string]interface{}{
			"selection": defaultAction,
			"auto":      true,
		})
		return nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		wfCtx.Logger.Info("no interactive terminal, using default", "step_id", step.ID, "selection", defaultAction)
		wfCtx.SetStepOutput(step.ID, map[string]interface{}{
			"selection": defaultAction,
			"auto":      true,
		})
		return nil
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, approvalTitleStyle.Render("APPROVAL REQUIRED: "+step.Name))
	fmt.Fprintln(os.Stderr, approvalMessageStyle.Render(message))

	choice := defaultAction
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Your choice").
				Description(fmt.Sprintf("Default: %s", defaultAction)).
				Options(huh.NewOptions(options...)...).
				Value(&choice),
		),
	)

	if err := form.Run(); err != nil {
		// Interruption selects the default, matching non-interactive runs.
		wfCtx.Logger.Info("prompt interrupted, using default", "step_id", step.ID, "selection", defaultAction)
		wfCtx.SetStepOutput(step.ID, map[string]interface{}{
			"selection": defaultAction,
			"auto":      true,
		})
		return nil
	}

	wfCtx.SetStepOutput(step.ID, map[string]interface{}{
		"selection": choice,
		"auto":      false,
	})
	return nil
}
