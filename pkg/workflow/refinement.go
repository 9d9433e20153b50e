package workflow

import (
	"context"
	"fmt"

	forgeerrors "github.com/tombee/forge/pkg/errors"
	"github.com/tombee/forge/pkg/recipe"
)

// executeRefinement runs the recovery loop for a failed validation step:
// execute the refinement substeps, re-resolve the failing step's inputs,
// re-dispatch, and repeat until the verdict passes or the iteration cap
// (config.max_iterations, default 3) is reached.
func (r *Runner) executeRefinement(ctx context.Context, failedStep *recipe.Step, wfCtx *Context, origErr error) error {
	maxIterations := wfCtx.MaxIterations()
	wfCtx.RefinementActive = true
	defer func() { wfCtx.RefinementActive = false }()

	substeps := r.findRefinementSteps(failedStep, wfCtx.Recipe)
	if len(substeps) == 0 {
		return fmt.Errorf("validation failed and no refinement defined for step %s: %w", failedStep.ID, origErr)
	}

	wfCtx.IterationCount[failedStep.ID] = 0

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wfCtx.IterationCount[failedStep.ID] = iteration
		wfCtx.Logger.Info("refinement iteration",
			"step_id", failedStep.ID,
			"iteration", iteration,
			"max_iterations", maxIterations,
		)

		// Substep errors never abort the iteration; the re-validation below
		// decides whether the recovery worked.
		for i := range substeps {
			if err := r.executeStep(ctx, &substeps[i], wfCtx); err != nil {
				wfCtx.Logger.Warn("refinement substep failed",
					"step_id", substeps[i].ID,
					"error", err.Error(),
				)
			}
		}

		// Re-resolve so freshly produced step outputs are picked up.
		resolvedInputs := r.resolveInputs(failedStep, wfCtx)

		outputs, err := r.registry.Execute(failedStep.Tool, failedStep.Action, resolvedInputs, wfCtx)
		if err != nil {
			wfCtx.Logger.Warn("re-validation error", "step_id", failedStep.ID, "error", err.Error())
			continue
		}

		if truthy(outputs["passed"]) {
			wfCtx.SetStepOutput(failedStep.ID, outputs)
			wfCtx.Logger.Info("validation passed after refinement",
				"step_id", failedStep.ID,
				"iterations", iteration,
			)
			return nil
		}

		wfCtx.Logger.Info("validation still failing",
			"step_id", failedStep.ID,
			"failures", failureStrings(outputs["failures"]),
		)
	}

	return &forgeerrors.RefinementError{
		StepID:     failedStep.ID,
		Iterations: maxIterations,
	}
}

// findRefinementSteps locates the refinement block for a failing step, in
// priority order: inline on the step, a standalone refinement step whose
// trigger matches "<id>.failed" or "<id>", then the recipe-level block.
func (r *Runner) findRefinementSteps(failedStep *recipe.Step, rec *recipe.Recipe) []recipe.Step {
	if failedStep.Refinement != nil {
		return failedStep.Refinement.Steps
	}

	for i := range rec.Steps {
		step := &rec.Steps[i]
		if step.Type != recipe.StepTypeRefinement {
			continue
		}
		if step.Trigger == failedStep.ID+".failed" || step.Trigger == failedStep.ID {
			return step.Steps
		}
	}

	if rec.Refinement != nil {
		return rec.Refinement.Steps
	}
	return nil
}
