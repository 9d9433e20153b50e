// Package workflow implements the recipe execution engine: the per-run
// context, the tool registry, and the step scheduler with failure policies,
// approval gates, and the validation/refinement loop.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	forgeerrors "github.com/tombee/forge/pkg/errors"
	"github.com/tombee/forge/pkg/recipe"
)

// RunStore is the persistence boundary the scheduler writes run state
// through. Implementations must flush each write before returning.
type RunStore interface {
	StartRun(ctx context.Context, recipePath string, inputs map[string]interface{}, projectID, runDir string) (string, error)
	CompleteRun(ctx context.Context, runID string, outputs map[string]map[string]interface{}) error
	FailRun(ctx context.Context, runID, errorMessage string) error
	StartStep(ctx context.Context, runID, stepID, stepName string, inputs map[string]interface{}) error
	CompleteStep(ctx context.Context, runID, stepID string, outputs map[string]interface{}) error
	FailStep(ctx context.Context, runID, stepID, errorMessage string) error
}

// Runner executes workflow recipes step by step.
type Runner struct {
	registry    *Registry
	store       RunStore
	runBaseDir  string
	autoApprove bool
	logger      *slog.Logger
}

// NewRunner creates a runner dispatching through the given registry.
func NewRunner(registry *Registry) *Runner {
	return &Runner{
		registry: registry,
		logger:   slog.Default(),
	}
}

// WithStore attaches a run store. Without one, runs execute untracked.
func (r *Runner) WithStore(store RunStore) *Runner {
	r.store = store
	return r
}

// WithRunDir sets the base directory under which run directories are created.
func (r *Runner) WithRunDir(dir string) *Runner {
	r.runBaseDir = dir
	return r
}

// WithAutoApprove makes approval gates select their default without prompting.
func (r *Runner) WithAutoApprove(auto bool) *Runner {
	r.autoApprove = auto
	return r
}

// WithLogger sets the logger for run execution.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// Run loads and executes a recipe. Parse and setup failures return an
// error with no run record; once the run has started, failures are
// reported through the returned Result.
func (r *Runner) Run(ctx context.Context, recipePath string, inputs map[string]interface{}, projectID string) (*Result, error) {
	rec, err := recipe.Load(recipePath)
	if err != nil {
		return nil, err
	}

	resolved, err := rec.ResolveInputs(inputs)
	if err != nil {
		return nil, err
	}

	return r.RunRecipe(ctx, rec, recipePath, resolved, projectID)
}

// RunRecipe executes an already-parsed recipe with resolved inputs.
func (r *Runner) RunRecipe(ctx context.Context, rec *recipe.Recipe, recipePath string, inputs map[string]interface{}, projectID string) (*Result, error) {
	wfCtx, err := NewContext(rec, inputs, r.runBaseDir, r.logger)
	if err != nil {
		return nil, err
	}

	// The store assigns the persisted run id. Store trouble degrades to an
	// untracked run; it never fails the workflow.
	store := r.store
	if store != nil {
		runID, err := store.StartRun(ctx, recipePath, inputs, projectID, wfCtx.RunDir)
		if err != nil {
			wfCtx.Logger.Warn("persistence unavailable, running without tracking", "error", err.Error())
			store = nil
		} else {
			wfCtx.SetRunID(runID)
		}
	}

	wfCtx.Logger.Info("starting workflow",
		"run_dir", wfCtx.RunDir,
		"steps", len(rec.Steps),
	)

	for i := range rec.Steps {
		step := &rec.Steps[i]

		if store != nil {
			if err := store.StartStep(ctx, wfCtx.RunID, step.ID, step.Name, step.Inputs); err != nil {
				wfCtx.Logger.Warn("failed to record step start", "step_id", step.ID, "error", err.Error())
			}
		}

		if stepErr := r.executeStep(ctx, step, wfCtx); stepErr != nil {
			if store != nil {
				if err := store.FailStep(ctx, wfCtx.RunID, step.ID, stepErr.Error()); err != nil {
					wfCtx.Logger.Warn("failed to record step failure", "step_id", step.ID, "error", err.Error())
				}
			}
			return r.failRun(ctx, store, wfCtx, stepErr), nil
		}

		if store != nil {
			outputs := map[string]interface{}{}
			if out, ok := wfCtx.StepsOutput[step.ID]; ok {
				outputs = out
			}
			if err := store.CompleteStep(ctx, wfCtx.RunID, step.ID, outputs); err != nil {
				wfCtx.Logger.Warn("failed to record step completion", "step_id", step.ID, "error", err.Error())
			}
		}
	}

	r.runCleanup(rec.Cleanup.OnSuccess, wfCtx)

	if store != nil {
		if err := store.CompleteRun(ctx, wfCtx.RunID, wfCtx.StepsOutput); err != nil {
			wfCtx.Logger.Warn("failed to record run completion", "error", err.Error())
		}
	}

	wfCtx.Logger.Info("workflow completed")
	return &Result{
		Success: true,
		RunID:   wfCtx.RunID,
		RunDir:  wfCtx.RunDir,
		Outputs: wfCtx.StepsOutput,
	}, nil
}

// failRun finalizes a failed run: store transition, on_failure cleanup,
// failure result.
func (r *Runner) failRun(ctx context.Context, store RunStore, wfCtx *Context, runErr error) *Result {
	wfCtx.Logger.Error("workflow failed", "error", runErr.Error())
	wfCtx.Errors = append(wfCtx.Errors, runErr.Error())

	if store != nil {
		if err := store.FailRun(ctx, wfCtx.RunID, runErr.Error()); err != nil {
			wfCtx.Logger.Warn("failed to record run failure", "error", err.Error())
		}
	}

	r.runCleanup(wfCtx.Recipe.Cleanup.OnFailure, wfCtx)

	return &Result{
		Success: false,
		RunID:   wfCtx.RunID,
		RunDir:  wfCtx.RunDir,
		Error:   runErr.Error(),
		Errors:  wfCtx.Errors,
	}
}

// executeStep runs a single step through its type branch and failure policy.
func (r *Runner) executeStep(ctx context.Context, step *recipe.Step, wfCtx *Context) error {
	wfCtx.CurrentStep = step.ID
	wfCtx.Logger.Info("executing step", "step_id", step.ID, "step", step.Name)

	switch step.Type {
	case recipe.StepTypeApprovalGate:
		return r.handleApprovalGate(step, wfCtx)
	case recipe.StepTypeRefinement:
		// Standalone refinement steps only run when the refinement loop
		// selects them via trigger lookup.
		wfCtx.Logger.Debug("skipping refinement step", "step_id", step.ID)
		return nil
	}

	if step.Tool == "" || step.Action == "" {
		wfCtx.Logger.Warn("step missing tool or action, skipping", "step_id", step.ID)
		return nil
	}

	resolvedInputs := r.resolveInputs(step, wfCtx)

	err := r.dispatch(step, resolvedInputs, wfCtx)
	if err == nil {
		return nil
	}

	switch step.OnFailure {
	case recipe.FailureSkip:
		wfCtx.Logger.Warn("step failed, skipping", "step_id", step.ID, "error", err.Error())
		return nil

	case recipe.FailureRetry:
		lastErr := err
		for attempt := 1; attempt <= step.RetryCount; attempt++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wfCtx.Logger.Info("retrying step", "step_id", step.ID, "attempt", attempt, "retry_count", step.RetryCount)
			retryErr := r.dispatch(step, resolvedInputs, wfCtx)
			if retryErr == nil {
				return nil
			}
			wfCtx.Logger.Warn("retry failed", "step_id", step.ID, "attempt", attempt, "error", retryErr.Error())
			lastErr = retryErr
		}
		return lastErr

	case recipe.FailureRefine:
		wfCtx.Logger.Info("validation failed, entering refinement loop", "step_id", step.ID)
		return r.executeRefinement(ctx, step, wfCtx, err)

	default: // abort
		return err
	}
}

// dispatch resolves nothing further: it sends already-resolved inputs
// through the registry, commits the outputs, and applies the gate verdict.
func (r *Runner) dispatch(step *recipe.Step, inputs map[string]interface{}, wfCtx *Context) error {
	outputs, err := r.registry.Execute(step.Tool, step.Action, inputs, wfCtx)
	if err != nil {
		return err
	}

	wfCtx.SetStepOutput(step.ID, outputs)
	wfCtx.Logger.Debug("step outputs committed", "step_id", step.ID, "keys", outputKeys(outputs))

	if step.Gate {
		if v, ok := outputs["passed"]; ok && !truthy(v) {
			return &forgeerrors.GateError{
				StepID:   step.ID,
				Failures: failureStrings(outputs["failures"]),
			}
		}
	}
	return nil
}

// resolveInputs expands placeholders in a step's raw inputs.
func (r *Runner) resolveInputs(step *recipe.Step, wfCtx *Context) map[string]interface{} {
	if step.Inputs == nil {
		return map[string]interface{}{}
	}
	resolved, ok := wfCtx.Resolve(step.Inputs).(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return resolved
}

// truthy mirrors the loose verdict convention of validation tools: absent
// or nil is false, empty strings and zero numbers are false, everything
// else is true.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func failureStrings(v interface{}) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []interface{}:
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		if items != "" {
			return []string{items}
		}
	}
	return nil
}

func outputKeys(outputs map[string]interface{}) []string {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	return keys
}
