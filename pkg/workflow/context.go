package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/forge/internal/log"
	"github.com/tombee/forge/pkg/recipe"
	"github.com/tombee/forge/pkg/workflow/expression"
)

// Context holds the mutable state of a single workflow run: the frozen
// inputs, per-step outputs, the run's scratch directories, and refinement
// bookkeeping. The scheduler is the only mutator of StepsOutput.
type Context struct {
	// Recipe is the immutable recipe being executed
	Recipe *recipe.Recipe

	// Inputs is the frozen input map from declaration resolution
	Inputs map[string]interface{}

	// StepsOutput maps completed step ids to {"outputs": <tool outputs>}
	StepsOutput map[string]map[string]interface{}

	// RunID is the opaque 8-character run identifier
	RunID string

	// RunDir is the run's artifact directory; TempDir is its scratch child
	RunDir  string
	TempDir string

	// StartTime is when the run began
	StartTime time.Time

	// CurrentStep is the id of the step being executed, for log context
	CurrentStep string

	// Errors accumulates run-level error messages in order
	Errors []string

	// IterationCount tracks refinement iterations per step id
	IterationCount map[string]int

	// RefinementActive is set while the refinement loop is running
	RefinementActive bool

	// Logger carries the run's structured log context
	Logger *slog.Logger
}

// NewContext creates the per-run context and its filesystem scratch space.
// The run directory is <baseDir>/<run_id> with a temp/ child; both exist
// for the lifetime of the run.
func NewContext(r *recipe.Recipe, inputs map[string]interface{}, baseDir string, logger *slog.Logger) (*Context, error) {
	if baseDir == "" {
		baseDir = "./workflow_runs"
	}
	if logger == nil {
		logger = slog.Default()
	}

	runID := NewRunID()
	runDir := filepath.Join(baseDir, runID)
	tempDir := filepath.Join(runDir, "temp")

	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory %s: %w", runDir, err)
	}

	return &Context{
		Recipe:         r,
		Inputs:         inputs,
		StepsOutput:    make(map[string]map[string]interface{}),
		RunID:          runID,
		RunDir:         runDir,
		TempDir:        tempDir,
		StartTime:      time.Now(),
		IterationCount: make(map[string]int),
		Logger:         log.WithRunContext(logger, runID, r.Name),
	}, nil
}

// NewRunID returns a new opaque 8-character run identifier.
func NewRunID() string {
	return uuid.NewString()[:8]
}

// SetRunID overrides the run identifier, used when the run store assigns
// the persisted id at run start. The run directory is unaffected.
func (c *Context) SetRunID(runID string) {
	c.RunID = runID
	c.Logger = log.WithRunContext(c.Logger, runID, c.Recipe.Name)
}

// SetStepOutput stores the outputs of a completed step. Outputs become
// visible to placeholder resolution as {{steps.<id>.outputs.*}}.
func (c *Context) SetStepOutput(stepID string, outputs map[string]interface{}) {
	c.StepsOutput[stepID] = map[string]interface{}{"outputs": outputs}
}

// Resolve expands {{...}} placeholders in a value against this context.
func (c *Context) Resolve(value interface{}) interface{} {
	return expression.Resolve(value, c.Env())
}

// ResolveString expands placeholders in a single string.
func (c *Context) ResolveString(s string) string {
	return expression.ResolveString(s, c.Env())
}

// Env builds the read-only expression environment over this context.
func (c *Context) Env() *expression.Env {
	return &expression.Env{
		Inputs:       c.Inputs,
		Config:       c.Recipe.Config,
		Templates:    c.Recipe.Templates,
		StepsOutput:  c.StepsOutput,
		RunID:        c.RunID,
		RunDir:       c.RunDir,
		TempDir:      c.TempDir,
		WorkflowName: c.Recipe.Name,
		Logger:       c.Logger,
	}
}

// MaxIterations returns the refinement iteration cap from recipe config,
// defaulting to 3.
func (c *Context) MaxIterations() int {
	if v, ok := c.Recipe.Config["max_iterations"]; ok {
		switch n := v.(type) {
		case int:
			if n > 0 {
				return n
			}
		case float64:
			if n > 0 {
				return int(n)
			}
		}
	}
	return 3
}
