// Package recipe provides the declarative workflow recipe model.
//
// Recipes are YAML documents describing a multi-step content pipeline:
// input declarations, arbitrary user config, reusable templates, an ordered
// step list, optional refinement blocks, and cleanup actions. A parsed
// Recipe is immutable for the lifetime of a run.
package recipe

import (
	"fmt"
	"os"

	"github.com/tombee/forge/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Recipe represents a YAML-based workflow recipe.
//
// Only Name and Steps are required. Config and Templates are free-form
// user data referenced from step inputs via {{config.*}} and
// {{templates.*}} placeholders.
type Recipe struct {
	// Name is the workflow identifier
	Name string `yaml:"name" json:"name"`

	// Description provides human-readable context about the workflow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Version tracks the recipe schema version (optional)
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Config holds user-defined scalars and nested maps, referenced via {{config.*}}
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`

	// Templates holds reusable string fragments, referenced via {{templates.*}}
	Templates map[string]string `yaml:"templates,omitempty" json:"templates,omitempty"`

	// Inputs defines the expected input parameters for the workflow
	Inputs []InputDefinition `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Steps are the executable units of the workflow
	Steps []Step `yaml:"steps" json:"steps"`

	// Refinement is the recipe-level fallback refinement block,
	// used when a failing step has no inline or triggered block
	Refinement *RefinementBlock `yaml:"refinement,omitempty" json:"refinement,omitempty"`

	// Cleanup defines filesystem actions to run after the workflow exits
	Cleanup CleanupConfig `yaml:"cleanup,omitempty" json:"cleanup,omitempty"`
}

// InputDefinition describes a workflow input parameter.
type InputDefinition struct {
	// Name is the input parameter identifier
	Name string `yaml:"name" json:"name"`

	// Description explains what this input is for
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Required indicates if this input must be provided
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Default provides a fallback value if input is not provided
	Default interface{} `yaml:"default,omitempty" json:"default,omitempty"`

	// Choices defines the allowed values for enumerated inputs
	Choices []interface{} `yaml:"choices,omitempty" json:"choices,omitempty"`
}

// StepType represents the type of workflow step.
type StepType string

const (
	// StepTypeTool dispatches a tool action through the registry (the default)
	StepTypeTool StepType = "tool"

	// StepTypeApprovalGate interactively confirms continuation with an operator
	StepTypeApprovalGate StepType = "approval_gate"

	// StepTypeRefinement marks a standalone refinement block, entered only
	// by the refinement loop via trigger lookup
	StepTypeRefinement StepType = "refinement"
)

// FailurePolicy represents a step's on_failure behavior.
type FailurePolicy string

const (
	// FailureAbort propagates the error and fails the run (the default)
	FailureAbort FailurePolicy = "abort"

	// FailureSkip logs the error and continues to the next step
	FailureSkip FailurePolicy = "skip"

	// FailureRetry re-dispatches the step up to retry_count additional times
	FailureRetry FailurePolicy = "retry"

	// FailureRefine enters the refinement loop
	FailureRefine FailurePolicy = "refine"
)

// Step represents a single step in a recipe.
//
// Tool steps name a tool and action; their inputs may contain unresolved
// {{...}} placeholders which the engine expands at execution time.
// Approval gates carry a message, options, and a default action.
// Refinement-typed steps carry a trigger and their substeps in Steps.
type Step struct {
	// ID is the unique step identifier within this recipe
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable step name (optional, defaults to ID)
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Type specifies the step type (tool, approval_gate, refinement)
	Type StepType `yaml:"type,omitempty" json:"type,omitempty"`

	// Tool is the registered adapter to dispatch to
	Tool string `yaml:"tool,omitempty" json:"tool,omitempty"`

	// Action is the operation to invoke on the tool
	Action string `yaml:"action,omitempty" json:"action,omitempty"`

	// Inputs maps input names to raw values with unresolved placeholders
	Inputs map[string]interface{} `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Gate promotes the tool's "passed" output into a pass/fail verdict
	Gate bool `yaml:"gate,omitempty" json:"gate,omitempty"`

	// OnFailure selects the failure policy (abort, skip, retry, refine)
	OnFailure FailurePolicy `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`

	// RetryCount is the number of additional attempts when OnFailure is retry
	RetryCount int `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`

	// Refinement is an inline refinement block for this step
	Refinement *RefinementBlock `yaml:"refinement,omitempty" json:"refinement,omitempty"`

	// Message is the prompt text for approval gates (supports placeholders)
	Message string `yaml:"message,omitempty" json:"message,omitempty"`

	// Options are the selectable choices for approval gates
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`

	// DefaultAction is the preselected choice for approval gates
	DefaultAction string `yaml:"default_action,omitempty" json:"default_action,omitempty"`

	// Trigger binds a standalone refinement step to a failing step:
	// "<step_id>.failed" or "<step_id>"
	Trigger string `yaml:"trigger,omitempty" json:"trigger,omitempty"`

	// Steps are the substeps of a standalone refinement step
	Steps []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// RefinementBlock is an ordered sequence of refinement substeps, intended
// to modify inputs or regenerate prerequisites before re-validation.
type RefinementBlock struct {
	Steps []Step `yaml:"steps" json:"steps"`
}

// CleanupConfig defines the cleanup action lists per run outcome.
type CleanupConfig struct {
	OnSuccess []CleanupAction `yaml:"on_success,omitempty" json:"on_success,omitempty"`
	OnFailure []CleanupAction `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
}

// CleanupAction is a single filesystem action run after the workflow exits.
type CleanupAction struct {
	// Action is one of delete, move, preserve
	Action string `yaml:"action" json:"action"`

	// Path is the target for delete and preserve actions (supports placeholders)
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Source and Destination are the endpoints for move actions
	Source      string `yaml:"source,omitempty" json:"source,omitempty"`
	Destination string `yaml:"destination,omitempty" json:"destination,omitempty"`

	// Reason documents why a path is preserved
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Load reads and parses a recipe from a YAML file.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a recipe from YAML bytes, applies defaults, and validates.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse recipe: %w", err)
	}

	r.applyDefaults()

	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recipe: %w", err)
	}

	return &r, nil
}

// applyDefaults fills in default values for recipe and step fields.
func (r *Recipe) applyDefaults() {
	for i := range r.Steps {
		applyStepDefaults(&r.Steps[i])
	}
	if r.Refinement != nil {
		for i := range r.Refinement.Steps {
			applyStepDefaults(&r.Refinement.Steps[i])
		}
	}
}

func applyStepDefaults(step *Step) {
	if step.Type == "" {
		step.Type = StepTypeTool
	}
	if step.Name == "" {
		step.Name = step.ID
	}
	if step.OnFailure == "" {
		step.OnFailure = FailureAbort
	}
	if step.OnFailure == FailureRetry && step.RetryCount == 0 {
		step.RetryCount = 1
	}
	if step.Type == StepTypeApprovalGate {
		if len(step.Options) == 0 {
			step.Options = []string{"approve", "reject"}
		}
		if step.DefaultAction == "" {
			step.DefaultAction = step.Options[0]
		}
	}
	if step.Refinement != nil {
		for i := range step.Refinement.Steps {
			applyStepDefaults(&step.Refinement.Steps[i])
		}
	}
	for i := range step.Steps {
		applyStepDefaults(&step.Steps[i])
	}
}

// Validate checks if the recipe is valid.
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "recipe name is required",
			Suggestion: "add a descriptive name for the recipe",
		}
	}

	if len(r.Steps) == 0 {
		return &errors.ValidationError{
			Field:      "steps",
			Message:    "recipe must have at least one step",
			Suggestion: "add at least one step to the recipe",
		}
	}

	stepIDs := make(map[string]bool)
	for i := range r.Steps {
		step := &r.Steps[i]
		if step.ID == "" {
			return &errors.ValidationError{
				Field:      "id",
				Message:    "step ID is required",
				Suggestion: "add an 'id' field to each step",
			}
		}
		if stepIDs[step.ID] {
			return &errors.ValidationError{
				Field:      "id",
				Message:    fmt.Sprintf("duplicate step ID: %s", step.ID),
				Suggestion: "ensure each step has a unique ID",
			}
		}
		stepIDs[step.ID] = true

		if err := step.Validate(); err != nil {
			return fmt.Errorf("invalid step %s: %w", step.ID, err)
		}
	}

	for _, input := range r.Inputs {
		if err := input.Validate(); err != nil {
			return fmt.Errorf("invalid input %s: %w", input.Name, err)
		}
	}

	return nil
}

// Validate checks if the step definition is valid.
func (s *Step) Validate() error {
	switch s.Type {
	case StepTypeTool, StepTypeApprovalGate, StepTypeRefinement:
	default:
		return &errors.ValidationError{
			Field:      "type",
			Message:    fmt.Sprintf("unsupported step type: %s", s.Type),
			Suggestion: "use one of: tool, approval_gate, refinement",
		}
	}

	switch s.OnFailure {
	case FailureAbort, FailureSkip, FailureRetry, FailureRefine:
	default:
		return &errors.ValidationError{
			Field:      "on_failure",
			Message:    fmt.Sprintf("unsupported failure policy: %s", s.OnFailure),
			Suggestion: "use one of: abort, skip, retry, refine",
		}
	}

	if s.OnFailure == FailureRetry && s.RetryCount < 1 {
		return &errors.ValidationError{
			Field:      "retry_count",
			Message:    fmt.Sprintf("retry_count must be at least 1, got %d", s.RetryCount),
			Suggestion: "set retry_count to a positive number of additional attempts",
		}
	}

	if s.Type == StepTypeApprovalGate && len(s.Options) == 0 {
		return &errors.ValidationError{
			Field:      "options",
			Message:    "approval gate must offer at least one option",
			Suggestion: "add an 'options' list to the approval gate step",
		}
	}

	return nil
}

// Validate checks if the input definition is valid.
func (d *InputDefinition) Validate() error {
	if d.Name == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "input name is required",
			Suggestion: "add a 'name' field to each input declaration",
		}
	}

	if d.Default != nil && len(d.Choices) > 0 && !containsValue(d.Choices, d.Default) {
		return &errors.ValidationError{
			Field:      "default",
			Message:    fmt.Sprintf("default %v is not among the declared choices", d.Default),
			Suggestion: "make the default one of the choices, or drop the choices list",
		}
	}

	return nil
}

// ResolveInputs merges provided values over declaration defaults, enforces
// required inputs, and checks enumerated choices. The returned map is the
// frozen input set for a run.
func (r *Recipe) ResolveInputs(provided map[string]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(provided))

	for _, decl := range r.Inputs {
		value, ok := provided[decl.Name]
		if !ok {
			if decl.Default != nil {
				resolved[decl.Name] = decl.Default
				continue
			}
			if decl.Required {
				return nil, &errors.ValidationError{
					Field:      decl.Name,
					Message:    "required input not provided",
					Suggestion: fmt.Sprintf("pass a value for %q", decl.Name),
				}
			}
			continue
		}

		if len(decl.Choices) > 0 && !containsValue(decl.Choices, value) {
			return nil, &errors.ValidationError{
				Field:      decl.Name,
				Message:    fmt.Sprintf("value %v is not an allowed choice", value),
				Suggestion: fmt.Sprintf("use one of: %v", decl.Choices),
			}
		}
		resolved[decl.Name] = value
	}

	// Pass through values with no matching declaration untouched.
	for name, value := range provided {
		if _, ok := resolved[name]; !ok {
			resolved[name] = value
		}
	}

	return resolved, nil
}

func containsValue(choices []interface{}, value interface{}) bool {
	for _, c := range choices {
		if fmt.Sprintf("%v", c) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}
