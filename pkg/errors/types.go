// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
	"strings"
)

// ValidationError represents user input validation failures.
// Use this for invalid recipe documents, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "run", "asset", "recipe")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "services.ollama.host")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// UnknownToolError is returned when a step dispatches to a tool that is not
// registered. The message lists the sorted set of available tool names.
type UnknownToolError struct {
	// Name is the tool that was requested
	Name string

	// Available is the sorted list of registered tool names
	Available []string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// ToolError represents a failure raised by a tool adapter during dispatch.
type ToolError struct {
	// Tool is the adapter name (e.g., "ollama", "sd")
	Tool string

	// Action is the operation that was invoked
	Action string

	// Message is the human-readable error description
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	msg := fmt.Sprintf("tool %s", e.Tool)
	if e.Action != "" {
		msg = fmt.Sprintf("%s.%s", msg, e.Action)
	}
	return fmt.Sprintf("%s failed: %s", msg, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// GateError represents a validation gate that returned a failing verdict.
// It carries the failure descriptions reported by the validation tool.
type GateError struct {
	// StepID is the gated step that failed
	StepID string

	// Failures are the individual check failures reported by the tool
	Failures []string
}

// Error implements the error interface.
func (e *GateError) Error() string {
	return fmt.Sprintf("validation gate failed on step %s: [%s]", e.StepID, strings.Join(e.Failures, "; "))
}

// RefinementError represents an exhausted refinement loop: the validation
// step never passed within the configured iteration cap.
type RefinementError struct {
	// StepID is the validation step the refinement loop was trying to satisfy
	StepID string

	// Iterations is the iteration cap that was exhausted
	Iterations int
}

// Error implements the error interface.
func (e *RefinementError) Error() string {
	return fmt.Sprintf("refinement for step %s exhausted %d iterations without passing validation", e.StepID, e.Iterations)
}
