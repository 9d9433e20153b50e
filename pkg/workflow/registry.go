package workflow

import (
	"sort"
	"sync"

	"github.com/tombee/forge/pkg/errors"
)

// Handler executes one action of a tool adapter. Inputs arrive already
// resolved; outputs must be JSON-serializable (paths serialize as strings).
type Handler func(action string, inputs map[string]interface{}, ctx *Context) (map[string]interface{}, error)

// Checker optionally reports whether a tool's backing service is reachable.
// Tools without a checker are reported ready as long as they loaded.
type Checker func() bool

// Registry maps tool names to handlers and dispatches step executions.
//
// Built-in adapters register through their package's RegisterBuiltins at
// program start; an adapter whose construction fails is recorded as a load
// error and stays absent from AvailableTools, without affecting the rest.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Handler
	checkers   map[string]Checker
	loadErrors map[string]string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]Handler),
		checkers:   make(map[string]Checker),
		loadErrors: make(map[string]string),
	}
}

// Register installs a handler under the given tool name.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = handler
}

// RegisterWithChecker installs a handler along with a readiness checker
// consulted by PreflightCheck.
func (r *Registry) RegisterWithChecker(name string, handler Handler, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = handler
	r.checkers[name] = checker
}

// RecordLoadError captures a tool that failed to initialize. The tool is
// not registered; discovery of the remaining tools proceeds.
func (r *Registry) RecordLoadError(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadErrors[name] = err.Error()
}

// Execute dispatches an action to the named tool.
func (r *Registry) Execute(tool, action string, inputs map[string]interface{}, ctx *Context) (map[string]interface{}, error) {
	r.mu.RLock()
	handler, ok := r.tools[tool]
	r.mu.RUnlock()

	if !ok {
		return nil, &errors.UnknownToolError{
			Name:      tool,
			Available: r.AvailableTools(),
		}
	}
	return handler(action, inputs, ctx)
}

// AvailableTools returns the sorted names of registered tools.
func (r *Registry) AvailableTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadErrors returns tool names that failed to initialize, with reasons.
func (r *Registry) LoadErrors() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.loadErrors))
	for k, v := range r.loadErrors {
		out[k] = v
	}
	return out
}

// PreflightCheck reports per-tool readiness. Tools with a registered
// checker are probed; the rest are ready by virtue of having loaded.
func (r *Registry) PreflightCheck() map[string]bool {
	r.mu.RLock()
	checkers := make(map[string]Checker, len(r.checkers))
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()

	results := make(map[string]bool, len(names))
	for _, name := range names {
		if check, ok := checkers[name]; ok {
			results[name] = check()
		} else {
			results[name] = true
		}
	}
	return results
}
