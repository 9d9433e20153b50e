// Package expression implements the {{path.segments}} placeholder language
// used in recipe step inputs, approval messages, and cleanup paths.
//
// Resolution is non-fatal by design: an expression that cannot be evaluated
// is logged at warning level and left verbatim in the surrounding string, so
// a later refinement pass can supply the missing data.
package expression

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// placeholderPattern matches {{...}} expressions.
var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Env is the evaluation environment for placeholder expressions. It is a
// read-only view over the workflow context; the scheduler owns the mutable
// state behind it.
type Env struct {
	// Inputs is the frozen input map from declaration resolution
	Inputs map[string]interface{}

	// Config is the recipe's user-defined config mapping
	Config map[string]interface{}

	// Templates is the recipe's reusable string fragments
	Templates map[string]string

	// StepsOutput maps completed step ids to {"outputs": ...} wrappers
	StepsOutput map[string]map[string]interface{}

	// RunID, RunDir, TempDir and WorkflowName back the workflow.* and
	// temp_dir roots
	RunID        string
	RunDir       string
	TempDir      string
	WorkflowName string

	// Logger receives resolution warnings. Nil disables them.
	Logger *slog.Logger

	// Now overrides the clock for the timestamp root. Nil uses time.Now.
	Now func() time.Time
}

// Resolve recursively expands placeholders in a value. Mappings are resolved
// pairwise (keys untouched), sequences element-wise, strings through the
// placeholder scan; all other scalars pass through unchanged.
func Resolve(value interface{}, env *Env) interface{} {
	switch v := value.(type) {
	case string:
		return env.resolveString(v)
	case map[string]interface{}:
		resolved := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved[k] = Resolve(item, env)
		}
		return resolved
	case []interface{}:
		resolved := make([]interface{}, len(v))
		for i, item := range v {
			resolved[i] = Resolve(item, env)
		}
		return resolved
	default:
		return value
	}
}

// ResolveString expands placeholders in a single string.
func ResolveString(s string, env *Env) string {
	return env.resolveString(s)
}

func (env *Env) resolveString(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])

		value, err := env.evaluate(expr)
		if err != nil {
			if env.Logger != nil {
				env.Logger.Warn("could not resolve expression",
					"expression", expr,
					"error", err.Error(),
				)
			}
			return match
		}
		return FormatValue(value)
	})
}

// evaluate walks a dot-separated path against the environment. The first
// segment selects the root; the rest traverse nested maps.
func (env *Env) evaluate(expr string) (interface{}, error) {
	parts := strings.Split(expr, ".")

	switch parts[0] {
	case "inputs":
		return getNested(anyMap(env.Inputs), parts[1:]), nil

	case "config":
		return getNested(anyMap(env.Config), parts[1:]), nil

	case "steps":
		if len(parts) < 2 {
			return nil, fmt.Errorf("steps reference needs a step id")
		}
		stepID := parts[1]
		out, ok := env.StepsOutput[stepID]
		if !ok {
			// The step has not run yet. Preserve a placeholder so a later
			// refinement pass can re-resolve once the output exists.
			return fmt.Sprintf("{{steps.%s...}}", stepID), nil
		}
		return getNested(anyMap(out), parts[2:]), nil

	case "templates":
		if len(parts) > 1 {
			if t, ok := env.Templates[parts[1]]; ok {
				return t, nil
			}
		}
		return env.Templates, nil

	case "workflow":
		if len(parts) < 2 {
			return nil, fmt.Errorf("unknown variable: %s", expr)
		}
		switch parts[1] {
		case "run_id":
			return env.RunID, nil
		case "run_dir":
			return env.RunDir, nil
		case "name":
			return env.WorkflowName, nil
		}
		return nil, fmt.Errorf("unknown variable: %s", expr)

	case "temp_dir":
		return env.TempDir, nil

	case "timestamp":
		now := time.Now
		if env.Now != nil {
			now = env.Now
		}
		return now().Format(time.RFC3339), nil
	}

	return nil, fmt.Errorf("unknown variable: %s", expr)
}

// getNested walks the remaining path segments through nested maps.
// A miss at any segment yields nil, which stringifies to "None".
func getNested(obj interface{}, keys []string) interface{} {
	for _, key := range keys {
		m, ok := obj.(map[string]interface{})
		if !ok {
			return nil
		}
		obj = m[key]
	}
	return obj
}

func anyMap[V any](m map[string]V) interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FormatValue stringifies an evaluated expression result using a
// language-neutral convention: nil renders as None, booleans as True/False,
// numbers in decimal, and structured values as a readable dump.
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}
