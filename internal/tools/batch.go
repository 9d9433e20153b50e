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

package tools

import (
	"fmt"
	"strconv"
	"strings"

	forgeerrors "github.com/tombee/forge/pkg/errors"
	"github.com/tombee/forge/pkg/workflow"
)

// registerBatch installs the foreach adapter: sequential iteration of a
// nested step list over an item sequence, within a single engine step.
// The engine itself has no fan-out; this tool is the loop.
func registerBatch(reg *workflow.Registry) {
	reg.Register("batch", func(action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
		return handleBatch(reg, action, inputs, ctx)
	})
}

func handleBatch(reg *workflow.Registry, action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	if action != "foreach" {
		return nil, &forgeerrors.ToolError{
			Tool:    "batch",
			Action:  action,
			Message: "unknown action (supported: foreach)",
		}
	}

	items := batchItems(inputs["items"])
	steps, _ := inputs["workflow_steps"].([]interface{})
	if len(steps) == 0 {
		return nil, &forgeerrors.ToolError{Tool: "batch", Action: action, Message: "foreach requires workflow_steps"}
	}

	ctx.Logger.Info("processing batch", "items", len(items))

	results := make([]interface{}, 0, len(items))
	for itemIndex, item := range items {
		ctx.Logger.Info("batch item", "index", itemIndex+1, "total", len(items), "item", item)

		itemOutputs := map[string]map[string]interface{}{}

		for stepIndex, rawStep := range steps {
			step, ok := rawStep.(map[string]interface{})
			if !ok {
				continue
			}
			stepID := stringInput(step, "id", fmt.Sprintf("batch_step_%d", stepIndex))
			tool := stringInput(step, "tool", "")
			stepAction := stringInput(step, "action", "")
			stepInputs, _ := step["inputs"].(map[string]interface{})

			resolved := make(map[string]interface{}, len(stepInputs))
			for key, value := range stepInputs {
				if s, ok := value.(string); ok {
					s = strings.ReplaceAll(s, "{{item}}", item)
					s = strings.ReplaceAll(s, "{{item_index}}", strconv.Itoa(itemIndex))
					s = substituteItemOutputs(s, itemOutputs)
					value = ctx.Resolve(s)
				}
				resolved[key] = value
			}

			stepResult, err := reg.Execute(tool, stepAction, resolved, ctx)
			if err != nil {
				return nil, err
			}
			itemOutputs[stepID] = stepResult
		}

		outputs := make(map[string]interface{}, len(itemOutputs))
		for id, out := range itemOutputs {
			outputs[id] = out
		}
		results = append(results, map[string]interface{}{
			"item":    item,
			"index":   itemIndex,
			"outputs": outputs,
		})
	}

	itemsProcessed := make([]interface{}, len(items))
	for i, item := range items {
		itemsProcessed[i] = item
	}

	return map[string]interface{}{
		"results":         results,
		"count":           len(results),
		"items_processed": itemsProcessed,
	}, nil
}

// batchItems accepts a comma-separated string or a list.
func batchItems(v interface{}) []string {
	switch items := v.(type) {
	case string:
		var out []string
		for _, item := range strings.Split(items, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case []string:
		return items
	}
	return nil
}

// substituteItemOutputs replaces {{<step_id>.outputs.<key>}} references
// with outputs from earlier steps of the same batch item.
func substituteItemOutputs(s string, itemOutputs map[string]map[string]interface{}) string {
	for stepID, outputs := range itemOutputs {
		for key, value := range outputs {
			placeholder := fmt.Sprintf("{{%s.outputs.%s}}", stepID, key)
			if strings.Contains(s, placeholder) {
				s = strings.ReplaceAll(s, placeholder, fmt.Sprintf("%v", value))
			}
		}
	}
	return s
}
