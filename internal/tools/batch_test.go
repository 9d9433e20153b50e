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
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/forge/pkg/recipe"
	"github.com/tombee/forge/pkg/workflow"
)

func testContext(t *testing.T) *workflow.Context {
	t.Helper()
	return &workflow.Context{
		Recipe:      &recipe.Recipe{Name: "batch-test"},
		Inputs:      map[string]interface{}{"theme": "forest"},
		StepsOutput: map[string]map[string]interface{}{},
		TempDir:     t.TempDir(),
		Logger:      slog.Default(),
	}
}

func TestBatchForeach(t *testing.T) {
	reg := workflow.NewRegistry()
	reg.Register("echo", func(action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
		out := make(map[string]interface{}, len(inputs))
		for k, v := range inputs {
			out[k] = v
		}
		return out, nil
	})

	ctx := testContext(t)

	out, err := handleBatch(reg, "foreach", map[string]interface{}{
		"items": "grass, stone, water",
		"workflow_steps": []interface{}{
			map[string]interface{}{
				"id":     "name_it",
				"tool":   "echo",
				"action": "say",
				"inputs": map[string]interface{}{
					"label": "{{item_index}}:{{item}} ({{inputs.theme}})",
				},
			},
			map[string]interface{}{
				"id":     "chain",
				"tool":   "echo",
				"action": "say",
				"inputs": map[string]interface{}{
					"carried": "from {{name_it.outputs.label}}",
				},
			},
		},
	}, ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, out["count"])
	assert.Equal(t, []interface{}{"grass", "stone", "water"}, out["items_processed"])

	results := out["results"].([]interface{})
	require.Len(t, results, 3)

	first := results[0].(map[string]interface{})
	assert.Equal(t, "grass", first["item"])
	assert.Equal(t, 0, first["index"])

	outputs := first["outputs"].(map[string]interface{})
	named := outputs["name_it"].(map[string]interface{})
	assert.Equal(t, "0:grass (forest)", named["label"])

	chained := outputs["chain"].(map[string]interface{})
	assert.Equal(t, "from 0:grass (forest)", chained["carried"])
}

func TestBatchForeachListItems(t *testing.T) {
	reg := workflow.NewRegistry()
	reg.Register("echo", func(action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	})

	out, err := handleBatch(reg, "foreach", map[string]interface{}{
		"items": []interface{}{"a", "b"},
		"workflow_steps": []interface{}{
			map[string]interface{}{"id": "s", "tool": "echo", "action": "say"},
		},
	}, testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])
}

func TestBatchForeachRequiresSteps(t *testing.T) {
	reg := workflow.NewRegistry()

	_, err := handleBatch(reg, "foreach", map[string]interface{}{
		"items": "a,b",
	}, testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow_steps")
}
