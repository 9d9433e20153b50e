package expression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv() *Env {
	return &Env{
		Inputs: map[string]interface{}{
			"who":   "world",
			"count": 3,
			"nested": map[string]interface{}{
				"key": "value",
			},
		},
		Config: map[string]interface{}{
			"max_iterations": 5,
			"style":          "pixel art",
		},
		Templates: map[string]string{
			"greeting": "Hello from template",
		},
		StepsOutput: map[string]map[string]interface{}{
			"generate": {
				"outputs": map[string]interface{}{
					"image":  "/tmp/out.png",
					"passed": true,
					"score":  0.85,
					"none":   nil,
				},
			},
		},
		RunID:        "abcd1234",
		RunDir:       "/runs/abcd1234",
		TempDir:      "/runs/abcd1234/temp",
		WorkflowName: "test-workflow",
	}
}

func TestResolveString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "no placeholders is a fixed point",
			input: "plain string with no markers",
			want:  "plain string with no markers",
		},
		{
			name:  "input reference",
			input: "Hello {{inputs.who}}!",
			want:  "Hello world!",
		},
		{
			name:  "integer input stringifies in decimal",
			input: "count={{inputs.count}}",
			want:  "count=3",
		},
		{
			name:  "nested input path",
			input: "{{inputs.nested.key}}",
			want:  "value",
		},
		{
			name:  "config reference",
			input: "style: {{config.style}}",
			want:  "style: pixel art",
		},
		{
			name:  "template reference",
			input: "{{templates.greeting}}",
			want:  "Hello from template",
		},
		{
			name:  "step output reference",
			input: "image at {{steps.generate.outputs.image}}",
			want:  "image at /tmp/out.png",
		},
		{
			name:  "boolean output renders True",
			input: "{{steps.generate.outputs.passed}}",
			want:  "True",
		},
		{
			name:  "float output renders decimal",
			input: "{{steps.generate.outputs.score}}",
			want:  "0.85",
		},
		{
			name:  "nil output renders None",
			input: "{{steps.generate.outputs.none}}",
			want:  "None",
		},
		{
			name:  "missing output key renders None",
			input: "{{steps.generate.outputs.missing}}",
			want:  "None",
		},
		{
			name:  "not-yet-run step preserves placeholder",
			input: "waiting for {{steps.later.outputs.image}}",
			want:  "waiting for {{steps.later...}}",
		},
		{
			name:  "unknown root preserves placeholder verbatim",
			input: "{{bogus.path}}",
			want:  "{{bogus.path}}",
		},
		{
			name:  "workflow identifiers",
			input: "{{workflow.run_id}} {{workflow.name}}",
			want:  "abcd1234 test-workflow",
		},
		{
			name:  "run and temp directories",
			input: "{{workflow.run_dir}}:{{temp_dir}}",
			want:  "/runs/abcd1234:/runs/abcd1234/temp",
		},
		{
			name:  "multiple placeholders resolve independently",
			input: "{{inputs.who}}-{{config.style}}-{{inputs.who}}",
			want:  "world-pixel art-world",
		},
		{
			name:  "whitespace inside braces is tolerated",
			input: "{{ inputs.who }}",
			want:  "world",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveString(tt.input, testEnv())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTimestamp(t *testing.T) {
	env := testEnv()
	fixed := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	env.Now = func() time.Time { return fixed }

	got := ResolveString("{{timestamp}}", env)
	assert.Equal(t, "2025-06-01T12:30:00Z", got)
}

func TestResolveWalksStructures(t *testing.T) {
	env := testEnv()

	value := map[string]interface{}{
		"prompt": "a {{config.style}} scene",
		"sizes":  []interface{}{"{{inputs.count}}", 512, true},
		"nested": map[string]interface{}{
			"path": "{{temp_dir}}/frame.png",
		},
	}

	resolved, ok := Resolve(value, env).(map[string]interface{})
	require.True(t, ok)

	assert.Equal(t, "a pixel art scene", resolved["prompt"])
	assert.Equal(t, []interface{}{"3", 512, true}, resolved["sizes"])

	nested, ok := resolved["nested"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/runs/abcd1234/temp/frame.png", nested["path"])
}

func TestResolveNonStringScalarsPassThrough(t *testing.T) {
	env := testEnv()

	assert.Equal(t, 42, Resolve(42, env))
	assert.Equal(t, 2.5, Resolve(2.5, env))
	assert.Equal(t, true, Resolve(true, env))
	assert.Nil(t, Resolve(nil, env))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"nil", nil, "None"},
		{"true", true, "True"},
		{"false", false, "False"},
		{"int", 7, "7"},
		{"float", 1.5, "1.5"},
		{"string", "as-is", "as-is"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.value))
		})
	}
}
