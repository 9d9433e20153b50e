package workflow

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/forge/pkg/recipe"
)

func TestNewContextCreatesDirectories(t *testing.T) {
	rec := &recipe.Recipe{Name: "dirs"}
	base := t.TempDir()

	ctx, err := NewContext(rec, nil, base, nil)
	require.NoError(t, err)

	assert.Len(t, ctx.RunID, 8)
	assert.Equal(t, filepath.Join(base, ctx.RunID), ctx.RunDir)
	assert.Equal(t, filepath.Join(ctx.RunDir, "temp"), ctx.TempDir)
	assert.DirExists(t, ctx.RunDir)
	assert.DirExists(t, ctx.TempDir)
}

func TestSetStepOutputWrapsOutputs(t *testing.T) {
	rec := &recipe.Recipe{Name: "wrap"}
	ctx, err := NewContext(rec, nil, t.TempDir(), nil)
	require.NoError(t, err)

	ctx.SetStepOutput("s1", map[string]interface{}{"image": "/tmp/a.png"})

	wrapped := ctx.StepsOutput["s1"]
	outputs, ok := wrapped["outputs"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/tmp/a.png", outputs["image"])

	// And it is visible through resolution immediately.
	assert.Equal(t, "/tmp/a.png", ctx.ResolveString("{{steps.s1.outputs.image}}"))
}

func TestSetRunIDOverridesRunID(t *testing.T) {
	rec := &recipe.Recipe{Name: "rebind"}
	ctx, err := NewContext(rec, nil, t.TempDir(), nil)
	require.NoError(t, err)

	original := ctx.RunID
	ctx.SetRunID("store123")

	assert.Equal(t, "store123", ctx.RunID)
	assert.NotEqual(t, original, ctx.RunID)
	assert.Equal(t, "store123", ctx.ResolveString("{{workflow.run_id}}"))
}

func TestMaxIterations(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]interface{}
		want   int
	}{
		{"default", nil, 3},
		{"explicit int", map[string]interface{}{"max_iterations": 5}, 5},
		{"yaml float", map[string]interface{}{"max_iterations": 2.0}, 2},
		{"zero falls back", map[string]interface{}{"max_iterations": 0}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recipe.Recipe{Name: "caps", Config: tt.config}
			ctx, err := NewContext(rec, nil, t.TempDir(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ctx.MaxIterations())
		})
	}
}
