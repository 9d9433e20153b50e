package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	forgeerrors "github.com/tombee/forge/pkg/errors"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", echoHandler)

	out, err := reg.Execute("echo", "say", map[string]interface{}{"k": "v"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "v", out["k"])
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry()
	reg.Register("sd", echoHandler)
	reg.Register("ollama", echoHandler)

	_, err := reg.Execute("blender", "render", nil, nil)
	require.Error(t, err)

	var uerr *forgeerrors.UnknownToolError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "blender", uerr.Name)
	assert.Equal(t, []string{"ollama", "sd"}, uerr.Available)
}

func TestRegistryAvailableToolsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("zeta", echoHandler)
	reg.Register("alpha", echoHandler)
	reg.Register("mid", echoHandler)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.AvailableTools())
}

func TestRegistryLoadErrorsFailClosed(t *testing.T) {
	reg := NewRegistry()
	reg.Register("working", echoHandler)
	reg.RecordLoadError("broken", errors.New("binary not found"))

	assert.Equal(t, []string{"working"}, reg.AvailableTools())
	assert.Equal(t, map[string]string{"broken": "binary not found"}, reg.LoadErrors())

	_, err := reg.Execute("broken", "act", nil, nil)
	require.Error(t, err)
}

func TestRegistryPreflight(t *testing.T) {
	reg := NewRegistry()
	reg.Register("always", echoHandler)
	reg.RegisterWithChecker("down", echoHandler, func() bool { return false })
	reg.RegisterWithChecker("up", echoHandler, func() bool { return true })

	results := reg.PreflightCheck()
	assert.Equal(t, map[string]bool{
		"always": true,
		"down":   false,
		"up":     true,
	}, results)
}
