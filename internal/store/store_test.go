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

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartRunAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, "/recipes/tileset.yaml",
		map[string]interface{}{"theme": "dungeon"}, "", "/runs/x")
	require.NoError(t, err)
	assert.Len(t, runID, 8)

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, "running", run.Status)
	assert.Equal(t, "/recipes/tileset.yaml", run.RecipePath)
	assert.Equal(t, "tileset", run.RecipeName)
	assert.Equal(t, "dungeon", run.Inputs["theme"])
	assert.Equal(t, "/runs/x", run.RunDirectory)
	assert.NotNil(t, run.StartedAt)
	assert.Nil(t, run.CompletedAt)
}

func TestGetRunMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)

	run, err := s.GetRun(context.Background(), "nope1234")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestCompleteRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, "r.yaml", nil, "", "")
	require.NoError(t, err)

	outputs := map[string]map[string]interface{}{
		"s1": {"outputs": map[string]interface{}{"image": "/tmp/a.png"}},
	}
	require.NoError(t, s.CompleteRun(ctx, runID, outputs))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.Contains(t, run.Outputs, "s1")
}

func TestFailRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, "r.yaml", nil, "", "")
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, runID, "validation gate failed"))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, "validation gate failed", run.ErrorMessage)
	assert.NotNil(t, run.CompletedAt)
}

func TestListRunsFiltersAndLimits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.StartRun(ctx, "a.yaml", nil, "", "")
	require.NoError(t, err)
	second, err := s.StartRun(ctx, "b.yaml", nil, "", "")
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, first, nil))
	require.NoError(t, s.FailRun(ctx, second, "boom"))

	all, err := s.ListRuns(ctx, "", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := s.ListRuns(ctx, "", "failed", 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, second, failed[0].ID)

	limited, err := s.ListRuns(ctx, "", "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStepLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, "r.yaml", nil, "", "")
	require.NoError(t, err)

	require.NoError(t, s.StartStep(ctx, runID, "generate", "Generate image",
		map[string]interface{}{"prompt": "{{inputs.theme}}"}))
	require.NoError(t, s.CompleteStep(ctx, runID, "generate",
		map[string]interface{}{"outputs": map[string]interface{}{"image": "/tmp/a.png"}}))

	steps, err := s.ListSteps(ctx, runID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "completed", steps[0].Status)
	assert.Equal(t, "Generate image", steps[0].StepName)
	assert.NotNil(t, steps[0].CompletedAt)
}

func TestStepReentryReplacesPriorAttempt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, "r.yaml", nil, "", "")
	require.NoError(t, err)

	require.NoError(t, s.StartStep(ctx, runID, "validate", "Validate", nil))
	require.NoError(t, s.FailStep(ctx, runID, "validate", "not seamless"))

	// The refinement loop re-enters the same step id; the prior attempt is
	// replaced, never duplicated.
	require.NoError(t, s.StartStep(ctx, runID, "validate", "Validate", nil))
	require.NoError(t, s.CompleteStep(ctx, runID, "validate",
		map[string]interface{}{"outputs": map[string]interface{}{"passed": true}}))

	steps, err := s.ListSteps(ctx, runID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "completed", steps[0].Status)
	assert.Empty(t, steps[0].ErrorMessage)
}

func TestCompletedSteps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, "r.yaml", nil, "", "")
	require.NoError(t, err)

	require.NoError(t, s.StartStep(ctx, runID, "a", "A", nil))
	require.NoError(t, s.CompleteStep(ctx, runID, "a",
		map[string]interface{}{"outputs": map[string]interface{}{"v": 1}}))
	require.NoError(t, s.StartStep(ctx, runID, "b", "B", nil))
	require.NoError(t, s.FailStep(ctx, runID, "b", "boom"))

	completed, err := s.CompletedSteps(ctx, runID)
	require.NoError(t, err)
	assert.Contains(t, completed, "a")
	assert.NotContains(t, completed, "b")
}

func TestRegisterAssetHashesContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	content := []byte("tileset pixels go here")
	path := filepath.Join(t.TempDir(), "tileset.png")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	assetID, err := s.RegisterAsset(ctx, path, "image", "", "", "",
		map[string]interface{}{"theme": "dungeon"}, []string{"tileset", "v1"})
	require.NoError(t, err)
	assert.Len(t, assetID, 8)

	asset, err := s.GetAsset(ctx, assetID)
	require.NoError(t, err)
	require.NotNil(t, asset)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:])[:16], asset.FileHash)
	assert.Equal(t, int64(len(content)), asset.FileSize)
	assert.Equal(t, "tileset", asset.Name)
	assert.Equal(t, "image", asset.Type)
	assert.Equal(t, []string{"tileset", "v1"}, asset.Tags)
	assert.Equal(t, "dungeon", asset.Metadata["theme"])
}

func TestGetStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.StartRun(ctx, "a.yaml", nil, "", "")
	require.NoError(t, err)
	second, err := s.StartRun(ctx, "b.yaml", nil, "", "")
	require.NoError(t, err)
	_, err = s.StartRun(ctx, "c.yaml", nil, "", "")
	require.NoError(t, err)

	require.NoError(t, s.CompleteRun(ctx, first, nil))
	require.NoError(t, s.FailRun(ctx, second, "boom"))

	stats, err := s.GetStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Runs.Total)
	assert.Equal(t, 1, stats.Runs.Completed)
	assert.Equal(t, 1, stats.Runs.Failed)
}
