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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOpsCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	out, err := handleFileOps("copy", map[string]interface{}{
		"source":      src,
		"destination": dst,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, dst, out["destination"])
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.FileExists(t, src)
}

func TestFileOpsMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "out", "moved.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	_, err := handleFileOps("move", map[string]interface{}{
		"source":      src,
		"destination": dst,
	}, nil)
	require.NoError(t, err)

	assert.FileExists(t, dst)
	assert.NoFileExists(t, src)
}

func TestFileOpsDeleteAndMkdir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub", "deep")

	_, err := handleFileOps("mkdir", map[string]interface{}{"path": target}, nil)
	require.NoError(t, err)
	assert.DirExists(t, target)

	_, err = handleFileOps("delete", map[string]interface{}{"path": filepath.Join(dir, "sub")}, nil)
	require.NoError(t, err)
	assert.NoDirExists(t, target)

	// Deleting a missing path is not an error.
	_, err = handleFileOps("delete", map[string]interface{}{"path": filepath.Join(dir, "absent")}, nil)
	assert.NoError(t, err)
}

func TestFileOpsList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.png"), nil, 0o644))

	out, err := handleFileOps("list", map[string]interface{}{
		"path":    dir,
		"pattern": "*.png",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])

	// doublestar patterns reach into subdirectories.
	out, err = handleFileOps("list", map[string]interface{}{
		"path":    dir,
		"pattern": "**/*.png",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out["count"])
}

func TestFileOpsCopyMultiple(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))

	out, err := handleFileOps("copy_multiple", map[string]interface{}{
		"copies": []interface{}{
			map[string]interface{}{
				"source":      filepath.Join(dir, "a.txt"),
				"destination": filepath.Join(dir, "out", "a.txt"),
			},
			map[string]interface{}{
				"source":      filepath.Join(dir, "b.txt"),
				"destination": filepath.Join(dir, "out", "b.txt"),
			},
		},
	}, nil)
	require.NoError(t, err)

	copies := out["copies"].([]interface{})
	assert.Len(t, copies, 2)
	assert.FileExists(t, filepath.Join(dir, "out", "a.txt"))
	assert.FileExists(t, filepath.Join(dir, "out", "b.txt"))
}

func TestFileOpsUnknownAction(t *testing.T) {
	_, err := handleFileOps("teleport", map[string]interface{}{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}
