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
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePNG writes a width x height image filled with fill. When
// transparentCorner is set, the top-left pixel gets zero alpha.
func writePNG(t *testing.T, path string, width, height int, fill color.NRGBA, transparentCorner bool) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, fill)
		}
	}
	if transparentCorner {
		img.SetNRGBA(0, 0, color.NRGBA{})
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestCheckImageTransparency(t *testing.T) {
	dir := t.TempDir()

	withAlpha := filepath.Join(dir, "sprite.png")
	writePNG(t, withAlpha, 64, 64, color.NRGBA{R: 200, G: 100, B: 50, A: 255}, true)

	out, err := handleValidator("check_image", map[string]interface{}{
		"image":  withAlpha,
		"checks": map[string]interface{}{"has_transparency": true},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["passed"])

	opaque := filepath.Join(dir, "opaque.png")
	writePNG(t, opaque, 64, 64, color.NRGBA{R: 200, G: 100, B: 50, A: 255}, false)

	out, err = handleValidator("check_image", map[string]interface{}{
		"image":  opaque,
		"checks": map[string]interface{}{"has_transparency": true},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out["passed"])
	assert.Contains(t, out["failures"], "No transparent pixels")
}

func TestCheckImageDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.png")
	writePNG(t, path, 32, 48, color.NRGBA{R: 10, G: 10, B: 10, A: 255}, false)

	out, err := handleValidator("check_image", map[string]interface{}{
		"image": path,
		"checks": map[string]interface{}{
			"min_width":  64,
			"min_height": 32,
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, false, out["passed"])
	failures := out["failures"].([]string)
	require.Len(t, failures, 1)
	assert.Equal(t, "Width 32 < 64", failures[0])
}

func TestCheckTilesetSeamlessUniform(t *testing.T) {
	// A uniform tile has identical opposite edges: a perfect seamless score.
	path := filepath.Join(t.TempDir(), "tile.png")
	writePNG(t, path, 64, 64, color.NRGBA{R: 80, G: 120, B: 90, A: 255}, false)

	out, err := handleValidator("check_tileset", map[string]interface{}{
		"image": path,
		"checks": map[string]interface{}{
			"seamless":           true,
			"seamless_threshold": "high",
			"min_size":           64,
			"square":             true,
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, true, out["passed"])
	scores := out["scores"].(map[string]interface{})
	assert.Equal(t, 1.0, scores["seamless"])
}

func TestCheckTilesetMismatchedEdgesFails(t *testing.T) {
	// Left half black, right half white: left/right edges disagree hard.
	path := filepath.Join(t.TempDir(), "split.png")
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := color.NRGBA{A: 255}
			if x >= 32 {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	out, err := handleValidator("check_tileset", map[string]interface{}{
		"image": path,
		"checks": map[string]interface{}{
			"seamless":           true,
			"seamless_threshold": "high",
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, false, out["passed"])
	failures := out["failures"].([]string)
	require.NotEmpty(t, failures)
	assert.Contains(t, failures[0], "Seamless score")
}

func TestCheckTilesetNotSquare(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rect.png")
	writePNG(t, path, 64, 32, color.NRGBA{R: 80, G: 120, B: 90, A: 255}, false)

	out, err := handleValidator("check_tileset", map[string]interface{}{
		"image":  path,
		"checks": map[string]interface{}{"square": true},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, false, out["passed"])
	assert.Contains(t, out["failures"], "Not square: 64x32")
}

func TestCheckSprites(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "good.png"), 64, 64, color.NRGBA{R: 1, G: 2, B: 3, A: 255}, true)
	writePNG(t, filepath.Join(dir, "bad.png"), 64, 64, color.NRGBA{R: 1, G: 2, B: 3, A: 255}, false)

	out, err := handleValidator("check_sprites", map[string]interface{}{
		"images_dir": dir,
		"checks":     []interface{}{"has_transparency"},
	}, nil)
	require.NoError(t, err)

	valid := out["valid_images"].([]interface{})
	require.Len(t, valid, 1)
	assert.Equal(t, filepath.Join(dir, "good.png"), valid[0])

	scores := out["quality_scores"].(map[string]interface{})
	assert.Equal(t, 1.0, scores[filepath.Join(dir, "good.png")])
	assert.Equal(t, 0.0, scores[filepath.Join(dir, "bad.png")])
}

func TestValidatorUnknownAction(t *testing.T) {
	_, err := handleValidator("check_everything", map[string]interface{}{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}
