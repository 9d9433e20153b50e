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
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	forgeerrors "github.com/tombee/forge/pkg/errors"
	"github.com/tombee/forge/pkg/workflow"
)

// registerValidator installs the image quality gate adapter. Its outputs
// follow the validation convention consumed by gate steps:
// {"passed": bool, "failures": [...], ...}.
func registerValidator(reg *workflow.Registry) {
	reg.Register("validator", handleValidator)
}

// seamlessThresholds maps named strictness levels to edge-difference
// tolerances and minimum scores.
var seamlessThresholds = map[string]struct {
	maxDiff  int
	minScore float64
}{
	"low":    {maxDiff: 40, minScore: 0.5},
	"medium": {maxDiff: 30, minScore: 0.65},
	"high":   {maxDiff: 20, minScore: 0.8},
}

func handleValidator(action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	switch action {
	case "check_image":
		return checkImage(inputs)
	case "check_tileset":
		return checkTileset(inputs)
	case "check_sprites":
		return checkSprites(inputs, ctx)
	}
	return nil, &forgeerrors.ToolError{
		Tool:    "validator",
		Action:  action,
		Message: "unknown action (supported: check_image, check_tileset, check_sprites)",
	}
}

func checkImage(inputs map[string]interface{}) (map[string]interface{}, error) {
	imagePath := stringInput(inputs, "image", "")
	checks := checksMap(inputs["checks"])

	img, err := decodeImage(imagePath)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	passed := true
	failures := []string{}

	if truthyCheck(checks["has_transparency"]) {
		if !hasAlphaChannel(img) {
			passed = false
			failures = append(failures, "No alpha channel")
		} else if !hasTransparentPixel(img) {
			passed = false
			failures = append(failures, "No transparent pixels")
		}
	}

	if minWidth, ok := intCheck(checks["min_width"]); ok && width < minWidth {
		passed = false
		failures = append(failures, fmt.Sprintf("Width %d < %d", width, minWidth))
	}

	if minHeight, ok := intCheck(checks["min_height"]); ok && height < minHeight {
		passed = false
		failures = append(failures, fmt.Sprintf("Height %d < %d", height, minHeight))
	}

	if maxKB, ok := intCheck(checks["max_file_size_kb"]); ok {
		if info, err := os.Stat(imagePath); err == nil {
			sizeKB := float64(info.Size()) / 1024
			if sizeKB > float64(maxKB) {
				passed = false
				failures = append(failures, fmt.Sprintf("Size %.1fKB > %dKB", sizeKB, maxKB))
			}
		}
	}

	return map[string]interface{}{"passed": passed, "failures": failures}, nil
}

func checkTileset(inputs map[string]interface{}) (map[string]interface{}, error) {
	imagePath := stringInput(inputs, "image", "")
	checks := checksMap(inputs["checks"])

	img, err := decodeImage(imagePath)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	passed := true
	failures := []string{}
	scores := map[string]interface{}{}

	if truthyCheck(checks["seamless"]) {
		threshold := stringInput(checks, "seamless_threshold", "medium")
		cfg, ok := seamlessThresholds[threshold]
		if !ok {
			cfg = seamlessThresholds["medium"]
		}
		score := seamlessScore(img, cfg.maxDiff)
		scores["seamless"] = score
		if score < cfg.minScore {
			passed = false
			failures = append(failures, fmt.Sprintf(
				"Seamless score %.2f < %.2f (threshold: %s)", score, cfg.minScore, threshold))
		}
	}

	if minSize, ok := intCheck(checks["min_size"]); ok {
		if width < minSize || height < minSize {
			passed = false
			failures = append(failures, fmt.Sprintf("Size %dx%d < %d", width, height, minSize))
		}
	}

	if truthyCheck(checks["square"]) && width != height {
		passed = false
		failures = append(failures, fmt.Sprintf("Not square: %dx%d", width, height))
	}

	return map[string]interface{}{"passed": passed, "failures": failures, "scores": scores}, nil
}

func checkSprites(inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	imagesDir := stringInput(inputs, "images_dir", "")

	// The checks field accepts either a list of check names or a checks map.
	checks := map[string]interface{}{}
	switch c := inputs["checks"].(type) {
	case []interface{}:
		for _, name := range c {
			checks[fmt.Sprintf("%v", name)] = true
		}
	case map[string]interface{}:
		checks = c
	}

	entries, err := filepath.Glob(filepath.Join(imagesDir, "*.png"))
	if err != nil {
		return nil, &forgeerrors.ToolError{Tool: "validator", Action: "check_sprites", Message: "failed to list images", Cause: err}
	}
	sort.Strings(entries)

	validImages := []interface{}{}
	qualityScores := map[string]interface{}{}
	for _, imgPath := range entries {
		result, err := checkImage(map[string]interface{}{
			"image":  imgPath,
			"checks": checks,
		})
		if err != nil {
			qualityScores[imgPath] = 0.0
			continue
		}
		if result["passed"].(bool) {
			validImages = append(validImages, imgPath)
			qualityScores[imgPath] = 1.0
		} else {
			qualityScores[imgPath] = 0.0
		}
	}

	return map[string]interface{}{
		"valid_images":   validImages,
		"quality_scores": qualityScores,
	}, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &forgeerrors.ToolError{Tool: "validator", Message: fmt.Sprintf("failed to open image: %s", path), Cause: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &forgeerrors.ToolError{Tool: "validator", Message: fmt.Sprintf("failed to decode image: %s", path), Cause: err}
	}
	return img, nil
}

// hasAlphaChannel reports whether the image's color model can carry
// transparency at all.
func hasAlphaChannel(img image.Image) bool {
	switch img.ColorModel() {
	case color.NRGBAModel, color.NRGBA64Model, color.RGBAModel, color.RGBA64Model,
		color.AlphaModel, color.Alpha16Model:
		return true
	}
	if p, ok := img.ColorModel().(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}

func hasTransparentPixel(img image.Image) bool {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}

// seamlessScore measures how well opposite edges of a tile match: the
// fraction of edge channel values whose difference is under maxDiff,
// averaged over the left/right and top/bottom edge pairs.
func seamlessScore(img image.Image, maxDiff int) float64 {
	bounds := img.Bounds()

	var lrMatches, lrTotal int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		left := rgb8(img.At(bounds.Min.X, y))
		right := rgb8(img.At(bounds.Max.X-1, y))
		for i := 0; i < 3; i++ {
			if absInt(left[i]-right[i]) < maxDiff {
				lrMatches++
			}
			lrTotal++
		}
	}

	var tbMatches, tbTotal int
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		top := rgb8(img.At(x, bounds.Min.Y))
		bottom := rgb8(img.At(x, bounds.Max.Y-1))
		for i := 0; i < 3; i++ {
			if absInt(top[i]-bottom[i]) < maxDiff {
				tbMatches++
			}
			tbTotal++
		}
	}

	if lrTotal == 0 || tbTotal == 0 {
		return 0
	}
	return (float64(lrMatches)/float64(lrTotal) + float64(tbMatches)/float64(tbTotal)) / 2
}

func rgb8(c color.Color) [3]int {
	r, g, b, _ := c.RGBA()
	return [3]int{int(r >> 8), int(g >> 8), int(b >> 8)}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func checksMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func truthyCheck(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	case nil:
		return false
	}
	return true
}

func intCheck(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
