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

// Package tools contains the built-in tool adapters: ollama (local LLM),
// sd (Stable Diffusion webui), script (subprocess runner), file_ops,
// ffmpeg, blender, validator (image quality gates), and batch (foreach).
//
// Adapters register through RegisterBuiltins at program start. An adapter
// whose prerequisites are missing (absent binary, bad config) is recorded
// as a load error and left out of the registry; the rest keep working.
package tools

import (
	"fmt"
	"strconv"

	"github.com/tombee/forge/internal/config"
	"github.com/tombee/forge/pkg/workflow"
)

// RegisterBuiltins installs every built-in adapter on the registry.
func RegisterBuiltins(reg *workflow.Registry, cfg *config.Config) {
	registerOllama(reg, cfg)
	registerSD(reg, cfg)
	registerScript(reg)
	registerFileOps(reg)
	registerFFmpeg(reg, cfg)
	registerBlender(reg, cfg)
	registerValidator(reg)
	registerBatch(reg)
}

// stringInput reads a string-valued input with a default.
func stringInput(inputs map[string]interface{}, key, def string) string {
	v, ok := inputs[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// intInput reads an integer input, tolerating YAML numbers and resolved
// placeholder strings.
func intInput(inputs map[string]interface{}, key string, def int) int {
	v, ok := inputs[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

// floatInput reads a float input, tolerating YAML numbers and resolved
// placeholder strings.
func floatInput(inputs map[string]interface{}, key string, def float64) float64 {
	v, ok := inputs[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if parsed, err := strconv.ParseFloat(n, 64); err == nil {
			return parsed
		}
	}
	return def
}

// boolInput reads a boolean input.
func boolInput(inputs map[string]interface{}, key string) bool {
	v, ok := inputs[key]
	if !ok || v == nil {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1" || b == "yes"
	}
	return false
}
