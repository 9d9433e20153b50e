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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/forge/internal/config"
	forgeerrors "github.com/tombee/forge/pkg/errors"
	"github.com/tombee/forge/pkg/workflow"
)

// sdTool generates images through the AUTOMATIC1111 Stable Diffusion
// webui API. Generated images land under the run's temp directory.
type sdTool struct {
	cfg    config.SDConfig
	client *http.Client
}

func registerSD(reg *workflow.Registry, cfg *config.Config) {
	t := &sdTool{
		cfg: cfg.Services.SD,
		client: &http.Client{
			Timeout: time.Duration(cfg.Services.SD.Timeout) * time.Second,
		},
	}
	reg.RegisterWithChecker("sd", t.handle, t.check)
}

type sdResponse struct {
	Images []string `json:"images"`
}

func (t *sdTool) handle(action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	switch action {
	case "txt2img":
		return t.txt2img(inputs, ctx)
	case "img2img":
		return t.img2img(inputs, ctx)
	default:
		return nil, &forgeerrors.ToolError{
			Tool:    "sd",
			Action:  action,
			Message: "unknown action (supported: txt2img, img2img)",
		}
	}
}

func (t *sdTool) txt2img(inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"prompt":          stringInput(inputs, "prompt", ""),
		"negative_prompt": stringInput(inputs, "negative_prompt", ""),
		"width":           intInput(inputs, "width", 512),
		"height":          intInput(inputs, "height", 512),
		"steps":           intInput(inputs, "steps", 20),
		"cfg_scale":       floatInput(inputs, "cfg_scale", 7.0),
		"batch_size":      intInput(inputs, "batch_size", 1),
		"sampler_name":    stringInput(inputs, "sampler_name", "Euler a"),
	}
	if boolInput(inputs, "tiling") {
		payload["tiling"] = true
	}

	result, err := t.post("txt2img", "/sdapi/v1/txt2img", payload)
	if err != nil {
		return nil, err
	}

	outputs := map[string]interface{}{}
	paths := make([]interface{}, 0, len(result.Images))
	for i, imgB64 := range result.Images {
		outputPath := filepath.Join(ctx.TempDir, fmt.Sprintf("generated_%d.png", i))
		if err := writeBase64Image(outputPath, imgB64); err != nil {
			return nil, &forgeerrors.ToolError{Tool: "sd", Action: "txt2img", Message: "failed to save image", Cause: err}
		}
		outputs[fmt.Sprintf("image_%d", i)] = outputPath
		paths = append(paths, outputPath)
	}
	if len(result.Images) > 0 {
		outputs["raw_images"] = paths
		outputs["primary"] = outputs["image_0"]
	}
	return outputs, nil
}

func (t *sdTool) img2img(inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	initImage := stringInput(inputs, "init_image", "")
	if initImage == "" {
		return nil, &forgeerrors.ToolError{Tool: "sd", Action: "img2img", Message: "init_image is required"}
	}
	data, err := os.ReadFile(initImage)
	if err != nil {
		return nil, &forgeerrors.ToolError{Tool: "sd", Action: "img2img", Message: "failed to read init image", Cause: err}
	}

	payload := map[string]interface{}{
		"prompt":             stringInput(inputs, "prompt", ""),
		"negative_prompt":    stringInput(inputs, "negative_prompt", ""),
		"init_images":        []string{base64.StdEncoding.EncodeToString(data)},
		"denoising_strength": floatInput(inputs, "denoising_strength", 0.7),
		"steps":              intInput(inputs, "steps", 20),
		"cfg_scale":          floatInput(inputs, "cfg_scale", 7.0),
	}

	result, err := t.post("img2img", "/sdapi/v1/img2img", payload)
	if err != nil {
		return nil, err
	}
	if len(result.Images) == 0 {
		return nil, &forgeerrors.ToolError{Tool: "sd", Action: "img2img", Message: "webui returned no images"}
	}

	outputPath := filepath.Join(ctx.TempDir, "img2img_result.png")
	if err := writeBase64Image(outputPath, result.Images[0]); err != nil {
		return nil, &forgeerrors.ToolError{Tool: "sd", Action: "img2img", Message: "failed to save image", Cause: err}
	}
	return map[string]interface{}{"image": outputPath}, nil
}

func (t *sdTool) post(action, path string, payload map[string]interface{}) (*sdResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &forgeerrors.ToolError{Tool: "sd", Action: action, Message: "failed to encode request", Cause: err}
	}

	resp, err := t.client.Post(t.cfg.Host+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, &forgeerrors.ToolError{Tool: "sd", Action: action, Message: "webui unreachable", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &forgeerrors.ToolError{
			Tool:    "sd",
			Action:  action,
			Message: fmt.Sprintf("webui returned HTTP %d", resp.StatusCode),
		}
	}

	var result sdResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &forgeerrors.ToolError{Tool: "sd", Action: action, Message: "failed to decode response", Cause: err}
	}
	return &result, nil
}

func writeBase64Image(path, b64 string) error {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// check probes the webui API.
func (t *sdTool) check() bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(t.cfg.Host + "/sdapi/v1/sd-models")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
