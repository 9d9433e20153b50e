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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tombee/forge/internal/config"
	forgeerrors "github.com/tombee/forge/pkg/errors"
	"github.com/tombee/forge/pkg/workflow"
)

// ollamaTool delegates text generation to a local Ollama instance, the
// workhorse LLM integration for prompt-building steps.
type ollamaTool struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func registerOllama(reg *workflow.Registry, cfg *config.Config) {
	t := &ollamaTool{
		cfg: cfg.Services.Ollama,
		client: &http.Client{
			Timeout: time.Duration(cfg.Services.Ollama.Timeout) * time.Second,
		},
	}
	reg.RegisterWithChecker("ollama", t.handle, t.check)
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (t *ollamaTool) handle(action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	if action != "generate" {
		return nil, &forgeerrors.ToolError{
			Tool:    "ollama",
			Action:  action,
			Message: "unknown action (supported: generate)",
		}
	}

	model := stringInput(inputs, "model", t.cfg.DefaultModel)
	prompt := stringInput(inputs, "prompt", "")
	system := stringInput(inputs, "system", "")
	host := stringInput(inputs, "host", t.cfg.Host)

	fullPrompt := prompt
	if system != "" {
		fullPrompt = system + "\n\n" + prompt
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  model,
		Prompt: fullPrompt,
		Stream: false,
	})
	if err != nil {
		return nil, &forgeerrors.ToolError{Tool: "ollama", Action: action, Message: "failed to encode request", Cause: err}
	}

	resp, err := t.client.Post(host+"/api/generate", "application/json", bytes.NewReader(body))
	if err != nil {
		// Degrade to passing the prompt through, so downstream image steps
		// still receive usable text when the model host is down.
		ctx.Logger.Warn("ollama unreachable, falling back to prompt passthrough", "error", err.Error())
		return map[string]interface{}{"response": prompt, "sd_prompt": prompt}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &forgeerrors.ToolError{
			Tool:    "ollama",
			Action:  action,
			Message: fmt.Sprintf("generate returned HTTP %d", resp.StatusCode),
		}
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &forgeerrors.ToolError{Tool: "ollama", Action: action, Message: "failed to decode response", Cause: err}
	}

	return map[string]interface{}{
		"response":  result.Response,
		"sd_prompt": result.Response,
	}, nil
}

// check probes the Ollama model-list endpoint (/api/tags).
func (t *ollamaTool) check() bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(t.cfg.Host + "/api/tags")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
