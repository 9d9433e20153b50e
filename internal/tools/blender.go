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
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/forge/internal/config"
	forgeerrors "github.com/tombee/forge/pkg/errors"
	"github.com/tombee/forge/pkg/workflow"
)

// blenderTool renders .blend scenes headlessly through the Blender CLI.
type blenderTool struct {
	path string
}

func registerBlender(reg *workflow.Registry, cfg *config.Config) {
	path := cfg.Services.Blender.Path
	if path == "" {
		reg.RecordLoadError("blender", errors.New("blender executable not found (set services.blender.path)"))
		return
	}
	t := &blenderTool{path: path}
	reg.Register("blender", t.handle)
}

func (t *blenderTool) handle(action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	switch action {
	case "render":
		blendFile := stringInput(inputs, "blend_file", "")
		outputPath := stringInput(inputs, "output_path", filepath.Join(ctx.TempDir, "render.png"))
		frame := intInput(inputs, "frame", 1)

		if err := t.run(action,
			"-b", blendFile,
			"-o", strings.TrimSuffix(outputPath, filepath.Ext(outputPath)),
			"-f", fmt.Sprintf("%d", frame),
		); err != nil {
			return nil, err
		}
		return map[string]interface{}{"output": outputPath}, nil

	case "render_animation":
		blendFile := stringInput(inputs, "blend_file", "")
		outputDir := stringInput(inputs, "output_dir", filepath.Join(ctx.TempDir, "frames"))
		frameStart := intInput(inputs, "frame_start", 1)
		frameEnd := intInput(inputs, "frame_end", 24)

		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, &forgeerrors.ToolError{Tool: "blender", Action: action, Message: "failed to create output directory", Cause: err}
		}
		if err := t.run(action,
			"-b", blendFile,
			"-o", filepath.Join(outputDir, "frame_####"),
			"-s", fmt.Sprintf("%d", frameStart),
			"-e", fmt.Sprintf("%d", frameEnd),
			"-a",
		); err != nil {
			return nil, err
		}
		return map[string]interface{}{"output_dir": outputDir}, nil
	}

	return nil, &forgeerrors.ToolError{
		Tool:    "blender",
		Action:  action,
		Message: "unknown action (supported: render, render_animation)",
	}
}

func (t *blenderTool) run(action string, args ...string) error {
	execCtx, cancel := context.WithTimeout(context.Background(), 600*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, t.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &forgeerrors.ToolError{
			Tool:    "blender",
			Action:  action,
			Message: strings.TrimSpace(stderr.String()),
			Cause:   err,
		}
	}
	return nil
}
