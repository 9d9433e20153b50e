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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/forge/internal/config"
	forgeerrors "github.com/tombee/forge/pkg/errors"
	"github.com/tombee/forge/pkg/workflow"
)

// ffmpegTool wraps the ffmpeg binary for audio/video processing.
type ffmpegTool struct {
	path string
}

func registerFFmpeg(reg *workflow.Registry, cfg *config.Config) {
	path := cfg.Services.FFmpeg.Path
	if path == "" {
		path = "ffmpeg"
	}
	if _, err := exec.LookPath(path); err != nil {
		reg.RecordLoadError("ffmpeg", fmt.Errorf("ffmpeg executable not found: %w", err))
		return
	}
	t := &ffmpegTool{path: path}
	reg.Register("ffmpeg", t.handle)
}

func (t *ffmpegTool) handle(action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	switch action {
	case "convert":
		input := stringInput(inputs, "input", "")
		output := stringInput(inputs, "output", "")
		if err := t.run(action, output, "-y", "-i", input, output); err != nil {
			return nil, err
		}
		return map[string]interface{}{"output": output}, nil

	case "normalize":
		input := stringInput(inputs, "input", "")
		output := stringInput(inputs, "output", "")
		if output == "" {
			ext := filepath.Ext(input)
			output = strings.TrimSuffix(input, ext) + "_normalized" + ext
		}
		if err := t.run(action, output,
			"-y", "-i", input,
			"-af", "loudnorm=I=-16:TP=-1.5:LRA=11",
			output,
		); err != nil {
			return nil, err
		}
		return map[string]interface{}{"output": output}, nil

	case "loop":
		input := stringInput(inputs, "input", "")
		output := stringInput(inputs, "output", "")
		count := intInput(inputs, "count", 2)
		crossfade := floatInput(inputs, "crossfade", 0.5)
		if err := t.run(action, output,
			"-y",
			"-stream_loop", strconv.Itoa(count-1),
			"-i", input,
			"-af", fmt.Sprintf("acrossfade=d=%g:c1=tri:c2=tri", crossfade),
			output,
		); err != nil {
			return nil, err
		}
		return map[string]interface{}{"output": output}, nil

	case "trim":
		input := stringInput(inputs, "input", "")
		output := stringInput(inputs, "output", "")
		args := []string{"-y", "-i", input, "-ss", stringInput(inputs, "start", "0")}
		if duration := stringInput(inputs, "duration", ""); duration != "" {
			args = append(args, "-t", duration)
		} else if end := stringInput(inputs, "end", ""); end != "" {
			args = append(args, "-to", end)
		}
		args = append(args, output)
		if err := t.run(action, output, args...); err != nil {
			return nil, err
		}
		return map[string]interface{}{"output": output}, nil

	case "get_duration":
		input := stringInput(inputs, "input", "")
		out, err := probe(input)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"duration": out}, nil
	}

	return nil, &forgeerrors.ToolError{
		Tool:    "ffmpeg",
		Action:  action,
		Message: "unknown action (supported: convert, normalize, loop, trim, get_duration)",
	}
}

// run executes ffmpeg with the output's parent directory ensured.
func (t *ffmpegTool) run(action, output string, args ...string) error {
	if output != "" {
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return &forgeerrors.ToolError{Tool: "ffmpeg", Action: action, Message: "failed to create output directory", Cause: err}
		}
	}

	execCtx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, t.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &forgeerrors.ToolError{
			Tool:    "ffmpeg",
			Action:  action,
			Message: strings.TrimSpace(stderr.String()),
			Cause:   err,
		}
	}
	return nil
}

// probe reads a media file's duration in seconds via ffprobe.
func probe(input string) (float64, error) {
	execCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, &forgeerrors.ToolError{
			Tool:    "ffmpeg",
			Action:  "get_duration",
			Message: strings.TrimSpace(stderr.String()),
			Cause:   err,
		}
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, &forgeerrors.ToolError{Tool: "ffmpeg", Action: "get_duration", Message: "unparseable ffprobe output", Cause: err}
	}
	return duration, nil
}
