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
	"strings"
	"time"

	forgeerrors "github.com/tombee/forge/pkg/errors"
	"github.com/tombee/forge/pkg/workflow"
)

// registerScript installs the user-script runner.
//
// Scripts execute with the same permissions as the forge process; recipes
// from untrusted sources can run arbitrary commands through this tool.
func registerScript(reg *workflow.Registry) {
	reg.Register("script", handleScript)
}

func handleScript(action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	if action != "run" {
		return nil, &forgeerrors.ToolError{
			Tool:    "script",
			Action:  action,
			Message: "unknown action (supported: run)",
		}
	}

	scriptPath := stringInput(inputs, "script", "")
	if scriptPath == "" {
		return nil, &forgeerrors.ToolError{Tool: "script", Action: action, Message: "script path is required"}
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, &forgeerrors.ToolError{Tool: "script", Action: action, Message: fmt.Sprintf("script not found: %s", scriptPath), Cause: err}
	}

	args := scriptArgs(inputs["args"])
	timeout := time.Duration(intInput(inputs, "timeout", 300)) * time.Second
	workingDir := stringInput(inputs, "working_dir", "")

	execCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch strings.ToLower(filepath.Ext(scriptPath)) {
	case ".py":
		cmd = exec.CommandContext(execCtx, "python3", append([]string{scriptPath}, args...)...)
	case ".sh", ".bash":
		cmd = exec.CommandContext(execCtx, "bash", append([]string{scriptPath}, args...)...)
	default:
		cmd = exec.CommandContext(execCtx, scriptPath, args...)
	}
	cmd.Dir = workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	ctx.Logger.Info("running script", "script", filepath.Base(scriptPath))

	err := cmd.Run()
	returnCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			returnCode = exitErr.ExitCode()
		} else {
			return nil, &forgeerrors.ToolError{Tool: "script", Action: action, Message: "failed to run script", Cause: err}
		}
	}

	if returnCode != 0 {
		ctx.Logger.Warn("script exited non-zero", "return_code", returnCode, "stderr", stderr.String())
	}

	return map[string]interface{}{
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"return_code": returnCode,
		"success":     returnCode == 0,
	}, nil
}

// scriptArgs accepts either a list or a whitespace-separated string.
func scriptArgs(v interface{}) []string {
	switch args := v.(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(args)
	case []interface{}:
		out := make([]string, 0, len(args))
		for _, a := range args {
			out = append(out, fmt.Sprintf("%v", a))
		}
		return out
	case []string:
		return args
	}
	return nil
}
