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
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	forgeerrors "github.com/tombee/forge/pkg/errors"
	"github.com/tombee/forge/pkg/workflow"
)

// registerFileOps installs the filesystem operations adapter.
func registerFileOps(reg *workflow.Registry) {
	reg.Register("file_ops", handleFileOps)
}

func handleFileOps(action string, inputs map[string]interface{}, ctx *workflow.Context) (map[string]interface{}, error) {
	switch action {
	case "copy":
		src := stringInput(inputs, "source", "")
		dst := stringInput(inputs, "destination", "")
		if err := copyFile(src, dst); err != nil {
			return nil, &forgeerrors.ToolError{Tool: "file_ops", Action: action, Message: "copy failed", Cause: err}
		}
		return map[string]interface{}{"destination": dst}, nil

	case "move":
		src := stringInput(inputs, "source", "")
		dst := stringInput(inputs, "destination", "")
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, &forgeerrors.ToolError{Tool: "file_ops", Action: action, Message: "move failed", Cause: err}
		}
		if err := os.Rename(src, dst); err != nil {
			return nil, &forgeerrors.ToolError{Tool: "file_ops", Action: action, Message: "move failed", Cause: err}
		}
		return map[string]interface{}{"destination": dst}, nil

	case "delete":
		path := stringInput(inputs, "path", "")
		if err := os.RemoveAll(path); err != nil {
			return nil, &forgeerrors.ToolError{Tool: "file_ops", Action: action, Message: "delete failed", Cause: err}
		}
		return map[string]interface{}{"deleted": path}, nil

	case "mkdir":
		path := stringInput(inputs, "path", "")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, &forgeerrors.ToolError{Tool: "file_ops", Action: action, Message: "mkdir failed", Cause: err}
		}
		return map[string]interface{}{"created": path}, nil

	case "copy_multiple":
		copies, _ := inputs["copies"].([]interface{})
		results := make([]interface{}, 0, len(copies))
		for _, spec := range copies {
			m, ok := spec.(map[string]interface{})
			if !ok {
				continue
			}
			src := stringInput(m, "source", "")
			dst := stringInput(m, "destination", "")
			if err := copyFile(src, dst); err != nil {
				return nil, &forgeerrors.ToolError{Tool: "file_ops", Action: action, Message: fmt.Sprintf("copy %s failed", src), Cause: err}
			}
			results = append(results, map[string]interface{}{"source": src, "destination": dst})
		}
		return map[string]interface{}{"copies": results}, nil

	case "list":
		dir := stringInput(inputs, "path", ".")
		pattern := stringInput(inputs, "pattern", "*")
		matches, err := doublestar.Glob(os.DirFS(dir), pattern)
		if err != nil {
			return nil, &forgeerrors.ToolError{Tool: "file_ops", Action: action, Message: "glob failed", Cause: err}
		}
		sort.Strings(matches)
		files := make([]interface{}, 0, len(matches))
		for _, m := range matches {
			files = append(files, filepath.Join(dir, m))
		}
		return map[string]interface{}{"files": files, "count": len(files)}, nil
	}

	return nil, &forgeerrors.ToolError{
		Tool:    "file_ops",
		Action:  action,
		Message: "unknown action (supported: copy, move, delete, mkdir, copy_multiple, list)",
	}
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
