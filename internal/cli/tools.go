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

package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tombee/forge/internal/tools"
	"github.com/tombee/forge/pkg/workflow"
)

func newToolsCmd(loadConfig configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List available tool adapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			registry := workflow.NewRegistry()
			tools.RegisterBuiltins(registry, cfg)

			out := cmd.OutOrStdout()
			for _, name := range registry.AvailableTools() {
				fmt.Fprintln(out, name)
			}

			loadErrors := registry.LoadErrors()
			if len(loadErrors) > 0 {
				names := make([]string, 0, len(loadErrors))
				for name := range loadErrors {
					names = append(names, name)
				}
				sort.Strings(names)
				fmt.Fprintln(out)
				for _, name := range names {
					fmt.Fprintln(out, failureStyle.Render(name)+" "+faintStyle.Render(loadErrors[name]))
				}
			}
			return nil
		},
	}
}

func newHealthCmd(loadConfig configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check tool and service readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			registry := workflow.NewRegistry()
			tools.RegisterBuiltins(registry, cfg)

			results := registry.PreflightCheck()
			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			for _, name := range names {
				if results[name] {
					fmt.Fprintf(out, "%-12s %s\n", name, successStyle.Render("ready"))
				} else {
					fmt.Fprintf(out, "%-12s %s\n", name, failureStyle.Render("unreachable"))
				}
			}
			return nil
		},
	}
}
