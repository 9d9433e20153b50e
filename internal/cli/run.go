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
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/tombee/forge/internal/config"
	"github.com/tombee/forge/internal/store"
	"github.com/tombee/forge/internal/tools"
	"github.com/tombee/forge/pkg/recipe"
	"github.com/tombee/forge/pkg/workflow"
)

var (
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

type configLoader func() (*config.Config, *slog.Logger, error)

func newRunCmd(loadConfig configLoader) *cobra.Command {
	var (
		inputFlags  []string
		autoApprove bool
		projectID   string
		listInputs  bool
	)

	cmd := &cobra.Command{
		Use:   "run <recipe.yaml>",
		Short: "Run a workflow recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			recipePath := args[0]

			if listInputs {
				return printRecipeInputs(cmd, recipePath)
			}

			inputs, err := parseInputFlags(inputFlags)
			if err != nil {
				return err
			}

			registry := workflow.NewRegistry()
			tools.RegisterBuiltins(registry, cfg)

			runner := workflow.NewRunner(registry).
				WithRunDir(cfg.RunDir).
				WithAutoApprove(autoApprove).
				WithLogger(logger)

			if cfg.PersistenceEnabled() {
				if st, err := store.Open(cfg.Persistence.DBPath); err == nil {
					defer st.Close()
					runner = runner.WithStore(st)
				} else {
					logger.Warn("run store unavailable, running without tracking", "error", err.Error())
				}
			}

			result, err := runner.Run(cmd.Context(), recipePath, inputs, projectID)
			if err != nil {
				return err
			}

			if !result.Success {
				fmt.Fprintln(cmd.OutOrStdout(), failureStyle.Render("Workflow failed: ")+result.Error)
				fmt.Fprintln(cmd.OutOrStdout(), faintStyle.Render("run "+result.RunID+" • "+result.RunDir))
				return fmt.Errorf("workflow failed")
			}

			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Workflow completed"))
			fmt.Fprintln(cmd.OutOrStdout(), faintStyle.Render("run "+result.RunID+" • "+result.RunDir))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&inputFlags, "input", "i", nil, "workflow input as key=value (repeatable)")
	cmd.Flags().BoolVarP(&autoApprove, "auto-approve", "y", false, "auto-select defaults at approval gates")
	cmd.Flags().StringVar(&projectID, "project", "", "project id to attach the run to")
	cmd.Flags().BoolVar(&listInputs, "list-inputs", false, "show the recipe's declared inputs and exit")

	return cmd
}

// parseInputFlags converts repeated key=value flags into an input map.
func parseInputFlags(flags []string) (map[string]interface{}, error) {
	inputs := make(map[string]interface{}, len(flags))
	for _, flag := range flags {
		key, value, found := strings.Cut(flag, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --input %q: expected key=value", flag)
		}
		inputs[key] = value
	}
	return inputs, nil
}

func printRecipeInputs(cmd *cobra.Command, recipePath string) error {
	rec, err := recipe.Load(recipePath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", rec.Name)
	if rec.Description != "" {
		fmt.Fprintln(out, faintStyle.Render(rec.Description))
	}
	if len(rec.Inputs) == 0 {
		fmt.Fprintln(out, "no declared inputs")
		return nil
	}
	for _, input := range rec.Inputs {
		line := "  " + input.Name
		if input.Required {
			line += " (required)"
		}
		if input.Default != nil {
			line += fmt.Sprintf(" [default: %v]", input.Default)
		}
		if len(input.Choices) > 0 {
			line += fmt.Sprintf(" choices: %v", input.Choices)
		}
		fmt.Fprintln(out, line)
		if input.Description != "" {
			fmt.Fprintln(out, faintStyle.Render("    "+input.Description))
		}
	}
	return nil
}
