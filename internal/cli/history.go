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

	"github.com/spf13/cobra"
	"github.com/tombee/forge/internal/store"
)

func newHistoryCmd(loadConfig configLoader) *cobra.Command {
	var (
		limit     int
		projectID string
		status    string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.Persistence.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), projectID, status, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}

			for _, run := range runs {
				label := run.Status
				switch label {
				case "completed":
					label = successStyle.Render(label)
				case "failed":
					label = failureStyle.Render(label)
				}
				fmt.Fprintf(out, "%s  %-12s %s\n", run.ID, run.RecipeName, label)
				if run.ErrorMessage != "" {
					fmt.Fprintln(out, faintStyle.Render("  "+run.ErrorMessage))
				}
			}

			stats, err := st.GetStats(cmd.Context(), projectID)
			if err == nil {
				fmt.Fprintln(out, faintStyle.Render(fmt.Sprintf(
					"%d runs • %d completed • %d failed",
					stats.Runs.Total, stats.Runs.Completed, stats.Runs.Failed)))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")
	cmd.Flags().StringVar(&projectID, "project", "", "filter by project id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (running, completed, failed)")

	return cmd
}
