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

// Package cli implements the forge command tree.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tombee/forge/internal/config"
	"github.com/tombee/forge/internal/log"
)

// NewRootCmd builds the forge root command.
func NewRootCmd(version string) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "forge",
		Short:   "Run local content pipelines from YAML recipes",
		Long:    "Forge executes declarative multi-step recipes that orchestrate local services (LLMs, image generators, renderers, media processors) into reproducible content pipelines.",
		Version: version,

		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	loadConfig := func() (*config.Config, *slog.Logger, error) {
		logger := log.New(log.FromEnv())
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	root.AddCommand(
		newRunCmd(loadConfig),
		newHistoryCmd(loadConfig),
		newToolsCmd(loadConfig),
		newHealthCmd(loadConfig),
	)

	return root
}
