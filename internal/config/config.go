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

// Package config loads the Forge configuration.
//
// Search order:
//  1. explicit --config path
//  2. ./forge.yaml (current directory)
//  3. ~/.forge/config.yaml (global)
//  4. built-in defaults
//
// The first file found is deep-merged over the defaults.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	forgeerrors "github.com/tombee/forge/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the complete Forge configuration.
type Config struct {
	// Workspace is the root directory for Forge working data.
	Workspace string `yaml:"workspace"`

	// OutputDir is where finished artifacts land.
	OutputDir string `yaml:"output_dir"`

	// RunDir is the base directory for per-run directories.
	RunDir string `yaml:"run_dir"`

	// Services configures the local external services the tool adapters
	// talk to.
	Services ServicesConfig `yaml:"services"`

	// Persistence configures the run store.
	Persistence PersistenceConfig `yaml:"persistence"`
}

// ServicesConfig holds per-service connection settings.
type ServicesConfig struct {
	Ollama  OllamaConfig  `yaml:"ollama"`
	SD      SDConfig      `yaml:"sd"`
	Blender BlenderConfig `yaml:"blender"`
	FFmpeg  FFmpegConfig  `yaml:"ffmpeg"`
}

// OllamaConfig configures the local Ollama service.
type OllamaConfig struct {
	// Host is the Ollama API base URL.
	Host string `yaml:"host"`

	// DefaultModel is used when a step does not name a model.
	DefaultModel string `yaml:"default_model"`

	// Timeout is the request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// SDConfig configures the Stable Diffusion webui service.
type SDConfig struct {
	// Host is the webui API base URL.
	Host string `yaml:"host"`

	// Timeout is the request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// BlenderConfig configures the Blender binary.
type BlenderConfig struct {
	// Path is the Blender executable. Empty means auto-detect.
	Path string `yaml:"path"`
}

// FFmpegConfig configures the ffmpeg binary.
type FFmpegConfig struct {
	// Path is the ffmpeg executable.
	Path string `yaml:"path"`
}

// PersistenceConfig configures the run store.
type PersistenceConfig struct {
	// Enabled controls whether runs are tracked in the store.
	Enabled *bool `yaml:"enabled"`

	// DBPath is the sqlite database location.
	DBPath string `yaml:"db_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workspace: "~/forge-workspace",
		OutputDir: "~/forge-workspace/output",
		RunDir:    "~/forge-workspace/runs",
		Services: ServicesConfig{
			Ollama: OllamaConfig{
				Host:         "http://localhost:11434",
				DefaultModel: "llama3.2:3b",
				Timeout:      60,
			},
			SD: SDConfig{
				Host:    "http://localhost:7860",
				Timeout: 120,
			},
			FFmpeg: FFmpegConfig{
				Path: "ffmpeg",
			},
		},
		Persistence: PersistenceConfig{
			DBPath: "~/.forge/runs.db",
		},
	}
}

// Load reads configuration using the documented search order. An explicit
// path that cannot be read is an error; missing files in the default
// locations fall through to the next candidate.
func Load(explicitPath string) (*Config, error) {
	cfg := Default()

	path, data, err := findConfigFile(explicitPath)
	if err != nil {
		return nil, err
	}

	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &forgeerrors.ConfigError{
				Key:    path,
				Reason: "failed to parse config file",
				Cause:  err,
			}
		}
	}

	cfg.expandPaths()

	if cfg.Services.Blender.Path == "" {
		cfg.Services.Blender.Path = DetectBlender()
	}

	return cfg, nil
}

func findConfigFile(explicitPath string) (string, []byte, error) {
	if explicitPath != "" {
		data, err := os.ReadFile(explicitPath)
		if err != nil {
			return "", nil, &forgeerrors.ConfigError{
				Key:    explicitPath,
				Reason: "failed to read config file",
				Cause:  err,
			}
		}
		return explicitPath, data, nil
	}

	candidates := []string{"forge.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".forge", "config.yaml"))
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return candidate, data, nil
		}
	}
	return "", nil, nil
}

// expandPaths expands ~ and environment variables in path settings.
func (c *Config) expandPaths() {
	c.Workspace = ExpandPath(c.Workspace)
	c.OutputDir = ExpandPath(c.OutputDir)
	c.RunDir = ExpandPath(c.RunDir)
	c.Persistence.DBPath = ExpandPath(c.Persistence.DBPath)
}

// PersistenceEnabled reports whether run tracking is on. Defaults to true.
func (c *Config) PersistenceEnabled() bool {
	if c.Persistence.Enabled == nil {
		return true
	}
	return *c.Persistence.Enabled
}

// ExpandPath expands a leading ~ and environment variables in a path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return p
}

// DetectBlender tries to find a Blender executable on the system: PATH
// first, then platform-specific install locations. Returns "" when none
// is found.
func DetectBlender() string {
	if path, err := exec.LookPath("blender"); err == nil {
		return path
	}

	var candidates []string
	switch runtime.GOOS {
	case "windows":
		programFiles := os.Getenv("ProgramFiles")
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		for _, version := range []string{"4.2", "4.1", "4.0", "3.6"} {
			candidates = append(candidates,
				filepath.Join(programFiles, "Blender Foundation", fmt.Sprintf("Blender %s", version), "blender.exe"))
		}
	case "darwin":
		candidates = append(candidates, "/Applications/Blender.app/Contents/MacOS/Blender")
	default:
		candidates = append(candidates,
			"/usr/bin/blender",
			"/usr/local/bin/blender",
			"/snap/bin/blender",
		)
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
