// Copyright 2025 Inlet Labs
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

// Command toad runs the agent loop as an HTTP server or as a one-shot task.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/inletlabs/toad/pkg/config"
	"github.com/inletlabs/toad/pkg/logger"
)

var version = "dev"

type cli struct {
	Config   string `help:"Path to YAML config file." short:"c" type:"path"`
	LogLevel string `help:"Log level: debug, info, warn, error." default:""`

	Serve   serveCmd   `cmd:"" help:"Start the HTTP server."`
	Run     runCmd     `cmd:"" help:"Run one task against the in-memory backend and print events."`
	Version versionCmd `cmd:"" help:"Print the version."`
}

type versionCmd struct{}

func (versionCmd) Run() error {
	fmt.Println("toad", version)
	return nil
}

// loadConfig resolves config and installs the process logger.
func loadConfig(c *cli) (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	output := os.Stderr
	if cfg.Logging.File != "" {
		file, _, err := logger.OpenLogFile(cfg.Logging.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
	}
	logger.Init(level, output, cfg.Logging.Format)
	return cfg, nil
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("toad"),
		kong.Description("Agentic execution engine with tiered context memory."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&c))
}
