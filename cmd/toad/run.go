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

package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/agent"
	"github.com/inletlabs/toad/pkg/llms"
	"github.com/inletlabs/toad/pkg/protocol"
)

type runCmd struct {
	Task    string `arg:"" help:"Task to execute."`
	Offline bool   `help:"Use the scripted offline provider instead of a real LLM."`
}

func (r runCmd) Run(c *cli) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := buildProviders(cfg)
	if err != nil || r.Offline {
		if err != nil && !r.Offline {
			fmt.Println("no provider credentials found; running offline")
		}
		providers = llms.NewRegistry()
		providers.Register(offlineProvider(r.Task))
	}

	backend := adapter.NewInMemAdapter()
	if _, err := backend.Connect(ctx); err != nil {
		return err
	}

	factory := buildFactory(cfg, providers, backend, nil)
	a, err := factory()
	if err != nil {
		return err
	}

	for event := range a.Run(ctx, r.Task) {
		printEvent(event)
	}
	return nil
}

// offlineProvider scripts a minimal demonstration run: one create, then a
// closing summary.
func offlineProvider(task string) *llms.MockProvider {
	return llms.NewMockProvider(
		&llms.Response{
			FinishReason: llms.FinishToolCalls,
			ToolCalls: []protocol.ToolCall{{
				Name: "task_execute",
				Args: map[string]interface{}{
					"action": "create",
					"params": map[string]interface{}{"type": "note", "x": 100, "y": 100},
				},
			}},
		},
		&llms.Response{
			Text:         "Created a placeholder element for: " + task,
			FinishReason: llms.FinishStop,
		},
	)
}

func printEvent(event agent.Event) {
	var parts []string
	for key, value := range event.Data {
		parts = append(parts, fmt.Sprintf("%s=%v", key, value))
	}
	sort.Strings(parts)

	line := fmt.Sprintf("[%s]", event.Type)
	if event.Iteration > 0 {
		line += fmt.Sprintf(" iter=%d", event.Iteration)
	}
	if len(parts) > 0 {
		line += " " + strings.Join(parts, " ")
	}
	fmt.Println(line)
}
