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

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/agent"
	"github.com/inletlabs/toad/pkg/checkpoint"
	"github.com/inletlabs/toad/pkg/config"
	"github.com/inletlabs/toad/pkg/delegation"
	"github.com/inletlabs/toad/pkg/llms"
	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/monitor"
	"github.com/inletlabs/toad/pkg/resources"
	"github.com/inletlabs/toad/pkg/server"
	"github.com/inletlabs/toad/pkg/tools"
)

// buildProviders registers configured LLM providers. The configured default
// must construct; the other provider is best-effort.
func buildProviders(cfg *config.Config) (*llms.Registry, error) {
	registry := llms.NewRegistry()

	register := func(name string) error {
		switch name {
		case "anthropic":
			p, err := llms.NewAnthropicProvider(cfg.LLM.Anthropic)
			if err != nil {
				return err
			}
			registry.Register(p)
		case "openai":
			p, err := llms.NewOpenAIProvider(cfg.LLM.OpenAI)
			if err != nil {
				return err
			}
			registry.Register(p)
		}
		return nil
	}

	if err := register(cfg.LLM.Default); err != nil {
		return nil, fmt.Errorf("default provider %s: %w", cfg.LLM.Default, err)
	}
	for _, name := range []string{"anthropic", "openai"} {
		if name != cfg.LLM.Default {
			_ = register(name)
		}
	}

	for tier, binding := range cfg.LLM.Tiers {
		if err := registry.BindTier(tier, binding); err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier, err)
		}
	}
	return registry, nil
}

// buildResolver installs the standard prompt aliases: @state expands to the
// current backend summary, @plan to the working plan.
func buildResolver(cfg *config.Config, env *tools.Env, backend adapter.ActionAdapter) *resources.Resolver {
	resolver := resources.NewResolver(cfg.Resolver, nil)
	_ = resolver.Registry().Register(resources.Definition{
		Name:        "state",
		Description: "Summary of the current backend state.",
		Resolve: func(ctx context.Context, _ string) (string, error) {
			snap, err := backend.GetState(ctx, nil)
			if err != nil {
				return "", err
			}
			return snap.Summary, nil
		},
	})
	_ = resolver.Registry().Register(resources.Definition{
		Name:        "plan",
		Description: "The current working plan.",
		Resolve: func(ctx context.Context, _ string) (string, error) {
			plan := env.Plan.Format()
			if plan == "" {
				return "no plan yet", nil
			}
			return plan, nil
		},
	})
	return resolver
}

// buildFactory wires a full agent per run: fresh memory, tools, monitor,
// delegation, and optional checkpointing, all over a shared backend.
func buildFactory(cfg *config.Config, providers *llms.Registry, backend adapter.ActionAdapter, store checkpoint.Store) server.AgentFactory {
	return func() (*agent.Agent, error) {
		mgr := memory.NewManager(cfg.Memory, nil, nil)
		env := &tools.Env{Memory: mgr, Adapter: backend}
		dispatcher := tools.NewDispatcher(cfg.Dispatcher, nil)
		tools.RegisterBuiltins(dispatcher, env)

		engine := delegation.NewEngine(providers, backend)
		engine.SetBudgetSource(func() int { return mgr.Budget().Remaining() })
		env.Delegate = engine.Delegate

		agentCfg := cfg.Agent
		deps := agent.Deps{
			Providers:  providers,
			Memory:     mgr,
			Lifecycle:  memory.NewLifecycle(cfg.Lifecycle, nil, nil),
			Dispatcher: dispatcher,
			Env:        env,
			Monitor:    monitor.New(cfg.Monitor),
			Resolver:   buildResolver(cfg, env, backend),
			Adapter:    backend,
		}
		if store != nil && cfg.Checkpoint.Enabled {
			agentCfg.CheckpointInterval = cfg.Checkpoint.Interval
			deps.Checkpoint = checkpoint.NewCheckpointer(store, mgr)
		}
		return agent.New(agentCfg, deps)
	}
}
