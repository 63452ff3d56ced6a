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

package delegation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/agent"
	"github.com/inletlabs/toad/pkg/llms"
	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/protocol"
	"github.com/inletlabs/toad/pkg/tools"
)

// defaultWorkspace is the region carved into bands for parallel contracts
// when no workspace has been configured.
var defaultWorkspace = adapter.Region{X: 0, Y: 0, Width: 1200, Height: 800}

// Engine spawns bounded sub-loops under contracts. Each sub-loop gets a
// fresh context manager seeded only with its system prompt and contract
// task; the parent sees nothing but the summarised outcome.
type Engine struct {
	providers *llms.Registry
	backend   adapter.ActionAdapter
	prompts   map[string]string
	workspace adapter.Region
	budgetFn  func() int
	log       *slog.Logger
}

func NewEngine(providers *llms.Registry, backend adapter.ActionAdapter) *Engine {
	return &Engine{
		providers: providers,
		backend:   backend,
		prompts:   make(map[string]string),
		workspace: defaultWorkspace,
		log:       slog.Default().With("component", "delegation"),
	}
}

// SetAgentPrompt registers a system prompt for an agent type.
func (e *Engine) SetAgentPrompt(agentType, prompt string) {
	e.prompts[agentType] = prompt
}

// SetWorkspace sets the region parallel contracts divide between them.
func (e *Engine) SetWorkspace(region adapter.Region) {
	e.workspace = region
}

// SetBudgetSource wires the caller's remaining token budget into the
// delegation decision.
func (e *Engine) SetBudgetSource(fn func() int) {
	e.budgetFn = fn
}

// Delegate is the entry point bound to the agent_delegate tool. It analyses
// the task, applies the rule ladder (honouring an explicit override) and
// runs the chosen strategy.
func (e *Engine) Delegate(ctx context.Context, task, override string) protocol.Result {
	remaining := 0
	if e.budgetFn != nil {
		remaining = e.budgetFn()
	}
	profile := AnalyzeTask(task, remaining)
	if override != "" {
		profile.UserOverride = Strategy(override)
	}
	decision := Decide(profile)

	switch decision.Strategy {
	case StrategyParallelIsolated:
		contracts := e.splitIntoContracts(task)
		outcomes, err := e.RunParallel(ctx, contracts)
		if err != nil {
			return protocol.FailErr(protocol.ErrAgentExecution, err)
		}
		return parallelResult(decision, outcomes)
	case StrategyIsolated:
		outcome := e.RunIsolated(ctx, NewContract("worker", task))
		return outcomeResult(decision, outcome)
	default:
		// Direct execution stays in the parent loop; report the decision so
		// the model proceeds inline.
		return protocol.OK(map[string]interface{}{
			"strategy": string(decision.Strategy),
			"reason":   decision.Reason,
			"summary":  "execute directly in the current loop",
		})
	}
}

// RunIsolated executes one contract in a fresh sub-loop.
func (e *Engine) RunIsolated(ctx context.Context, contract Contract) Outcome {
	contract.Limits.SetDefaults()
	start := time.Now()

	outcome := Outcome{ContractID: contract.ContractID}

	runCtx, cancel := context.WithTimeout(ctx,
		time.Duration(contract.Limits.TimeoutMs)*time.Millisecond)
	defer cancel()

	backend := e.scopedBackend(contract.WorkRegion.Bounds)

	var before *adapter.StateSnapshot
	if backend != nil {
		before, _ = backend.GetState(runCtx, nil)
	}

	mgr := memory.NewManager(memory.ManagerConfig{MaxTokens: contract.Limits.MaxTokens}, nil, nil)
	env := &tools.Env{Memory: mgr, Adapter: backend}
	dispatcher := tools.NewDispatcher(tools.DispatcherConfig{}, nil)
	tools.RegisterBuiltins(dispatcher, env)

	sub, err := agent.New(agent.Config{
		SystemPrompt:  e.promptFor(contract),
		MaxIterations: contract.Limits.MaxIterations,
	}, agent.Deps{
		Providers:  e.providers,
		Memory:     mgr,
		Dispatcher: dispatcher,
		Env:        env,
		Adapter:    backend,
	})
	if err != nil {
		outcome.Error = protocol.NewAgentError(protocol.ErrAgentExecution, err.Error())
		outcome.DurationMs = time.Since(start).Milliseconds()
		return outcome
	}

	task := contract.Task
	for key, value := range contract.Inputs {
		task += fmt.Sprintf("\n%s: %v", key, value)
	}
	if contract.ExpectedOutput != "" {
		task += "\nExpected output: " + contract.ExpectedOutput
	}
	if b := contract.WorkRegion.Bounds; b != nil {
		task += fmt.Sprintf("\nWork region: x=%.0f y=%.0f w=%.0f h=%.0f", b.X, b.Y, b.Width, b.Height)
	}

	for event := range sub.Run(runCtx, task) {
		switch event.Type {
		case agent.EventComplete:
			outcome.Success = true
			if s, ok := event.Data["summary"].(string); ok {
				outcome.Summary = s
			}
		case agent.EventFailed, agent.EventTimeout, agent.EventCancelled, agent.EventInterrupted:
			if outcome.Summary == "" {
				if r, ok := event.Data["reason"].(string); ok {
					outcome.Summary = r
				} else {
					outcome.Summary = string(event.Type)
				}
			}
			if !outcome.Success {
				outcome.Error = protocol.NewAgentError(protocol.ErrAgentExecution,
					fmt.Sprintf("sub-agent ended with %s", event.Type))
			}
		}
	}

	if backend != nil {
		if after, err := backend.GetState(context.Background(), nil); err == nil {
			outcome.ProducedIDs = newIDs(before, after)
		}
	}
	outcome.TokensUsed = mgr.Budget().Used()
	outcome.DurationMs = time.Since(start).Milliseconds()

	e.log.Info("contract finished",
		"contract", contract.ContractID,
		"success", outcome.Success,
		"produced", len(outcome.ProducedIDs))
	return outcome
}

// RunParallel executes contracts concurrently. Bounds must be disjoint.
// Outcomes come back in contract order regardless of completion order.
func (e *Engine) RunParallel(ctx context.Context, contracts []Contract) ([]Outcome, error) {
	if err := validateDisjoint(contracts); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(contracts))
	g, gctx := errgroup.WithContext(ctx)
	for i, contract := range contracts {
		g.Go(func() error {
			outcomes[i] = e.RunIsolated(gctx, contract)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (e *Engine) promptFor(contract Contract) string {
	if p, ok := e.prompts[contract.AgentType]; ok {
		return p
	}
	return "You are a focused sub-agent. Complete only the assigned task, stay inside your work region, and stop when done."
}

func (e *Engine) scopedBackend(bounds *adapter.Region) adapter.ActionAdapter {
	if e.backend == nil {
		return nil
	}
	if bounds == nil {
		return e.backend
	}
	if inmem, ok := e.backend.(*adapter.InMemAdapter); ok {
		return inmem.Scoped(*bounds)
	}
	e.log.Warn("backend does not support region scoping; running unscoped")
	return e.backend
}

// splitIntoContracts derives one contract per independent subtask, each with
// a disjoint band of the workspace as its work region.
func (e *Engine) splitIntoContracts(task string) []Contract {
	var parts []string
	for _, p := range splitRe.Split(task, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return []Contract{NewContract("worker", task)}
	}

	// List items after the first usually name only a target; carry the
	// leading verb over so each contract stands alone.
	verb := verbRe.FindString(parts[0])
	contracts := make([]Contract, 0, len(parts))
	for _, part := range parts {
		if verb != "" && !verbRe.MatchString(part) {
			part = verb + " " + part
		}
		contracts = append(contracts, NewContract("worker", part))
	}

	bands := bandRegions(e.workspace, len(contracts))
	for i := range contracts {
		contracts[i].WorkRegion = WorkRegion{Scope: "region", Bounds: &bands[i]}
	}
	return contracts
}

// bandRegions cuts a workspace into n disjoint vertical bands.
func bandRegions(ws adapter.Region, n int) []adapter.Region {
	bands := make([]adapter.Region, n)
	width := ws.Width / float64(n)
	for i := range bands {
		bands[i] = adapter.Region{
			X:      ws.X + float64(i)*width,
			Y:      ws.Y,
			Width:  width,
			Height: ws.Height,
		}
	}
	return bands
}

func newIDs(before, after *adapter.StateSnapshot) []string {
	if after == nil {
		return nil
	}
	known := make(map[string]bool)
	if before != nil {
		for _, id := range before.ElementIDs {
			known[id] = true
		}
	}
	var produced []string
	for _, id := range after.ElementIDs {
		if !known[id] {
			produced = append(produced, id)
		}
	}
	return produced
}

func outcomeResult(decision Decision, outcome Outcome) protocol.Result {
	data := map[string]interface{}{
		"strategy":    string(decision.Strategy),
		"contract_id": outcome.ContractID,
		"summary":     outcome.Summary,
		"produced":    outcome.ProducedIDs,
		"tokens_used": outcome.TokensUsed,
	}
	if !outcome.Success {
		res := protocol.Fail(protocol.ErrAgentExecution, outcome.Summary)
		res.Data = data
		return res
	}
	return protocol.OK(data)
}

func parallelResult(decision Decision, outcomes []Outcome) protocol.Result {
	summaries := make([]map[string]interface{}, 0, len(outcomes))
	allOK := true
	for _, o := range outcomes {
		allOK = allOK && o.Success
		summaries = append(summaries, map[string]interface{}{
			"contract_id": o.ContractID,
			"success":     o.Success,
			"summary":     o.Summary,
			"produced":    o.ProducedIDs,
		})
	}
	data := map[string]interface{}{
		"strategy":  string(decision.Strategy),
		"contracts": summaries,
	}
	if !allOK {
		res := protocol.Fail(protocol.ErrAgentExecution, "one or more contracts failed")
		res.Data = data
		return res
	}
	return protocol.OK(data)
}
