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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/llms"
	"github.com/inletlabs/toad/pkg/protocol"
)

func TestDecisionRuleLadder(t *testing.T) {
	tests := []struct {
		name    string
		profile TaskProfile
		want    Strategy
	}{
		{"user override wins", TaskProfile{UserOverride: StrategyIsolated, EstimatedOperations: 1}, StrategyIsolated},
		{"small single-goal is direct", TaskProfile{EstimatedOperations: 2}, StrategyDirect},
		{"high risk is isolated", TaskProfile{EstimatedOperations: 4, HighRisk: true, MultipleGoals: true}, StrategyIsolated},
		{"independent subtasks parallelise", TaskProfile{EstimatedOperations: 6, IndependentSubtasks: 3, MultipleGoals: true}, StrategyParallelIsolated},
		{"multiple specialists isolated", TaskProfile{EstimatedOperations: 6, Specialists: 2, MultipleGoals: true}, StrategyIsolated},
		{"low budget long task isolated", TaskProfile{EstimatedOperations: 6, RemainingBudget: 10_000, MultipleGoals: true}, StrategyIsolated},
		{"very long sequence isolated", TaskProfile{EstimatedOperations: 12, RemainingBudget: 100_000, MultipleGoals: true}, StrategyIsolated},
		{"single specialist direct", TaskProfile{EstimatedOperations: 6, Specialists: 1, RemainingBudget: 100_000, MultipleGoals: true}, StrategyDirect},
		{"default direct", TaskProfile{EstimatedOperations: 5, RemainingBudget: 100_000, MultipleGoals: true}, StrategyDirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.profile)
			assert.Equal(t, tt.want, d.Strategy)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestAnalyzeTaskFlagsRisk(t *testing.T) {
	p := AnalyzeTask("clear the canvas and start over", 50_000)
	assert.True(t, p.HighRisk)

	p = AnalyzeTask("create 12 boxes in a grid", 50_000)
	assert.GreaterOrEqual(t, p.EstimatedOperations, 12)
}

func TestValidateDisjointRejectsOverlap(t *testing.T) {
	a := NewContract("worker", "left")
	a.WorkRegion.Bounds = &adapter.Region{X: 0, Y: 0, Width: 100, Height: 100}
	b := NewContract("worker", "right")
	b.WorkRegion.Bounds = &adapter.Region{X: 50, Y: 50, Width: 100, Height: 100}

	require.Error(t, validateDisjoint([]Contract{a, b}))

	b.WorkRegion.Bounds = &adapter.Region{X: 400, Y: 400, Width: 100, Height: 100}
	require.NoError(t, validateDisjoint([]Contract{a, b}))

	// Unbounded regions always conflict.
	c := NewContract("worker", "anywhere")
	require.Error(t, validateDisjoint([]Contract{a, c}))
}

// regionMock creates one element inside the region named by the task, then
// stops. It drives any number of concurrent sub-loops.
func regionMock() *llms.MockProvider {
	mock := llms.NewMockProvider()
	mock.GenerateFn = func(ctx context.Context, req *llms.Request) (*llms.Response, error) {
		var created bool
		var task string
		for _, m := range req.History {
			if m.Role == "tool" {
				created = true
			}
			if m.Role == "user" {
				task = m.Content
			}
		}
		if created {
			return &llms.Response{Text: "placed the element", FinishReason: llms.FinishStop}, nil
		}
		x, y := 10.0, 10.0
		if strings.Contains(task, "right") {
			x, y = 450.0, 450.0
		}
		if strings.Contains(task, "outside") {
			x, y = 900.0, 900.0
		}
		return &llms.Response{
			FinishReason: llms.FinishToolCalls,
			ToolCalls: []protocol.ToolCall{{
				Name: "task_execute",
				Args: map[string]interface{}{
					"action": "create",
					"params": map[string]interface{}{"type": "rect", "x": x, "y": y},
				},
			}},
		}, nil
	}
	return mock
}

func newTestEngine(t *testing.T) (*Engine, *adapter.InMemAdapter) {
	t.Helper()
	backend := adapter.NewInMemAdapter()
	backend.Connect(context.Background())

	providers := llms.NewRegistry()
	providers.Register(regionMock())
	return NewEngine(providers, backend), backend
}

func TestRunIsolatedReturnsSummaryOnly(t *testing.T) {
	engine, backend := newTestEngine(t)

	contract := NewContract("worker", "create a rect on the left side")
	contract.WorkRegion.Bounds = &adapter.Region{X: 0, Y: 0, Width: 200, Height: 200}

	outcome := engine.RunIsolated(context.Background(), contract)

	require.True(t, outcome.Success)
	assert.Equal(t, contract.ContractID, outcome.ContractID)
	assert.Equal(t, "placed the element", outcome.Summary)
	assert.Len(t, outcome.ProducedIDs, 1)
	assert.Greater(t, outcome.TokensUsed, 0)

	snap, err := backend.GetState(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ElementCount, "sub-agent mutations land on the shared backend")
}

func TestRunIsolatedScopedRegionRejectsOutside(t *testing.T) {
	engine, backend := newTestEngine(t)

	contract := NewContract("worker", "create a rect outside the region")
	contract.WorkRegion.Bounds = &adapter.Region{X: 0, Y: 0, Width: 100, Height: 100}

	outcome := engine.RunIsolated(context.Background(), contract)

	assert.Empty(t, outcome.ProducedIDs)
	snap, err := backend.GetState(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ElementCount, "out-of-region create was rejected")
}

func TestRunParallelAggregatesInContractOrder(t *testing.T) {
	engine, backend := newTestEngine(t)

	left := NewContract("worker", "create a rect on the left side")
	left.WorkRegion.Bounds = &adapter.Region{X: 0, Y: 0, Width: 200, Height: 200}
	right := NewContract("worker", "create a rect on the right side")
	right.WorkRegion.Bounds = &adapter.Region{X: 400, Y: 400, Width: 200, Height: 200}

	outcomes, err := engine.RunParallel(context.Background(), []Contract{left, right})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, left.ContractID, outcomes[0].ContractID, "outcomes keep contract order")
	assert.Equal(t, right.ContractID, outcomes[1].ContractID)
	for _, o := range outcomes {
		assert.True(t, o.Success)
		assert.Len(t, o.ProducedIDs, 1)
	}

	snap, err := backend.GetState(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ElementCount)
}

func TestRunParallelRejectsOverlappingBounds(t *testing.T) {
	engine, _ := newTestEngine(t)

	a := NewContract("worker", "left")
	a.WorkRegion.Bounds = &adapter.Region{X: 0, Y: 0, Width: 100, Height: 100}
	b := NewContract("worker", "also left")
	b.WorkRegion.Bounds = &adapter.Region{X: 10, Y: 10, Width: 100, Height: 100}

	_, err := engine.RunParallel(context.Background(), []Contract{a, b})
	assert.Error(t, err)
}

func TestSplitIntoContractsCommaList(t *testing.T) {
	engine, _ := newTestEngine(t)

	contracts := engine.splitIntoContracts("Create the header section, the timeline section, and the statistics section")
	require.Len(t, contracts, 3)

	// Items after the first inherit the leading verb.
	assert.Contains(t, strings.ToLower(contracts[1].Task), "create")
	assert.Contains(t, strings.ToLower(contracts[2].Task), "statistics")

	for _, c := range contracts {
		require.NotNil(t, c.WorkRegion.Bounds, "parallel contracts get explicit bounds")
	}
	require.NoError(t, validateDisjoint(contracts))
}

func TestSplitIntoContractsSingleTaskUnsplit(t *testing.T) {
	engine, _ := newTestEngine(t)

	contracts := engine.splitIntoContracts("create 1,000 tiny dots")
	require.Len(t, contracts, 1, "a comma inside a number is not a list separator")
	assert.Nil(t, contracts[0].WorkRegion.Bounds)
}

// bandMock reads the assigned work region out of the task text and creates
// one element at its centre.
func bandMock() *llms.MockProvider {
	mock := llms.NewMockProvider()
	mock.GenerateFn = func(ctx context.Context, req *llms.Request) (*llms.Response, error) {
		var created bool
		var task string
		for _, m := range req.History {
			if m.Role == "tool" {
				created = true
			}
			if m.Role == "user" {
				task = m.Content
			}
		}
		if created {
			return &llms.Response{Text: "section placed", FinishReason: llms.FinishStop}, nil
		}
		x, y := 10.0, 10.0
		for _, line := range strings.Split(task, "\n") {
			var rx, ry, rw, rh float64
			if _, err := fmt.Sscanf(line, "Work region: x=%f y=%f w=%f h=%f", &rx, &ry, &rw, &rh); err == nil {
				x, y = rx+rw/2, ry+rh/2
			}
		}
		return &llms.Response{
			FinishReason: llms.FinishToolCalls,
			ToolCalls: []protocol.ToolCall{{
				Name: "task_execute",
				Args: map[string]interface{}{
					"action": "create",
					"params": map[string]interface{}{"type": "section", "x": x, "y": y},
				},
			}},
		}, nil
	}
	return mock
}

func TestDelegateParallelFansOutAndAggregates(t *testing.T) {
	backend := adapter.NewInMemAdapter()
	backend.Connect(context.Background())
	providers := llms.NewRegistry()
	providers.Register(bandMock())
	engine := NewEngine(providers, backend)

	res := engine.Delegate(context.Background(),
		"Create the header, the timeline, and the statistics section", "")
	require.True(t, res.Success)
	assert.Equal(t, string(StrategyParallelIsolated), res.Data["strategy"])

	contracts, ok := res.Data["contracts"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, contracts, 3)
	for _, c := range contracts {
		assert.Equal(t, true, c["success"])
		produced, _ := c["produced"].([]string)
		assert.Len(t, produced, 1, "each sub-loop reports only its own elements")
	}

	snap, err := backend.GetState(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.ElementCount)
}

func TestDelegateLowBudgetRoutesIsolated(t *testing.T) {
	engine, _ := newTestEngine(t)
	task := "create and add and draw and move and update and resize elements"

	res := engine.Delegate(context.Background(), task, "")
	require.True(t, res.Success)
	assert.Equal(t, string(StrategyDirect), res.Data["strategy"],
		"without budget pressure a flat task runs inline")

	engine.SetBudgetSource(func() int { return 10_000 })
	res = engine.Delegate(context.Background(), task, "")
	require.True(t, res.Success)
	assert.Equal(t, string(StrategyIsolated), res.Data["strategy"],
		"a long task under a thin budget moves to a sub-loop")
}

func TestDelegateDirectReportsDecision(t *testing.T) {
	engine, _ := newTestEngine(t)

	res := engine.Delegate(context.Background(), "move one box", "")
	require.True(t, res.Success)
	assert.Equal(t, string(StrategyDirect), res.Data["strategy"])
}

func TestDelegateOverrideForcesIsolated(t *testing.T) {
	engine, backend := newTestEngine(t)

	res := engine.Delegate(context.Background(), "create a rect on the left side", "isolated")
	require.True(t, res.Success)
	assert.Equal(t, string(StrategyIsolated), res.Data["strategy"])

	snap, err := backend.GetState(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ElementCount)
}
