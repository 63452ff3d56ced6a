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

package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/protocol"
)

func newTestEnv(t *testing.T) (*Env, *Dispatcher) {
	t.Helper()
	mgr := memory.NewManager(memory.ManagerConfig{MaxTokens: 10000}, nil, nil)
	backend := adapter.NewInMemAdapter()
	backend.Connect(context.Background())

	env := &Env{Memory: mgr, Adapter: backend}
	d := NewDispatcher(DispatcherConfig{}, nil)
	RegisterBuiltins(d, env)
	return env, d
}

func TestBuiltinSurfaceRegistered(t *testing.T) {
	_, d := newTestEnv(t)
	for _, name := range []string{
		"context_read", "context_write", "context_search",
		"task_execute", "state_snapshot",
		"agent_delegate", "agent_plan", "agent_clarify",
	} {
		_, ok := d.Lookup(name)
		assert.True(t, ok, name)
	}
}

func TestContextWriteThenRead(t *testing.T) {
	_, d := newTestEnv(t)

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "context_write",
		Args: map[string]interface{}{"content": "the sky is teal today"},
	})
	require.True(t, res.Success)
	require.NotEmpty(t, res.Data["message_id"])

	res = d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "context_read",
		Args: map[string]interface{}{"tier": "recent"},
	})
	require.True(t, res.Success)
	assert.Contains(t, res.Data["content"], "the sky is teal today")
}

func TestContextSearchFindsMatch(t *testing.T) {
	env, d := newTestEnv(t)
	env.Memory.AddUserMessage("please align the blue rectangles", nil)
	env.Memory.AddAssistantMessage("aligned three rectangles", nil)

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "context_search",
		Args: map[string]interface{}{"query": "rectangles", "limit": 5},
	})
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Data["count"])
}

func TestTaskExecuteRoutesToAdapter(t *testing.T) {
	_, d := newTestEnv(t)

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "task_execute",
		Args: map[string]interface{}{
			"action": "create",
			"params": map[string]interface{}{"type": "rect", "x": 1, "y": 2},
		},
	})
	require.True(t, res.Success)
	assert.NotEmpty(t, res.Data["id"])
}

func TestTaskExecuteWithoutAdapter(t *testing.T) {
	env, d := newTestEnv(t)
	env.Adapter = nil

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "task_execute",
		Args: map[string]interface{}{"action": "create"},
	})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrAdapterConnection, res.Error.Code)
}

func TestStateSnapshotStoresNamedSnapshot(t *testing.T) {
	env, d := newTestEnv(t)
	env.Adapter.Execute(context.Background(), "create", map[string]interface{}{"type": "rect"}, nil)

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "state_snapshot",
		Args: map[string]interface{}{"name": "before-align"},
	})
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Data["element_count"])

	snap, ok := env.Snapshots.Get("before-align")
	require.True(t, ok)
	assert.Equal(t, 1, snap.ElementCount)
}

func TestAgentPlanUpsertsAndReportsReadiness(t *testing.T) {
	_, d := newTestEnv(t)

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "agent_plan",
		Args: map[string]interface{}{
			"tasks": []interface{}{
				map[string]interface{}{"id": "t1", "title": "sketch layout", "status": "completed"},
				map[string]interface{}{"id": "t2", "title": "fill colours", "depends_on": []interface{}{"t1"}},
				map[string]interface{}{"id": "t3", "title": "export", "depends_on": []interface{}{"t2"}},
			},
		},
	})
	require.True(t, res.Success)
	assert.Equal(t, 3, res.Data["task_count"])
	assert.Equal(t, []string{"t2"}, res.Data["next"], "only t2 has its dependencies met")
	assert.Contains(t, res.Data["plan"], "[x] t1")
}

func TestAgentDelegateRequiresEngine(t *testing.T) {
	_, d := newTestEnv(t)

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "agent_delegate",
		Args: map[string]interface{}{"task": "draw a tree"},
	})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrToolExecution, res.Error.Code)
}

func TestAgentDelegateRoutesToEngine(t *testing.T) {
	env, d := newTestEnv(t)
	var gotTask, gotStrategy string
	env.Delegate = func(ctx context.Context, task, strategy string) protocol.Result {
		gotTask, gotStrategy = task, strategy
		return protocol.OK(map[string]interface{}{"summary": "done"})
	}
	// Re-register so the closure sees the updated env.
	RegisterBuiltins(d, env)

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "agent_delegate",
		Args: map[string]interface{}{"task": "draw a tree", "strategy": "isolated"},
	})
	require.True(t, res.Success)
	assert.Equal(t, "draw a tree", gotTask)
	assert.Equal(t, "isolated", gotStrategy)
}

func TestAgentClarifyProducesInterruptPayload(t *testing.T) {
	_, d := newTestEnv(t)

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "agent_clarify",
		Args: map[string]interface{}{
			"questions": []interface{}{"Which colour?", "Which size?"},
			"reason":    "ambiguous request",
		},
	})
	require.True(t, res.Success)

	clar, ok := protocol.ClarificationFrom(res)
	require.True(t, ok)
	assert.Len(t, clar.Questions, 2)
	assert.Equal(t, "ambiguous request", clar.Reason)
}
