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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletlabs/toad/pkg/protocol"
)

func echoTool(t *testing.T) *Tool {
	t.Helper()
	tool, err := NewTool("echo", "echoes input",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"text"},
		},
		func(ctx context.Context, input map[string]interface{}) protocol.Result {
			return protocol.OK(map[string]interface{}{"text": input["text"]})
		})
	require.NoError(t, err)
	return tool
}

func TestDispatchSuccess(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil)
	d.Register(echoTool(t))

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		ID: "c1", Name: "echo", Args: map[string]interface{}{"text": "hi"},
	})
	require.True(t, res.Success)
	assert.Equal(t, "hi", res.Data["text"])
	assert.Equal(t, "echo", res.Metadata.Tool)
	assert.Equal(t, "c1", res.Metadata.CallID)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil)

	res := d.Dispatch(context.Background(), protocol.ToolCall{Name: "nope"})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrToolNotFound, res.Error.Code)
}

func TestDispatchSchemaValidationFails(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil)
	d.Register(echoTool(t))

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "echo", Args: map[string]interface{}{"wrong": true},
	})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrToolValidation, res.Error.Code)
}

func TestDispatchPreHookBlocks(t *testing.T) {
	hooks := NewHookEngine()
	hooks.On(PreToolUse, func(ctx context.Context, input HookInput) (HookOutput, error) {
		if input.Tool == "echo" {
			return Block("echo is disabled"), nil
		}
		return Allow(), nil
	})
	d := NewDispatcher(DispatcherConfig{}, hooks)
	d.Register(echoTool(t))

	executed := false
	danger := MustTool("danger", "", nil, func(ctx context.Context, input map[string]interface{}) protocol.Result {
		executed = true
		return protocol.OK(nil)
	})
	d.Register(danger)

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "echo", Args: map[string]interface{}{"text": "hi"},
	})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrHookBlocked, res.Error.Code)
	assert.Equal(t, "echo is disabled", res.Error.Message)

	res = d.Dispatch(context.Background(), protocol.ToolCall{Name: "danger"})
	assert.True(t, res.Success)
	assert.True(t, executed, "other tools pass through")
}

func TestDispatchHookErrorDoesNotBlock(t *testing.T) {
	hooks := NewHookEngine()
	hooks.On(PreToolUse, func(ctx context.Context, input HookInput) (HookOutput, error) {
		return HookOutput{}, fmt.Errorf("hook broke")
	})
	d := NewDispatcher(DispatcherConfig{}, hooks)
	d.Register(echoTool(t))

	res := d.Dispatch(context.Background(), protocol.ToolCall{
		Name: "echo", Args: map[string]interface{}{"text": "hi"},
	})
	assert.True(t, res.Success, "hook errors are logged, not fatal")
}

func TestDispatchPostHookObservesResult(t *testing.T) {
	var observed *protocol.Result
	var failureEvent bool
	hooks := NewHookEngine()
	hooks.On(PostToolUse, func(ctx context.Context, input HookInput) (HookOutput, error) {
		observed = input.Result
		return Allow(), nil
	})
	hooks.On(PostToolUseFailure, func(ctx context.Context, input HookInput) (HookOutput, error) {
		failureEvent = true
		return Allow(), nil
	})
	d := NewDispatcher(DispatcherConfig{}, hooks)
	d.Register(echoTool(t))
	d.Register(MustTool("fails", "", nil, func(ctx context.Context, input map[string]interface{}) protocol.Result {
		return protocol.Fail(protocol.ErrToolExecution, "boom")
	}))

	d.Dispatch(context.Background(), protocol.ToolCall{Name: "echo", Args: map[string]interface{}{"text": "ok"}})
	require.NotNil(t, observed)
	assert.True(t, observed.Success)
	assert.False(t, failureEvent)

	d.Dispatch(context.Background(), protocol.ToolCall{Name: "fails"})
	assert.True(t, failureEvent)
}

func TestDispatchTimeout(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{ToolTimeout: 20 * time.Millisecond}, nil)
	d.Register(MustTool("slow", "", nil, func(ctx context.Context, input map[string]interface{}) protocol.Result {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return protocol.OK(nil)
	}))

	res := d.Dispatch(context.Background(), protocol.ToolCall{Name: "slow"})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrToolTimeout, res.Error.Code)
	assert.True(t, res.Error.Recoverable)
}

func TestDispatchPanicBecomesErrorResult(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil)
	d.Register(MustTool("panics", "", nil, func(ctx context.Context, input map[string]interface{}) protocol.Result {
		panic("unexpected")
	}))

	res := d.Dispatch(context.Background(), protocol.ToolCall{Name: "panics"})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrToolExecution, res.Error.Code)
}

func TestDispatchAllClarificationShortCircuits(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil)
	d.Register(agentClarifyTool())
	executed := false
	d.Register(MustTool("after", "", nil, func(ctx context.Context, input map[string]interface{}) protocol.Result {
		executed = true
		return protocol.OK(nil)
	}))

	results, clar := d.DispatchAll(context.Background(), []protocol.ToolCall{
		{ID: "c1", Name: "agent_clarify", Args: map[string]interface{}{"questions": []interface{}{"Which colour?"}}},
		{ID: "c2", Name: "after"},
	})
	require.NotNil(t, clar)
	assert.NotEmpty(t, clar.ClarificationID)
	assert.Equal(t, []string{"Which colour?"}, clar.Questions)
	assert.Len(t, results, 1, "second call is skipped")
	assert.False(t, executed)
}

func TestHookOrderFirstBlockWins(t *testing.T) {
	hooks := NewHookEngine()
	var order []string
	hooks.On(PreToolUse, func(ctx context.Context, input HookInput) (HookOutput, error) {
		order = append(order, "first")
		return Block("first says no"), nil
	})
	hooks.On(PreToolUse, func(ctx context.Context, input HookInput) (HookOutput, error) {
		order = append(order, "second")
		return Allow(), nil
	})

	out := hooks.Run(context.Background(), HookInput{Event: PreToolUse, Tool: "x"})
	assert.False(t, out.Proceed)
	assert.Equal(t, "first says no", out.Reason)
	assert.Equal(t, []string{"first"}, order, "block short-circuits later handlers")
}

func TestNewToolRejectsBadSchema(t *testing.T) {
	_, err := NewTool("bad", "", map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"x": map[string]interface{}{"type": "not-a-type"},
		},
	}, func(ctx context.Context, input map[string]interface{}) protocol.Result {
		return protocol.OK(nil)
	})
	assert.Error(t, err)
}
