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
	"log/slog"
	"sort"
	"time"

	"github.com/inletlabs/toad/pkg/protocol"
	"github.com/inletlabs/toad/pkg/registry"
)

// DispatcherConfig tunes tool execution.
type DispatcherConfig struct {
	// ToolTimeout bounds one executor run. Default 30s.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
}

func (c *DispatcherConfig) SetDefaults() {
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
}

// Dispatcher validates, intercepts and executes tool calls. Failures come
// back as error results, never as panics or returned errors.
type Dispatcher struct {
	config DispatcherConfig
	tools  *registry.Store[*Tool]
	hooks  *HookEngine
	log    *slog.Logger
}

func NewDispatcher(config DispatcherConfig, hooks *HookEngine) *Dispatcher {
	config.SetDefaults()
	if hooks == nil {
		hooks = NewHookEngine()
	}
	return &Dispatcher{
		config: config,
		tools:  registry.NewStore[*Tool](),
		hooks:  hooks,
		log:    slog.Default().With("component", "dispatcher"),
	}
}

func (d *Dispatcher) Hooks() *HookEngine { return d.hooks }

// Register adds a tool; duplicate names are replaced.
func (d *Dispatcher) Register(t *Tool) {
	d.tools.Register(t.Name, t)
}

// Lookup returns a registered tool by name.
func (d *Dispatcher) Lookup(name string) (*Tool, bool) {
	return d.tools.Get(name)
}

// List returns registered tools in name order.
func (d *Dispatcher) List() []*Tool {
	names := d.tools.Names()
	sort.Strings(names)
	out := make([]*Tool, 0, len(names))
	for _, name := range names {
		if t, ok := d.tools.Get(name); ok {
			out = append(out, t)
		}
	}
	return out
}

// Dispatch runs one proposed call through the full pipeline: lookup,
// schema validation, pre-hooks, execution under timeout, post-hooks.
func (d *Dispatcher) Dispatch(ctx context.Context, call protocol.ToolCall) protocol.Result {
	res := d.dispatch(ctx, call)
	res.Metadata.Tool = call.Name
	res.Metadata.CallID = call.ID
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, call protocol.ToolCall) protocol.Result {
	tool, ok := d.tools.Get(call.Name)
	if !ok {
		return protocol.Fail(protocol.ErrToolNotFound, fmt.Sprintf("unknown tool %q", call.Name))
	}

	if err := tool.Validate(call.Args); err != nil {
		return protocol.Fail(protocol.ErrToolValidation, err.Error())
	}

	verdict := d.hooks.Run(ctx, HookInput{Event: PreToolUse, Tool: call.Name, Args: call.Args})
	if !verdict.Proceed {
		d.log.Info("tool call blocked by hook", "tool", call.Name, "reason", verdict.Reason)
		return protocol.Fail(protocol.ErrHookBlocked, verdict.Reason)
	}

	res := d.execute(ctx, tool, call)

	event := PostToolUse
	if !res.Success {
		event = PostToolUseFailure
	}
	d.hooks.Run(ctx, HookInput{Event: event, Tool: call.Name, Args: call.Args, Result: &res})
	return res
}

func (d *Dispatcher) execute(ctx context.Context, tool *Tool, call protocol.ToolCall) protocol.Result {
	execCtx, cancel := context.WithTimeout(ctx, d.config.ToolTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan protocol.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- protocol.Fail(protocol.ErrToolExecution, fmt.Sprintf("tool panicked: %v", r))
			}
		}()
		done <- tool.Execute(execCtx, call.Args)
	}()

	select {
	case res := <-done:
		res.Metadata.DurationMs = time.Since(start).Milliseconds()
		return res
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return protocol.Fail(protocol.ErrAgentCancelled, "tool call cancelled")
		}
		return protocol.Fail(protocol.ErrToolTimeout,
			fmt.Sprintf("tool %s exceeded %s", call.Name, d.config.ToolTimeout))
	}
}

// DispatchAll runs proposed calls in order. A clarification result is
// terminal for the turn: the remaining calls are skipped and the
// clarification is returned alongside the results produced so far.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []protocol.ToolCall) ([]protocol.Result, *protocol.Clarification) {
	var results []protocol.Result
	for _, call := range calls {
		res := d.Dispatch(ctx, call)
		results = append(results, res)
		if c, ok := protocol.ClarificationFrom(res); ok {
			return results, c
		}
	}
	return results, nil
}
