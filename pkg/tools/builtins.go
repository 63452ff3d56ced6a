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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/protocol"
)

// DelegateFunc hands a delegation request to the engine. Injected by the
// orchestrator so the tool layer stays free of loop dependencies.
type DelegateFunc func(ctx context.Context, task string, strategy string) protocol.Result

// Env wires the builtin tools to their collaborators.
type Env struct {
	Memory    *memory.Manager
	Adapter   adapter.ActionAdapter
	Plan      *PlanStore
	Snapshots *SnapshotStore
	Delegate  DelegateFunc
}

// RegisterBuiltins installs the canonical tool surface on a dispatcher.
func RegisterBuiltins(d *Dispatcher, env *Env) {
	if env.Plan == nil {
		env.Plan = NewPlanStore()
	}
	if env.Snapshots == nil {
		env.Snapshots = NewSnapshotStore()
	}
	for _, t := range Builtins(env) {
		d.Register(t)
	}
}

// Builtins returns the canonical, domain-agnostic tool set.
func Builtins(env *Env) []*Tool {
	return []*Tool{
		contextReadTool(env),
		contextWriteTool(env),
		contextSearchTool(env),
		taskExecuteTool(env),
		stateSnapshotTool(env),
		agentDelegateTool(env),
		agentPlanTool(env),
		agentClarifyTool(),
	}
}

func decode(input map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func contextReadTool(env *Env) *Tool {
	type args struct {
		Tier  string `mapstructure:"tier"`
		Limit int    `mapstructure:"limit"`
	}
	return MustTool("context_read",
		"Read messages from engine memory, newest last. Optional tier filter.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"tier":  map[string]interface{}{"type": "string"},
				"limit": map[string]interface{}{"type": "integer", "minimum": 1},
			},
		},
		func(ctx context.Context, input map[string]interface{}) protocol.Result {
			var a args
			if err := decode(input, &a); err != nil {
				return protocol.FailErr(protocol.ErrToolValidation, err)
			}
			tiers := memory.TierOrder
			if a.Tier != "" {
				tiers = []memory.TierName{memory.TierName(a.Tier)}
			}
			var lines []string
			for _, tier := range tiers {
				for _, msg := range env.Memory.TierMessages(tier) {
					lines = append(lines, fmt.Sprintf("[%s/%s] %s", tier, msg.Role, msg.Text()))
				}
			}
			if a.Limit > 0 && len(lines) > a.Limit {
				lines = lines[len(lines)-a.Limit:]
			}
			return protocol.OK(map[string]interface{}{
				"content": strings.Join(lines, "\n"),
				"count":   len(lines),
			})
		})
}

func contextWriteTool(env *Env) *Tool {
	type args struct {
		Content  string `mapstructure:"content"`
		Tier     string `mapstructure:"tier"`
		Priority int    `mapstructure:"priority"`
	}
	return MustTool("context_write",
		"Write a note into engine memory. Defaults to the recent tier.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"content":  map[string]interface{}{"type": "string"},
				"tier":     map[string]interface{}{"type": "string"},
				"priority": map[string]interface{}{"type": "integer"},
			},
			"required": []interface{}{"content"},
		},
		func(ctx context.Context, input map[string]interface{}) protocol.Result {
			var a args
			if err := decode(input, &a); err != nil {
				return protocol.FailErr(protocol.ErrToolValidation, err)
			}
			tier := memory.TierRecent
			if a.Tier != "" {
				tier = memory.TierName(a.Tier)
			}
			msg := memory.NewMessage(memory.RoleAssistant, a.Content)
			if a.Priority > 0 {
				msg.Priority = a.Priority
			}
			env.Memory.AddMessage(msg, tier)
			return protocol.OK(map[string]interface{}{"message_id": msg.ID})
		})
}

func contextSearchTool(env *Env) *Tool {
	type args struct {
		Query string `mapstructure:"query"`
		Limit int    `mapstructure:"limit"`
	}
	return MustTool("context_search",
		"Search engine memory for messages containing the query.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
				"limit": map[string]interface{}{"type": "integer", "minimum": 1},
			},
			"required": []interface{}{"query"},
		},
		func(ctx context.Context, input map[string]interface{}) protocol.Result {
			var a args
			if err := decode(input, &a); err != nil {
				return protocol.FailErr(protocol.ErrToolValidation, err)
			}
			if a.Limit <= 0 {
				a.Limit = 10
			}
			query := strings.ToLower(a.Query)
			var matches []map[string]interface{}
			for _, tier := range memory.TierOrder {
				for _, msg := range env.Memory.TierMessages(tier) {
					if len(matches) >= a.Limit {
						break
					}
					text := msg.Text()
					if strings.Contains(strings.ToLower(text), query) {
						matches = append(matches, map[string]interface{}{
							"id":      msg.ID,
							"tier":    string(tier),
							"role":    string(msg.Role),
							"excerpt": excerpt(text, query),
						})
					}
				}
			}
			return protocol.OK(map[string]interface{}{
				"matches": matches,
				"count":   len(matches),
			})
		})
}

func taskExecuteTool(env *Env) *Tool {
	type args struct {
		Action string                 `mapstructure:"action"`
		Params map[string]interface{} `mapstructure:"params"`
	}
	return MustTool("task_execute",
		"Execute an action against the connected backend.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"action": map[string]interface{}{"type": "string"},
				"params": map[string]interface{}{"type": "object"},
			},
			"required": []interface{}{"action"},
		},
		func(ctx context.Context, input map[string]interface{}) protocol.Result {
			var a args
			if err := decode(input, &a); err != nil {
				return protocol.FailErr(protocol.ErrToolValidation, err)
			}
			if env.Adapter == nil {
				return protocol.Fail(protocol.ErrAdapterConnection, "no backend adapter is configured")
			}
			return env.Adapter.Execute(ctx, a.Action, a.Params, nil)
		})
}

func stateSnapshotTool(env *Env) *Tool {
	type args struct {
		Name string `mapstructure:"name"`
	}
	return MustTool("state_snapshot",
		"Capture a named snapshot of the current backend state.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{"type": "string"},
			},
		},
		func(ctx context.Context, input map[string]interface{}) protocol.Result {
			var a args
			if err := decode(input, &a); err != nil {
				return protocol.FailErr(protocol.ErrToolValidation, err)
			}
			if env.Adapter == nil {
				return protocol.Fail(protocol.ErrAdapterConnection, "no backend adapter is configured")
			}
			snap, err := env.Adapter.GetState(ctx, nil)
			if err != nil {
				return protocol.FailErr(protocol.ErrAdapterExecution, err)
			}
			name := a.Name
			if name == "" {
				name = "snapshot-" + time.Now().Format("150405")
			}
			env.Snapshots.Put(name, snap)
			return protocol.OK(map[string]interface{}{
				"name":          name,
				"element_count": snap.ElementCount,
				"summary":       snap.Summary,
			})
		})
}

func agentDelegateTool(env *Env) *Tool {
	type args struct {
		Task     string `mapstructure:"task"`
		Strategy string `mapstructure:"strategy"`
	}
	return MustTool("agent_delegate",
		"Delegate a subtask to a sub-agent. Strategy may force direct, isolated or parallel-isolated execution.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task":     map[string]interface{}{"type": "string"},
				"strategy": map[string]interface{}{"type": "string", "enum": []interface{}{"direct", "isolated", "parallel-isolated"}},
			},
			"required": []interface{}{"task"},
		},
		func(ctx context.Context, input map[string]interface{}) protocol.Result {
			var a args
			if err := decode(input, &a); err != nil {
				return protocol.FailErr(protocol.ErrToolValidation, err)
			}
			if env.Delegate == nil {
				return protocol.Fail(protocol.ErrToolExecution, "delegation is not available in this context")
			}
			return env.Delegate(ctx, a.Task, a.Strategy)
		})
}

func agentPlanTool(env *Env) *Tool {
	type taskArg struct {
		ID        string   `mapstructure:"id"`
		Title     string   `mapstructure:"title"`
		Status    string   `mapstructure:"status"`
		DependsOn []string `mapstructure:"depends_on"`
	}
	type args struct {
		Tasks []taskArg `mapstructure:"tasks"`
	}
	return MustTool("agent_plan",
		"Create or update the working plan. Tasks reference dependencies by id.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"tasks": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"id":         map[string]interface{}{"type": "string"},
							"title":      map[string]interface{}{"type": "string"},
							"status":     map[string]interface{}{"type": "string", "enum": []interface{}{"pending", "in_progress", "completed", "canceled"}},
							"depends_on": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
						},
						"required": []interface{}{"id", "title"},
					},
				},
			},
			"required": []interface{}{"tasks"},
		},
		func(ctx context.Context, input map[string]interface{}) protocol.Result {
			var a args
			if err := decode(input, &a); err != nil {
				return protocol.FailErr(protocol.ErrToolValidation, err)
			}
			now := time.Now()
			for _, t := range a.Tasks {
				status := t.Status
				if status == "" {
					status = "pending"
				}
				env.Plan.Upsert(protocol.PlanTask{
					ID:        t.ID,
					Title:     t.Title,
					Status:    status,
					DependsOn: t.DependsOn,
					UpdatedAt: now,
				})
			}
			tasks := env.Plan.Tasks()
			ready := protocol.NextTasks(tasks)
			readyIDs := make([]string, 0, len(ready))
			for _, t := range ready {
				readyIDs = append(readyIDs, t.ID)
			}
			return protocol.OK(map[string]interface{}{
				"task_count": len(tasks),
				"next":       readyIDs,
				"plan":       protocol.FormatPlan(tasks),
			})
		})
}

func agentClarifyTool() *Tool {
	type args struct {
		Questions []string `mapstructure:"questions"`
		Options   []string `mapstructure:"options"`
		Reason    string   `mapstructure:"reason"`
		Type      string   `mapstructure:"type"`
	}
	return MustTool("agent_clarify",
		"Ask the user a clarifying question. This interrupts the current turn.",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"questions": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "minItems": 1},
				"options":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"reason":    map[string]interface{}{"type": "string"},
				"type":      map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"questions"},
		},
		func(ctx context.Context, input map[string]interface{}) protocol.Result {
			var a args
			if err := decode(input, &a); err != nil {
				return protocol.FailErr(protocol.ErrToolValidation, err)
			}
			data := map[string]interface{}{
				"clarification_id": "clar-" + uuid.NewString()[:8],
				"questions":        a.Questions,
			}
			if len(a.Options) > 0 {
				data["options"] = a.Options
			}
			if a.Reason != "" {
				data["reason"] = a.Reason
			}
			if a.Type != "" {
				data["type"] = a.Type
			}
			return protocol.OK(data)
		})
}

func excerpt(text, query string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, query)
	if idx < 0 {
		idx = 0
	}
	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + 40
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

// PlanStore holds the working plan as a flat list keyed by task id.
type PlanStore struct {
	mu    sync.Mutex
	tasks []protocol.PlanTask
}

func NewPlanStore() *PlanStore {
	return &PlanStore{}
}

// Upsert replaces a task by id or appends it.
func (p *PlanStore) Upsert(task protocol.PlanTask) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.tasks {
		if p.tasks[i].ID == task.ID {
			p.tasks[i] = task
			return
		}
	}
	p.tasks = append(p.tasks, task)
}

// Tasks returns a copy of the plan in insertion order.
func (p *PlanStore) Tasks() []protocol.PlanTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.PlanTask(nil), p.tasks...)
}

// Format renders the plan for context injection; empty when no tasks.
func (p *PlanStore) Format() string {
	return protocol.FormatPlan(p.Tasks())
}

// SnapshotStore keeps named state snapshots for the session.
type SnapshotStore struct {
	mu    sync.Mutex
	byKey map[string]*adapter.StateSnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{byKey: make(map[string]*adapter.StateSnapshot)}
}

func (s *SnapshotStore) Put(name string, snap *adapter.StateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[name] = snap
}

func (s *SnapshotStore) Get(name string) (*adapter.StateSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.byKey[name]
	return snap, ok
}
