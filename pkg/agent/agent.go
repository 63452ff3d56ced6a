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

// Package agent drives the Think/Act/Observe/Decide loop: one iteration per
// LLM turn, bounded by iteration and error limits, emitting a finite event
// stream that always ends with exactly one terminal event.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/llms"
	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/monitor"
	"github.com/inletlabs/toad/pkg/protocol"
	"github.com/inletlabs/toad/pkg/resources"
	"github.com/inletlabs/toad/pkg/tools"
)

// Config tunes one agent.
type Config struct {
	SystemPrompt       string  `yaml:"system_prompt"`
	Model              string  `yaml:"model"`
	MaxIterations      int     `yaml:"max_iterations"`
	MaxErrors          int     `yaml:"max_errors"`
	MaxResponseTokens  int     `yaml:"max_response_tokens"`
	Temperature        float64 `yaml:"temperature"`
	CheckpointInterval int     `yaml:"checkpoint_interval"`
	AwarenessBudget    int     `yaml:"awareness_budget"`
	HistoryLines       int     `yaml:"history_lines"`
}

func (c *Config) SetDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are a capable assistant operating a backend through tools. Ground every action in the current state; never invent identifiers."
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 3
	}
	if c.MaxResponseTokens <= 0 {
		c.MaxResponseTokens = 4096
	}
	if c.AwarenessBudget <= 0 {
		c.AwarenessBudget = 500
	}
	if c.HistoryLines <= 0 {
		c.HistoryLines = 5
	}
}

// Checkpointer persists loop state; wired from the checkpoint package.
type Checkpointer func(ctx context.Context, sessionID string, state *LoopState) error

// Deps are the agent's collaborators. Memory and Dispatcher are required;
// the rest degrade gracefully when absent.
type Deps struct {
	Providers  *llms.Registry
	Memory     *memory.Manager
	Lifecycle  *memory.Lifecycle
	Dispatcher *tools.Dispatcher
	Env        *tools.Env
	Monitor    *monitor.Monitor
	Resolver   *resources.Resolver
	Adapter    adapter.ActionAdapter
	Checkpoint Checkpointer
}

// Agent runs tasks through the loop. One Run at a time; the control surface
// (Interrupt, SetModel) is safe to call from other goroutines.
type Agent struct {
	config Config
	deps   Deps
	log    *slog.Logger

	sessionID string
	running   atomic.Bool

	mu     sync.Mutex
	model  string
	cancel context.CancelFunc

	// toolMsgs maps call ids to their context messages so lifecycle aging
	// can rewrite stored content in place.
	toolMsgs map[string]*memory.Message
}

func New(config Config, deps Deps) (*Agent, error) {
	config.SetDefaults()
	if deps.Memory == nil {
		return nil, fmt.Errorf("agent requires a context manager")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("agent requires a tool dispatcher")
	}
	if deps.Providers == nil {
		return nil, fmt.Errorf("agent requires a provider registry")
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = memory.NewLifecycle(memory.LifecycleConfig{}, nil, nil)
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.New(monitor.Config{})
	}
	if deps.Env == nil {
		deps.Env = &tools.Env{}
	}
	if deps.Env.Plan == nil {
		deps.Env.Plan = tools.NewPlanStore()
	}
	return &Agent{
		config:    config,
		deps:      deps,
		log:       slog.Default().With("component", "agent"),
		sessionID: uuid.NewString(),
		model:     config.Model,
		toolMsgs:  make(map[string]*memory.Message),
	}, nil
}

func (a *Agent) SessionID() string { return a.sessionID }
func (a *Agent) IsRunning() bool   { return a.running.Load() }

// SetModel switches the model for subsequent generations.
func (a *Agent) SetModel(model string) {
	a.mu.Lock()
	a.model = model
	a.mu.Unlock()
}

func (a *Agent) currentModel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// Interrupt cancels the current run, if any.
func (a *Agent) Interrupt() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run starts the loop for one task. The returned channel is closed after
// exactly one terminal event.
func (a *Agent) Run(ctx context.Context, task string) <-chan Event {
	events := make(chan Event, 64)

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.running.Store(true)
	go func() {
		defer close(events)
		defer a.running.Store(false)
		defer cancel()
		a.run(runCtx, task, events)
	}()
	return events
}

func (a *Agent) run(ctx context.Context, task string, events chan<- Event) {
	emit := func(e Event) { events <- e }

	toolNames := make([]string, 0)
	for _, t := range a.deps.Dispatcher.List() {
		toolNames = append(toolNames, t.Name)
	}
	emit(newEvent(EventSystem, 0, map[string]interface{}{
		"tools":      toolNames,
		"model":      a.currentModel(),
		"session_id": a.sessionID,
	}))

	if a.config.SystemPrompt != "" {
		a.deps.Memory.AddSystemMessage(a.config.SystemPrompt)
	}

	state := newLoopState(task)

	for state.Iteration < a.config.MaxIterations {
		if ctx.Err() != nil {
			emit(newEvent(EventCancelled, state.Iteration, map[string]interface{}{
				"reason": "cancelled by caller",
			}))
			return
		}

		a.think(ctx, state, emit)

		resp, fatal := a.generate(ctx, state, emit)
		if fatal != nil {
			emit(newEvent(EventFailed, state.Iteration, map[string]interface{}{
				"reason": protocol.UserMessage(fatal),
				"code":   fatal.Code,
			}))
			return
		}

		var interrupted *protocol.Clarification
		if resp != nil {
			if resp.Text != "" {
				a.deps.Memory.AddAssistantMessage(resp.Text, nil)
				emit(newEvent(EventReasoning, state.Iteration, map[string]interface{}{
					"text": resp.Text,
				}))
			}
			switch {
			case resp.FinishReason == llms.FinishContentFilter || resp.FinishReason == llms.FinishError:
				// The turn produced nothing usable; spend error budget and
				// let DECIDE stop the loop when it runs out.
				reason := "generation ended with " + resp.FinishReason
				state.Errors = append(state.Errors,
					protocol.NewAgentError(protocol.ErrAgentGeneration, reason))
				emit(newEvent(EventError, state.Iteration, map[string]interface{}{
					"error": reason,
				}))
			case len(resp.ToolCalls) == 0 && resp.FinishReason == llms.FinishStop:
				emit(newEvent(EventComplete, state.Iteration, map[string]interface{}{
					"summary": strings.TrimSpace(resp.Text),
				}))
				return
			default:
				interrupted = a.act(ctx, state, resp.ToolCalls, emit)
			}
		}

		// DECIDE, in order.
		switch {
		case ctx.Err() != nil:
			emit(newEvent(EventCancelled, state.Iteration, map[string]interface{}{
				"reason": "cancelled by caller",
			}))
			return
		case interrupted != nil:
			emit(newEvent(EventInterrupted, state.Iteration, map[string]interface{}{
				"clarification_id": interrupted.ClarificationID,
				"questions":        interrupted.Questions,
			}))
			return
		case len(state.Errors) >= a.config.MaxErrors:
			emit(newEvent(EventFailed, state.Iteration, map[string]interface{}{
				"reason": fmt.Sprintf("aborted after %d errors", len(state.Errors)),
				"errors": errorSummaries(state.Errors),
			}))
			return
		}

		a.maybeCheckpoint(state, emit)

		state.Iteration++
		state.IsFirstIteration = false
	}

	emit(newEvent(EventTimeout, state.Iteration, map[string]interface{}{
		"reason": fmt.Sprintf("reached %d iterations", a.config.MaxIterations),
	}))
}

// think refreshes awareness and state, ages tool results, injects ephemeral
// context and assembles the user message for this turn.
func (a *Agent) think(ctx context.Context, state *LoopState, emit func(Event)) {
	emit(newEvent(EventThinking, state.Iteration, nil))

	if a.deps.Adapter != nil {
		rc := &state.Resources.Context
		if rc.Awareness == nil || rc.AwarenessIsStale {
			aw, err := a.deps.Adapter.GetAwareness(ctx, &adapter.AwarenessOptions{
				IncludeSkeleton: true,
				IncludeRelevant: true,
				MaxTokens:       a.config.AwarenessBudget,
				ContextHint:     state.Resources.Task,
			})
			if err != nil {
				a.log.Warn("awareness refresh failed", "error", err)
			} else {
				rc.Awareness = aw
				rc.AwarenessFetchedAt = time.Now()
				rc.AwarenessIsStale = false
				emit(newEvent(EventContext, state.Iteration, map[string]interface{}{
					"summary": aw.Summary,
					"tokens":  aw.TokensUsed,
				}))
			}
		}

		if snap, err := a.deps.Adapter.GetState(ctx, nil); err == nil {
			state.LastSnapshot = snap
		} else {
			a.log.Warn("state snapshot failed, keeping previous", "error", err)
		}
	}

	report := a.deps.Lifecycle.AgeResults(state.Iteration)
	a.applyAging(report)

	a.deps.Memory.ClearEphemeral()
	if state.LastSnapshot != nil {
		a.deps.Memory.AddEphemeral("Current state: "+state.LastSnapshot.Summary, memory.PriorityLow)
	}
	if plan := a.deps.Env.Plan.Format(); plan != "" {
		a.deps.Memory.AddEphemeral(plan, memory.PriorityNormal)
		emit(newEvent(EventTaskUpdate, state.Iteration, map[string]interface{}{
			"plan": plan,
		}))
	}
	if text, ok := a.deps.Monitor.PopPendingCorrections(); ok {
		a.deps.Memory.AddEphemeral(text, memory.PriorityCritical)
		emit(newEvent(EventCorrection, state.Iteration, map[string]interface{}{
			"text": text,
		}))
	}

	resolvedTask := state.Resources.Task
	if a.deps.Resolver != nil {
		emit(newEvent(EventAliasResolving, state.Iteration, nil))
		res, err := a.deps.Resolver.Resolve(ctx, state.Resources.Task,
			a.deps.Memory.Budget().Remaining(), resources.Policy{})
		if err != nil {
			a.log.Warn("alias resolution failed", "error", err)
		} else {
			resolvedTask = res.ResolvedPrompt
			if res.ContextSection != "" {
				msg := memory.NewMessage(memory.RoleUser, res.ContextSection)
				a.deps.Memory.AddMessage(msg, memory.TierResources)
			}
			emit(newEvent(EventAliasResolved, state.Iteration, map[string]interface{}{
				"resolved": len(res.Resolved),
				"errors":   len(res.Errors),
			}))
		}
	}

	a.deps.Memory.AddUserMessage(a.composeUserMessage(state, resolvedTask), nil)
}

func (a *Agent) composeUserMessage(state *LoopState, resolvedTask string) string {
	var b strings.Builder
	b.WriteString(resolvedTask)

	if aw := state.Resources.Context.Awareness; aw != nil {
		b.WriteString("\n\nCurrent state: " + aw.Summary)
		if aw.Skeleton != "" {
			b.WriteString("\n" + aw.Skeleton)
		}
		if len(aw.Relevant) > 0 {
			b.WriteString("\nRelevant: " + strings.Join(aw.Relevant, ", "))
		}
	}
	if lines := state.RecentHistoryLines(a.config.HistoryLines); len(lines) > 0 {
		b.WriteString("\n\nRecent actions:\n- " + strings.Join(lines, "\n- "))
	}
	b.WriteString("\n\nContinue the task. Use tools for every backend operation; if the request is ambiguous, call agent_clarify instead of guessing.")
	return b.String()
}

// applyAging rewrites context messages whose lifecycle entries changed stage
// and removes evicted ones.
func (a *Agent) applyAging(report memory.AgeReport) {
	for _, id := range append(report.Compressed, report.Archived...) {
		if msg, ok := a.toolMsgs[id]; ok {
			if content, found := a.deps.Lifecycle.Content(id); found {
				msg.SetContent(content)
			}
		}
	}
	for _, id := range report.Evicted {
		if msg, ok := a.toolMsgs[id]; ok {
			a.deps.Memory.Remove(msg.ID)
			delete(a.toolMsgs, id)
		}
	}
}

// generate calls the provider, retrying in place after recoverable failures
// until the error budget runs out. The returned error is fatal and terminates
// the run.
func (a *Agent) generate(ctx context.Context, state *LoopState, emit func(Event)) (*llms.Response, *protocol.AgentError) {
	prepared, err := a.deps.Memory.PrepareForRequest(ctx)
	if err != nil {
		var overflow *memory.OverflowError
		if errors.As(err, &overflow) {
			return nil, protocol.NewAgentError(protocol.ErrAgentOverflow, overflow.Error())
		}
		return nil, protocol.NewAgentError(protocol.ErrAgentExecution, err.Error())
	}

	req := &llms.Request{
		Model:       a.currentModel(),
		System:      prepared.SystemPrompt,
		History:     historyMessages(prepared),
		Tools:       a.toolSpecs(),
		MaxTokens:   a.config.MaxResponseTokens,
		Temperature: a.config.Temperature,
	}

	provider, perr := a.deps.Providers.Get("")
	if perr != nil {
		return nil, protocol.NewAgentError(protocol.ErrAgentGeneration, perr.Error())
	}

	// Up to MaxErrors attempts in place; each failure spends error budget.
	for attempt := 0; attempt < a.config.MaxErrors; attempt++ {
		resp, genErr := provider.Generate(ctx, req)
		if genErr == nil {
			a.deps.Monitor.ClearErrorRun("generate")
			return resp, nil
		}

		var agentErr *protocol.AgentError
		if errors.As(genErr, &agentErr) && agentErr.Code == protocol.ErrAgentAPIKeyMissing {
			return nil, agentErr
		}
		if ctx.Err() != nil {
			return nil, nil
		}

		state.Errors = append(state.Errors,
			protocol.NewAgentError(protocol.ErrAgentGeneration, genErr.Error()))
		if det := a.deps.Monitor.DetectErrorLoop(genErr.Error(), "generate"); det != nil {
			a.deps.Monitor.AddRepeatedErrorCorrection("generation", det.Count)
		}
		if attempt < a.config.MaxErrors-1 && len(state.Errors) < a.config.MaxErrors {
			emit(newEvent(EventRecovery, state.Iteration, map[string]interface{}{
				"error": genErr.Error(),
			}))
			continue
		}
		emit(newEvent(EventError, state.Iteration, map[string]interface{}{
			"error": genErr.Error(),
		}))
		return nil, nil
	}
	return nil, nil
}

func historyMessages(prepared *memory.PreparedRequest) []memory.APIMessage {
	out := make([]memory.APIMessage, 0, len(prepared.Messages))
	for _, msg := range prepared.Messages {
		out = append(out, memory.APIMessage{
			Role:    string(msg.Role),
			Content: msg.Text(),
			Name:    msg.ToolName,
			CallID:  msg.CallID,
		})
	}
	return out
}

func (a *Agent) toolSpecs() []llms.ToolSpec {
	var specs []llms.ToolSpec
	for _, t := range a.deps.Dispatcher.List() {
		specs = append(specs, llms.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return specs
}

// act dispatches proposed calls in order and observes each result. A
// clarification short-circuits the remaining calls.
func (a *Agent) act(ctx context.Context, state *LoopState, calls []protocol.ToolCall, emit func(Event)) *protocol.Clarification {
	for i, call := range calls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call-%d-%d", state.Iteration, i)
		}
		emit(newEvent(EventActing, state.Iteration, map[string]interface{}{
			"tool":  call.Name,
			"input": call.Args,
		}))
		if call.Name == "agent_delegate" {
			emit(newEvent(EventDelegating, state.Iteration, map[string]interface{}{
				"task": call.Args["task"],
			}))
		}

		res := a.deps.Dispatcher.Dispatch(ctx, call)

		if res.Error != nil && res.Error.Code == protocol.ErrHookBlocked {
			emit(newEvent(EventBlocked, state.Iteration, map[string]interface{}{
				"tool":   call.Name,
				"reason": res.Error.Message,
			}))
			continue
		}

		if clar, ok := protocol.ClarificationFrom(res); ok {
			emit(newEvent(EventObserving, state.Iteration, map[string]interface{}{
				"tool":    call.Name,
				"success": true,
			}))
			emit(newEvent(EventClarification, state.Iteration, map[string]interface{}{
				"clarification_id": clar.ClarificationID,
				"questions":        clar.Questions,
			}))
			return clar
		}

		emit(newEvent(EventObserving, state.Iteration, map[string]interface{}{
			"tool":        call.Name,
			"success":     res.Success,
			"duration_ms": res.Metadata.DurationMs,
		}))
		if call.Name == "agent_delegate" {
			emitDelegationOutcomes(state.Iteration, res, emit)
		}

		state.LastToolCalls = append(state.LastToolCalls, call)
		a.observe(state, call, res, emit)
	}
	return nil
}

// observe records a result into the lifecycle, the echo monitor, history and
// context memory, then applies the mutation effect rule.
func (a *Agent) observe(state *LoopState, call protocol.ToolCall, res protocol.Result, emit func(Event)) {
	content := resultContent(res)
	a.deps.Lifecycle.Add(call.ID, call.Name, content, state.Iteration)
	msg := a.deps.Memory.AddToolResult(call.ID, call.Name, content, !res.Success)
	a.toolMsgs[call.ID] = msg

	validation := a.deps.Monitor.ValidateToolResult(call.Name, res, state.LastSnapshot)
	if !validation.Valid {
		for _, issue := range validation.Issues {
			switch issue.Type {
			case monitor.IssueInvalidID:
				a.deps.Monitor.AddInvalidIdCorrection(issue.Claimed)
			case monitor.IssueStaleState:
				a.deps.Monitor.AddStaleStateCorrection(issue.Claimed)
			}
		}
		emit(newEvent(EventWarning, state.Iteration, map[string]interface{}{
			"tool":   call.Name,
			"issues": validation.Issues,
		}))
	}

	state.recordHistory(HistoryEntry{Tool: call.Name, Result: res})

	if !res.Success && res.Error != nil {
		state.Errors = append(state.Errors, res.Error)
		a.deps.Monitor.RecordCall(call.Name, call.Args, res.Error.Message)
		if det := a.deps.Monitor.DetectErrorLoop(res.Error.Message, call.Name); det != nil {
			a.deps.Monitor.AddRepeatedErrorCorrection(call.Name, det.Count)
		}
	} else {
		a.deps.Monitor.RecordCall(call.Name, call.Args, "")
		a.deps.Monitor.ClearErrorRun(call.Name)
	}

	state.noteMutation(a.callMutates(call))
}

// maybeCheckpoint saves and announces loop state once per qualifying
// iteration, regardless of how many tool calls the iteration carried.
func (a *Agent) maybeCheckpoint(state *LoopState, emit func(Event)) {
	if a.config.CheckpointInterval <= 0 || state.Iteration == 0 ||
		state.Iteration%a.config.CheckpointInterval != 0 {
		return
	}
	if a.deps.Checkpoint != nil {
		if err := a.deps.Checkpoint(context.Background(), a.sessionID, state); err != nil {
			a.log.Warn("checkpoint save failed", "error", err)
		}
	}
	emit(newEvent(EventCheckpoint, state.Iteration, map[string]interface{}{
		"session_id": a.sessionID,
	}))
}

// callMutates decides whether a tool call changes backend state. task_execute
// defers to the adapter's action schema; engine-local tools never do.
func (a *Agent) callMutates(call protocol.ToolCall) bool {
	switch call.Name {
	case "task_execute":
		if a.deps.Adapter == nil {
			return true
		}
		action, _ := call.Args["action"].(string)
		return adapter.IsMutating(a.deps.Adapter, action)
	case "agent_delegate":
		// Sub-agents may mutate the backend out of band.
		return true
	default:
		return false
	}
}

// emitDelegationOutcomes surfaces one delegation_complete event per contract,
// in contract order. Direct-strategy results carry no contracts and emit
// nothing.
func emitDelegationOutcomes(iteration int, res protocol.Result, emit func(Event)) {
	if contracts, ok := res.Data["contracts"].([]map[string]interface{}); ok {
		for _, c := range contracts {
			emit(newEvent(EventDelegationComplete, iteration, c))
		}
		return
	}
	if id, ok := res.Data["contract_id"].(string); ok && id != "" {
		emit(newEvent(EventDelegationComplete, iteration, map[string]interface{}{
			"contract_id": id,
			"success":     res.Success,
			"summary":     res.Data["summary"],
			"produced":    res.Data["produced"],
		}))
	}
}

func resultContent(res protocol.Result) string {
	if res.Error != nil {
		return "error: " + res.Error.Message
	}
	if len(res.Data) == 0 {
		return "ok"
	}
	var parts []string
	for k, v := range res.Data {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func errorSummaries(errs []*protocol.AgentError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code+": "+e.Message)
	}
	return out
}
