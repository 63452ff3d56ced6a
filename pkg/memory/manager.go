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

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/inletlabs/toad/pkg/tokens"
)

// OverflowError is surfaced when content cannot be made to fit the budget
// even after compression and eviction.
type OverflowError struct {
	Overflow int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("context overflow: %d tokens over budget after compression", e.Overflow)
}

// ManagerConfig configures the context manager.
type ManagerConfig struct {
	MaxTokens       int                     `yaml:"max_tokens"`
	ResponseReserve int                     `yaml:"response_reserve"`
	ToolReserve     int                     `yaml:"tool_reserve"`
	Tiers           map[TierName]TierConfig `yaml:"tiers"`
}

func (c *ManagerConfig) SetDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 128_000
	}
	if c.ResponseReserve <= 0 {
		c.ResponseReserve = 4096
	}
	if c.ToolReserve <= 0 {
		c.ToolReserve = 2048
	}
	if c.Tiers == nil {
		c.Tiers = DefaultTierConfigs(c.MaxTokens)
	}
}

// PreparedRequest is the fitted message set handed to the LLM provider.
// Invariant: total message tokens never exceed maxTokens minus reservations.
type PreparedRequest struct {
	Messages     []*Message
	SystemPrompt string
	Breakdown    Breakdown
	Compressed   int
	Evicted      int
}

// Manager mediates all access to context messages and the token budget. It
// is driven by a single task loop; callers must not mutate it concurrently.
type Manager struct {
	config     ManagerConfig
	budget     *TokenBudget
	estimator  *tokens.Estimator
	allocator  *Allocator
	compressor *Compressor
	tiers      map[TierName]*tier
	log        *slog.Logger
}

func NewManager(config ManagerConfig, estimator *tokens.Estimator, summarizer Summarizer) *Manager {
	config.SetDefaults()
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}

	budget := NewTokenBudget(config.MaxTokens)
	_ = budget.Reserve("response", config.ResponseReserve, "response reserve")
	_ = budget.Reserve("tools", config.ToolReserve, "tool reserve")

	tiers := make(map[TierName]*tier, len(TierOrder))
	for _, name := range TierOrder {
		tiers[name] = newTier(name, config.Tiers[name])
	}

	return &Manager{
		config:     config,
		budget:     budget,
		estimator:  estimator,
		allocator:  NewAllocator(config.Tiers),
		compressor: NewCompressor(estimator, summarizer),
		tiers:      tiers,
		log:        slog.Default().With("component", "context"),
	}
}

// Compressor exposes the manager's compressor, mainly for registering
// per-tool compressors.
func (m *Manager) Compressor() *Compressor { return m.compressor }

// Budget returns the manager's token budget.
func (m *Manager) Budget() *TokenBudget { return m.budget }

// AddSystemMessage stores stable identity context. System messages are
// critical and never compressed or evicted.
func (m *Manager) AddSystemMessage(text string) *Message {
	msg := NewMessage(RoleSystem, text)
	msg.Priority = PriorityCritical
	msg.Compressible = false
	m.insert(msg, TierSystem)
	return msg
}

func (m *Manager) AddUserMessage(text string, attrs map[string]string) *Message {
	msg := NewMessage(RoleUser, text)
	msg.Attributes = attrs
	m.insert(msg, TierRecent)
	return msg
}

func (m *Manager) AddAssistantMessage(text string, attrs map[string]string) *Message {
	msg := NewMessage(RoleAssistant, text)
	msg.Priority = PriorityHigh
	msg.Attributes = attrs
	m.insert(msg, TierRecent)
	return msg
}

// AddToolResult stores a tool outcome tagged for tool-aware compression.
func (m *Manager) AddToolResult(callID, toolName, content string, isError bool) *Message {
	msg := NewMessage(RoleTool, content)
	msg.ToolName = toolName
	msg.CallID = callID
	if isError {
		msg.Priority = PriorityHigh
		msg.Attributes = map[string]string{"is_error": "true"}
	}
	m.insert(msg, TierRecent)
	return msg
}

// AddMessage places a message in an explicit tier.
func (m *Manager) AddMessage(msg *Message, tierName TierName) *Message {
	m.insert(msg, tierName)
	return msg
}

// AddEphemeral stores a per-iteration injection (state summary, task list,
// corrections). Ephemeral content is replaced every iteration.
func (m *Manager) AddEphemeral(text string, priority int) *Message {
	msg := NewMessage(RoleUser, text)
	msg.Priority = priority
	msg.Compressible = false
	m.insert(msg, TierEphemeral)
	return msg
}

// ClearEphemeral drops all per-iteration injections.
func (m *Manager) ClearEphemeral() {
	m.tiers[TierEphemeral].clear()
}

func (m *Manager) insert(msg *Message, tierName TierName) {
	if msg.Tokens <= 0 {
		msg.Tokens = m.estimator.EstimateMessage(msg.Text())
	}
	t, ok := m.tiers[tierName]
	if !ok {
		t = m.tiers[TierRecent]
	}
	if !t.add(msg) {
		m.log.Debug("dropped duplicate message", "tier", string(tierName), "role", string(msg.Role))
	}
}

// Remove deletes a message by id from whichever tier holds it.
func (m *Manager) Remove(id string) bool {
	for _, t := range m.tiers {
		if t.remove(id) {
			return true
		}
	}
	return false
}

// TierTokens reports current token usage for one tier.
func (m *Manager) TierTokens(name TierName) int {
	return m.tiers[name].tokens()
}

// TierMessages returns a copy of one tier's messages in insertion order.
func (m *Manager) TierMessages(name TierName) []*Message {
	return append([]*Message(nil), m.tiers[name].messages...)
}

// PrepareForRequest fits the stored content to the budget and returns the
// ordered message set for the next LLM call. When the allocator cannot fit
// everything it compresses flagged messages with the recommended strategy,
// evicts the rest, and re-checks; irreducible overflow surfaces as
// *OverflowError.
func (m *Manager) PrepareForRequest(ctx context.Context) (*PreparedRequest, error) {
	const maxFitPasses = 3

	compressed, evicted := 0, 0
	for pass := 0; pass < maxFitPasses; pass++ {
		plan := m.allocator.Allocate(AllocationRequest{
			TotalBudget:  m.budget.MaxTokens(),
			Reservations: m.budget.ReservedTotal(),
			Content:      m.contentByTier(),
		})

		// A plan only stands when nothing spilled: the emitted request
		// contains every stored message, so pending compressions and
		// evictions must be applied before the totals hold.
		if plan.Success && len(plan.ToCompress) == 0 && len(plan.ToEvict) == 0 {
			m.applyRetained(plan)
			return m.buildRequest(compressed, evicted), nil
		}

		if len(plan.ToCompress) == 0 && len(plan.ToEvict) == 0 {
			return nil, &OverflowError{Overflow: plan.Overflow}
		}

		c, e, err := m.resolvePressure(ctx, plan)
		if err != nil {
			return nil, err
		}
		compressed += c
		evicted += e
	}

	// Final verification pass after the compression budget is spent.
	plan := m.allocator.Allocate(AllocationRequest{
		TotalBudget:  m.budget.MaxTokens(),
		Reservations: m.budget.ReservedTotal(),
		Content:      m.contentByTier(),
	})
	if !plan.Success {
		return nil, &OverflowError{Overflow: plan.Overflow}
	}
	// Whatever still spills after the fit passes is evicted outright so the
	// prepared request cannot exceed the budget.
	for _, leftover := range append(plan.ToCompress, plan.ToEvict...) {
		if m.Remove(leftover.ID) {
			evicted++
		}
	}
	m.applyRetained(plan)
	return m.buildRequest(compressed, evicted), nil
}

// resolvePressure compresses the flagged messages in place and evicts the
// unfittable ones.
func (m *Manager) resolvePressure(ctx context.Context, plan AllocationResult) (compressed, evicted int, err error) {
	for _, victim := range plan.ToEvict {
		if m.Remove(victim.ID) {
			evicted++
		}
	}

	if len(plan.ToCompress) == 0 {
		return compressed, evicted, nil
	}

	// Group by tool-tagged vs plain content so tool output gets the
	// tool-aware path.
	byKind := map[bool][]*Message{}
	for _, msg := range plan.ToCompress {
		byKind[msg.ToolName != ""] = append(byKind[msg.ToolName != ""], msg)
	}

	for toolContent, group := range byKind {
		current := sumTokens(group)
		target := current / 2
		strategy := m.compressor.RecommendStrategy(current, target, toolContent)
		res, cerr := m.compressor.Compress(ctx, group, CompressOptions{
			Strategy:     strategy,
			TargetTokens: target,
		})
		if cerr != nil {
			return compressed, evicted, fmt.Errorf("compression pass failed: %w", cerr)
		}

		replacements := make(map[string]*Message, len(res.Compressed))
		for _, msg := range res.Compressed {
			replacements[msg.ID] = msg
		}
		for _, original := range group {
			repl, ok := replacements[original.ID]
			if !ok {
				// Collapsed into a summary or dropped by truncation.
				m.Remove(original.ID)
				evicted++
				continue
			}
			if repl.Tokens >= original.Tokens {
				// Compression could not shrink it; evict rather than
				// spin through fit passes.
				m.Remove(original.ID)
				evicted++
				continue
			}
			original.Content = repl.Content
			original.Blocks = repl.Blocks
			original.Tokens = repl.Tokens
			compressed++
		}
		if strategy == StrategySummarize || strategy == StrategyHierarchical {
			for _, summary := range res.Compressed {
				m.insert(summary, TierArchived)
			}
		}
	}
	return compressed, evicted, nil
}

func (m *Manager) applyRetained(plan AllocationResult) {
	for _, name := range TierOrder {
		m.budget.Allocate("tier:"+string(name), sumTokens(plan.Retained[name]))
	}
}

func (m *Manager) buildRequest(compressed, evicted int) *PreparedRequest {
	var messages []*Message
	systemPrompt := ""

	for _, name := range TierOrder {
		msgs := append([]*Message(nil), m.tiers[name].messages...)
		// Insertion order is authoritative for the conversation tiers;
		// the rest emit oldest-first for stable output.
		if name != TierRecent && name != TierArchived {
			sort.SliceStable(msgs, func(i, j int) bool {
				return msgs[i].Timestamp.Before(msgs[j].Timestamp)
			})
		}
		for _, msg := range msgs {
			if name == TierSystem && msg.Role == RoleSystem {
				if systemPrompt != "" {
					systemPrompt += "\n\n"
				}
				systemPrompt += msg.Text()
				continue
			}
			messages = append(messages, msg)
		}
	}

	return &PreparedRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
		Breakdown:    m.budget.Snapshot(),
		Compressed:   compressed,
		Evicted:      evicted,
	}
}

func (m *Manager) contentByTier() map[TierName][]*Message {
	out := make(map[TierName][]*Message, len(TierOrder))
	for _, name := range TierOrder {
		out[name] = append([]*Message(nil), m.tiers[name].messages...)
	}
	return out
}

// Clear drops all messages. Budget reservations survive.
func (m *Manager) Clear() {
	for _, t := range m.tiers {
		t.clear()
	}
	m.budget.Reset()
}

// APIMessage is the provider-neutral projection of a context message.
type APIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
	CallID  string `json:"call_id,omitempty"`
}

// ToAPIFormat renders a prepared request as provider-neutral messages.
func ToAPIFormat(req *PreparedRequest) []APIMessage {
	out := make([]APIMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, APIMessage{Role: string(RoleSystem), Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		out = append(out, APIMessage{
			Role:    string(msg.Role),
			Content: msg.Text(),
			Name:    msg.ToolName,
			CallID:  msg.CallID,
		})
	}
	return out
}
