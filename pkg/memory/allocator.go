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

import "sort"

// AllocationRequest describes the planning problem: everything currently in
// memory, an optional incoming message, and the budget after reservations.
type AllocationRequest struct {
	TotalBudget  int
	Reservations int
	Content      map[TierName][]*Message
	Incoming     *Message
}

// AllocationResult is the allocator's plan. Retained messages fit their tier
// allocation; the rest are flagged for compression or eviction. Transient
// overflow is permitted during planning but Success is false until the
// manager resolves it.
type AllocationResult struct {
	Allocations map[TierName]int
	Retained    map[TierName][]*Message
	ToCompress  []*Message
	ToEvict     []*Message
	Success     bool
	Overflow    int
}

// Allocator computes per-tier token allocations under the configured tier
// policies.
type Allocator struct {
	configs map[TierName]TierConfig
}

func NewAllocator(configs map[TierName]TierConfig) *Allocator {
	return &Allocator{configs: configs}
}

// Allocate plans how the current content fits the budget.
func (a *Allocator) Allocate(req AllocationRequest) AllocationResult {
	available := req.TotalBudget - req.Reservations

	result := AllocationResult{
		Allocations: make(map[TierName]int, len(TierOrder)),
		Retained:    make(map[TierName][]*Message, len(TierOrder)),
	}

	if available <= 0 {
		for _, name := range TierOrder {
			result.Allocations[name] = 0
			for _, msg := range req.Content[name] {
				result.ToEvict = append(result.ToEvict, msg)
			}
		}
		result.Overflow = totalTokens(req.Content) + incomingTokens(req.Incoming)
		return result
	}

	usage := make(map[TierName]int, len(TierOrder))
	total := 0
	for _, name := range TierOrder {
		usage[name] = sumTokens(req.Content[name])
		total += usage[name]
	}
	if req.Incoming != nil {
		usage[TierRecent] += req.Incoming.Tokens
		total += req.Incoming.Tokens
	}

	if total <= available {
		// Everything fits: allocate optimally by share, capped per tier.
		for _, name := range TierOrder {
			cfg := a.configs[name]
			alloc := int(float64(req.TotalBudget) * cfg.Share)
			if cfg.MaxTokens > 0 && alloc > cfg.MaxTokens {
				alloc = cfg.MaxTokens
			}
			if alloc < usage[name] {
				alloc = usage[name]
			}
			result.Allocations[name] = alloc
			result.Retained[name] = append([]*Message(nil), req.Content[name]...)
		}
		if req.Incoming != nil {
			result.Retained[TierRecent] = append(result.Retained[TierRecent], req.Incoming)
		}
		result.Success = true
		return result
	}

	a.allocateConstrained(req, usage, available, &result)
	return result
}

// allocateConstrained runs the prioritised allocation: seed minimums, grant
// extras by static tier weight, then trim each tier to its grant.
func (a *Allocator) allocateConstrained(req AllocationRequest, usage map[TierName]int, available int, result *AllocationResult) {
	remaining := available

	for _, name := range TierOrder {
		min := a.configs[name].MinTokens
		if min > remaining {
			min = remaining
		}
		result.Allocations[name] = min
		remaining -= min
	}

	ordered := append([]TierName(nil), TierOrder...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return tierWeights[ordered[i]] > tierWeights[ordered[j]]
	})

	for _, name := range ordered {
		if remaining <= 0 {
			break
		}
		cfg := a.configs[name]
		want := usage[name] - result.Allocations[name]
		if want <= 0 {
			continue
		}
		if cfg.MaxTokens > 0 {
			cap := cfg.MaxTokens - result.Allocations[name]
			if want > cap {
				want = cap
			}
		}
		if want > remaining {
			want = remaining
		}
		if want > 0 {
			result.Allocations[name] += want
			remaining -= want
		}
	}

	for _, name := range TierOrder {
		content := req.Content[name]
		if name == TierRecent && req.Incoming != nil {
			content = append(append([]*Message(nil), content...), req.Incoming)
		}
		kept, compress, evict := a.trimTier(name, content, result.Allocations[name], req.Incoming)
		result.Retained[name] = kept
		result.ToCompress = append(result.ToCompress, compress...)
		result.ToEvict = append(result.ToEvict, evict...)
	}

	overflow := 0
	for _, name := range TierOrder {
		if extra := sumTokens(result.Retained[name]) - result.Allocations[name]; extra > 0 {
			overflow += extra
		}
	}
	result.Overflow = overflow
	result.Success = overflow <= 0
}

// trimTier keeps the highest-priority, newest messages that fit the
// allocation. Compressible spill goes to compress, the rest to evict. The
// incoming message is always kept; room is made by evicting the oldest.
func (a *Allocator) trimTier(name TierName, content []*Message, allocation int, incoming *Message) (kept, compress, evict []*Message) {
	if len(content) == 0 {
		return nil, nil, nil
	}
	cfg := a.configs[name]

	ranked := append([]*Message(nil), content...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority > ranked[j].Priority
		}
		return ranked[i].Timestamp.After(ranked[j].Timestamp)
	})

	used := 0
	for _, msg := range ranked {
		if used+msg.Tokens <= allocation || (incoming != nil && msg.ID == incoming.ID) {
			kept = append(kept, msg)
			used += msg.Tokens
			continue
		}
		if cfg.Compressible && msg.Compressible {
			compress = append(compress, msg)
		} else if cfg.Evictable {
			evict = append(evict, msg)
		} else {
			// Non-evictable tier over budget: keep and report overflow.
			kept = append(kept, msg)
			used += msg.Tokens
		}
	}

	// Incoming still over budget: evict oldest kept recent messages.
	if incoming != nil && name == TierRecent && used > allocation {
		byAge := append([]*Message(nil), kept...)
		sort.SliceStable(byAge, func(i, j int) bool {
			return byAge[i].Timestamp.Before(byAge[j].Timestamp)
		})
		for _, victim := range byAge {
			if used <= allocation || victim.ID == incoming.ID {
				continue
			}
			kept = removeByID(kept, victim.ID)
			evict = append(evict, victim)
			used -= victim.Tokens
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})
	return kept, compress, evict
}

func removeByID(msgs []*Message, id string) []*Message {
	for i, m := range msgs {
		if m.ID == id {
			return append(msgs[:i:i], msgs[i+1:]...)
		}
	}
	return msgs
}

func sumTokens(msgs []*Message) int {
	total := 0
	for _, m := range msgs {
		total += m.Tokens
	}
	return total
}

func totalTokens(content map[TierName][]*Message) int {
	total := 0
	for _, msgs := range content {
		total += sumTokens(msgs)
	}
	return total
}

func incomingTokens(msg *Message) int {
	if msg == nil {
		return 0
	}
	return msg.Tokens
}
