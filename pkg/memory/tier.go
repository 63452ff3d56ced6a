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

// TierName identifies one partition of the token budget.
type TierName string

const (
	TierSystem    TierName = "system"
	TierTools     TierName = "tools"
	TierResources TierName = "resources"
	TierRecent    TierName = "recent"
	TierArchived  TierName = "archived"
	TierEphemeral TierName = "ephemeral"
)

// TierOrder lists tiers in emission order: stable context first, then
// expanded resources, summaries and per-iteration injections, with the live
// conversation last so the current turn closes the prompt.
var TierOrder = []TierName{
	TierSystem, TierTools, TierResources, TierArchived, TierEphemeral, TierRecent,
}

// tierWeights is the static priority used during constrained allocation.
var tierWeights = map[TierName]int{
	TierSystem:    100,
	TierTools:     80,
	TierRecent:    70,
	TierResources: 60,
	TierArchived:  40,
	TierEphemeral: 10,
}

// TierConfig sets the policy for one tier.
type TierConfig struct {
	Share        float64 `yaml:"share"`      // fraction of the total budget
	MinTokens    int     `yaml:"min_tokens"` // floor granted before prioritised allocation
	MaxTokens    int     `yaml:"max_tokens"` // hard cap; 0 means unbounded
	Compressible bool    `yaml:"compressible"`
	Evictable    bool    `yaml:"evictable"`
}

// DefaultTierConfigs returns the default tier policies for a total budget.
func DefaultTierConfigs(totalBudget int) map[TierName]TierConfig {
	share := func(f float64) int { return int(float64(totalBudget) * f) }
	return map[TierName]TierConfig{
		TierSystem:    {Share: 0.08, MinTokens: share(0.02), MaxTokens: share(0.16), Compressible: false, Evictable: false},
		TierTools:     {Share: 0.06, MinTokens: share(0.01), MaxTokens: share(0.12), Compressible: false, Evictable: false},
		TierResources: {Share: 0.10, MinTokens: 0, MaxTokens: share(0.20), Compressible: true, Evictable: true},
		TierRecent:    {Share: 0.45, MinTokens: share(0.10), MaxTokens: share(0.70), Compressible: true, Evictable: true},
		TierArchived:  {Share: 0.25, MinTokens: 0, MaxTokens: share(0.40), Compressible: true, Evictable: true},
		TierEphemeral: {Share: 0.06, MinTokens: 0, MaxTokens: share(0.10), Compressible: false, Evictable: true},
	}
}

// tier holds the messages of one partition in insertion order.
type tier struct {
	name     TierName
	config   TierConfig
	messages []*Message
	seen     map[string]string // dedupeKey -> message id
}

func newTier(name TierName, config TierConfig) *tier {
	return &tier{
		name:   name,
		config: config,
		seen:   make(map[string]string),
	}
}

// add appends a message, skipping duplicates (same role + content).
// Returns false when the message was a duplicate.
func (t *tier) add(msg *Message) bool {
	key := msg.dedupeKey()
	if _, dup := t.seen[key]; dup {
		return false
	}
	t.seen[key] = msg.ID
	t.messages = append(t.messages, msg)
	return true
}

func (t *tier) remove(id string) bool {
	for i, msg := range t.messages {
		if msg.ID == id {
			delete(t.seen, msg.dedupeKey())
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return true
		}
	}
	return false
}

func (t *tier) tokens() int {
	total := 0
	for _, msg := range t.messages {
		total += msg.Tokens
	}
	return total
}

func (t *tier) clear() {
	t.messages = nil
	t.seen = make(map[string]string)
}
