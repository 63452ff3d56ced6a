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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/protocol"
)

// WorkRegion scopes a sub-agent's mutations. Nil bounds means the whole
// backend is in scope.
type WorkRegion struct {
	Scope  string          `json:"scope"`
	Bounds *adapter.Region `json:"bounds,omitempty"`
}

// Limits bound a sub-agent's execution.
type Limits struct {
	MaxIterations int `json:"max_iterations"`
	MaxTokens     int `json:"max_tokens"`
	TimeoutMs     int `json:"timeout_ms"`
}

func (l *Limits) SetDefaults() {
	if l.MaxIterations <= 0 {
		l.MaxIterations = 5
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 32_000
	}
	if l.TimeoutMs <= 0 {
		l.TimeoutMs = int(2 * time.Minute / time.Millisecond)
	}
}

// Contract is the full input record for one sub-agent run.
type Contract struct {
	ContractID     string                 `json:"contract_id"`
	AgentType      string                 `json:"agent_type"`
	Task           string                 `json:"task"`
	WorkRegion     WorkRegion             `json:"work_region"`
	Inputs         map[string]interface{} `json:"inputs,omitempty"`
	ExpectedOutput string                 `json:"expected_output,omitempty"`
	Limits         Limits                 `json:"limits"`
}

// NewContract builds a contract with defaults applied.
func NewContract(agentType, task string) Contract {
	c := Contract{
		ContractID: "ct-" + uuid.NewString()[:8],
		AgentType:  agentType,
		Task:       task,
	}
	c.Limits.SetDefaults()
	return c
}

// Outcome is the only thing a parent ever sees of a sub-agent run.
type Outcome struct {
	ContractID  string               `json:"contract_id"`
	Success     bool                 `json:"success"`
	Summary     string               `json:"summary"`
	ProducedIDs []string             `json:"produced_ids,omitempty"`
	TokensUsed  int                  `json:"tokens_used"`
	DurationMs  int64                `json:"duration_ms"`
	Error       *protocol.AgentError `json:"error,omitempty"`
}

// overlaps reports whether two bounded regions intersect. Unbounded regions
// overlap everything.
func overlaps(a, b *adapter.Region) bool {
	if a == nil || b == nil {
		return true
	}
	return a.X < b.X+b.Width && b.X < a.X+a.Width &&
		a.Y < b.Y+b.Height && b.Y < a.Y+a.Height
}

// validateDisjoint rejects parallel contracts with overlapping bounds.
func validateDisjoint(contracts []Contract) error {
	for i := 0; i < len(contracts); i++ {
		for j := i + 1; j < len(contracts); j++ {
			if overlaps(contracts[i].WorkRegion.Bounds, contracts[j].WorkRegion.Bounds) {
				return fmt.Errorf("contracts %s and %s have overlapping work regions",
					contracts[i].ContractID, contracts[j].ContractID)
			}
		}
	}
	return nil
}
