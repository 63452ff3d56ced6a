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

package agent

import (
	"time"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/protocol"
)

const historyCap = 50

// HistoryEntry records one executed tool call.
type HistoryEntry struct {
	Tool   string          `json:"tool"`
	Result protocol.Result `json:"result"`
}

// ContextResources tracks the freshness of the external-state projection.
// A mutating tool bumps Version and marks awareness stale; a read-only tool
// only bumps Version.
type ContextResources struct {
	Awareness          *adapter.Awareness
	AwarenessFetchedAt time.Time
	AwarenessIsStale   bool
	Version            int
}

// AgentResources groups the per-run working set.
type AgentResources struct {
	Domain  string
	Task    string
	Context ContextResources
}

// LoopState is the orchestrator's exclusive mutable state for one run.
type LoopState struct {
	Iteration        int
	Errors           []*protocol.AgentError
	History          []HistoryEntry
	LastToolCalls    []protocol.ToolCall
	LastSnapshot     *adapter.StateSnapshot
	Resources        AgentResources
	StartTime        time.Time
	IsFirstIteration bool
}

func newLoopState(task string) *LoopState {
	return &LoopState{
		Resources:        AgentResources{Task: task},
		StartTime:        time.Now(),
		IsFirstIteration: true,
	}
}

// recordHistory appends an entry, dropping the oldest past the cap.
func (s *LoopState) recordHistory(entry HistoryEntry) {
	s.History = append(s.History, entry)
	if len(s.History) > historyCap {
		s.History = s.History[len(s.History)-historyCap:]
	}
}

// RecentHistoryLines renders the last n history entries as one-line
// summaries, for the user message and for checkpoints.
func (s *LoopState) RecentHistoryLines(n int) []string {
	start := len(s.History) - n
	if start < 0 {
		start = 0
	}
	var lines []string
	for _, entry := range s.History[start:] {
		status := "ok"
		if !entry.Result.Success {
			status = "failed"
			if entry.Result.Error != nil {
				status = "failed: " + entry.Result.Error.Message
			}
		}
		lines = append(lines, entry.Tool+" -> "+status)
	}
	return lines
}

// noteMutation applies the mutation effect rule.
func (s *LoopState) noteMutation(mutating bool) {
	s.Resources.Context.Version++
	if mutating {
		s.Resources.Context.AwarenessIsStale = true
	}
}
