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

// Package checkpoint persists session state as a single JSON document per
// session and assesses whether a persisted session can safely resume.
package checkpoint

import (
	"time"

	"github.com/inletlabs/toad/pkg/agent"
	"github.com/inletlabs/toad/pkg/memory"
)

// SavedMessage is one context message together with the tier it lived in.
type SavedMessage struct {
	Tier    memory.TierName `json:"tier"`
	Message *memory.Message `json:"message"`
}

// BudgetState captures the token budget at save time.
type BudgetState struct {
	MaxTokens int `json:"maxTokens"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// ResourceState captures the freshness tracking of the external-state
// projection.
type ResourceState struct {
	Domain             string    `json:"domain,omitempty"`
	Task               string    `json:"task"`
	ContextVersion     int       `json:"contextVersion"`
	AwarenessIsStale   bool      `json:"awarenessIsStale"`
	AwarenessFetchedAt time.Time `json:"awarenessFetchedAt,omitempty"`
}

// TaskState captures loop progress.
type TaskState struct {
	Iteration  int      `json:"iteration"`
	ErrorCount int      `json:"errorCount"`
	History    []string `json:"history,omitempty"`
}

// SnapshotMeta is the last known backend snapshot, kept so resumption can
// detect contradictions against live state.
type SnapshotMeta struct {
	ElementCount int       `json:"elementCount"`
	ElementIDs   []string  `json:"elementIds,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Metadata holds everything about the session that is not conversation.
type Metadata struct {
	LastStateSnapshot *SnapshotMeta `json:"lastStateSnapshot,omitempty"`
}

// Document is the complete persisted form of one session.
type Document struct {
	SessionID string         `json:"sessionId"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Messages  []SavedMessage `json:"messages"`
	Budget    BudgetState    `json:"budget"`
	Resources ResourceState  `json:"resources"`
	TaskState TaskState      `json:"taskState"`
	Metadata  Metadata       `json:"metadata"`
}

// historyTail bounds how much tool history a document carries.
const historyTail = 10

// Capture builds a document from live memory and loop state. Ephemeral
// messages are per-iteration injections and are not persisted.
func Capture(sessionID string, mgr *memory.Manager, state *agent.LoopState) *Document {
	doc := &Document{
		SessionID: sessionID,
		UpdatedAt: time.Now(),
	}

	for _, tier := range memory.TierOrder {
		if tier == memory.TierEphemeral {
			continue
		}
		for _, msg := range mgr.TierMessages(tier) {
			doc.Messages = append(doc.Messages, SavedMessage{Tier: tier, Message: msg})
		}
	}

	budget := mgr.Budget()
	doc.Budget = BudgetState{
		MaxTokens: budget.MaxTokens(),
		Used:      budget.Used(),
		Remaining: budget.Remaining(),
	}

	if state != nil {
		doc.Resources = ResourceState{
			Domain:             state.Resources.Domain,
			Task:               state.Resources.Task,
			ContextVersion:     state.Resources.Context.Version,
			AwarenessIsStale:   state.Resources.Context.AwarenessIsStale,
			AwarenessFetchedAt: state.Resources.Context.AwarenessFetchedAt,
		}
		doc.TaskState = TaskState{
			Iteration:  state.Iteration,
			ErrorCount: len(state.Errors),
		}
		lines := state.RecentHistoryLines(historyTail)
		doc.TaskState.History = lines

		if snap := state.LastSnapshot; snap != nil {
			doc.Metadata.LastStateSnapshot = &SnapshotMeta{
				ElementCount: snap.ElementCount,
				ElementIDs:   snap.ElementIDs,
				Timestamp:    snap.Timestamp,
			}
		}
	}
	return doc
}

// Restore repopulates a context manager from a document. Existing messages
// are dropped first.
func Restore(doc *Document, mgr *memory.Manager) {
	mgr.Clear()
	for _, saved := range doc.Messages {
		if saved.Message == nil {
			continue
		}
		mgr.AddMessage(saved.Message, saved.Tier)
	}
}
