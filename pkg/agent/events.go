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

import "time"

// EventType names one entry in the loop's event stream.
type EventType string

const (
	EventSystem             EventType = "system"
	EventThinking           EventType = "thinking"
	EventContext            EventType = "context"
	EventReasoning          EventType = "reasoning"
	EventPlan               EventType = "plan"
	EventStepStart          EventType = "step_start"
	EventStepComplete       EventType = "step_complete"
	EventActing             EventType = "acting"
	EventObserving          EventType = "observing"
	EventBlocked            EventType = "blocked"
	EventToolCall           EventType = "tool_call"
	EventToolResult         EventType = "tool_result"
	EventTaskUpdate         EventType = "task_update"
	EventContextInjected    EventType = "context_injected"
	EventCorrection         EventType = "correction"
	EventClarification      EventType = "clarification_needed"
	EventAliasResolving     EventType = "alias_resolving"
	EventAliasResolved      EventType = "alias_resolved"
	EventCheckpoint         EventType = "checkpoint"
	EventDelegating         EventType = "delegating"
	EventDelegationComplete EventType = "delegation_complete"
	EventRecovery           EventType = "recovery"
	EventWarning            EventType = "warning"
	EventError              EventType = "error"
	EventComplete           EventType = "complete"
	EventFailed             EventType = "failed"
	EventTimeout            EventType = "timeout"
	EventCancelled          EventType = "cancelled"
	EventInterrupted        EventType = "interrupted"
)

// Event is one entry in a run's stream. Exactly one terminal event ends the
// stream.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Iteration int                    `json:"iteration,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventComplete, EventFailed, EventTimeout, EventCancelled, EventInterrupted:
		return true
	}
	return false
}

func newEvent(t EventType, iteration int, data map[string]interface{}) Event {
	return Event{Type: t, Timestamp: time.Now(), Iteration: iteration, Data: data}
}
