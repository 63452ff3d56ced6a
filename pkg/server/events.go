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

package server

import (
	"github.com/google/uuid"

	"github.com/inletlabs/toad/pkg/agent"
	"github.com/inletlabs/toad/pkg/protocol"
)

// Frame is one SSE payload in the AI-SDK custom-data schema. Progress events
// become {type: "data-<eventType>", data}, assistant text becomes a
// text-start/text-delta/text-end triple, and failures become error frames.
type Frame struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id,omitempty"`
	Delta     string                 `json:"delta,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	ErrorText string                 `json:"errorText,omitempty"`
}

// frameEvent projects one loop event onto wire frames.
func frameEvent(event agent.Event) []Frame {
	switch event.Type {
	case agent.EventComplete:
		summary, _ := event.Data["summary"].(string)
		textID := "txt-" + uuid.NewString()[:8]
		frames := []Frame{{Type: "text-start", ID: textID}}
		if summary != "" {
			frames = append(frames, Frame{Type: "text-delta", ID: textID, Delta: summary})
		}
		frames = append(frames,
			Frame{Type: "text-end", ID: textID},
			dataFrame(event),
		)
		return frames

	case agent.EventFailed, agent.EventError:
		reason, _ := event.Data["reason"].(string)
		if reason == "" {
			reason, _ = event.Data["error"].(string)
		}
		if reason == "" {
			reason = "agent run failed"
		}
		return []Frame{{Type: "error", ErrorText: reason}}

	default:
		return []Frame{dataFrame(event)}
	}
}

func dataFrame(event agent.Event) Frame {
	data := make(map[string]interface{}, len(event.Data)+1)
	for k, v := range event.Data {
		data[k] = v
	}
	if event.Iteration > 0 {
		data["iteration"] = event.Iteration
	}
	return Frame{Type: "data-" + string(event.Type), Data: data}
}

// modeFrame is the leading event on /command streams.
func modeFrame(mode string) Frame {
	return Frame{Type: "data-mode", Data: map[string]interface{}{"mode": mode}}
}

// syncResult is the /chat-sync response body.
type syncResult struct {
	Success   bool   `json:"success"`
	Summary   string `json:"summary,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"`
}

func summarize(events []agent.Event, sessionID string) syncResult {
	out := syncResult{SessionID: sessionID}
	for _, event := range events {
		if !event.Terminal() {
			continue
		}
		out.Outcome = string(event.Type)
		switch event.Type {
		case agent.EventComplete:
			out.Success = true
			out.Summary, _ = event.Data["summary"].(string)
		default:
			if reason, ok := event.Data["reason"].(string); ok {
				out.Error = reason
			} else {
				out.Error = string(event.Type)
			}
		}
	}
	if out.Outcome == "" {
		out.Error = protocol.UserMessage(protocol.NewAgentError(
			protocol.ErrAgentExecution, "run produced no terminal event"))
	}
	return out
}
