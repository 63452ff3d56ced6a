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

// Package protocol defines the shared wire types exchanged between the loop
// orchestrator, the tool dispatcher, the action adapter and the LLM provider.
package protocol

import (
	"fmt"
	"time"
)

// ToolCall is a tool invocation proposed by the LLM.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Result is the uniform outcome record at component boundaries.
type Result struct {
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    *AgentError            `json:"error,omitempty"`
	Metadata ResultMetadata         `json:"metadata"`
}

// ResultMetadata carries execution bookkeeping attached to every result.
type ResultMetadata struct {
	DurationMs int64  `json:"duration_ms"`
	Tool       string `json:"tool,omitempty"`
	CallID     string `json:"call_id,omitempty"`
}

// OK builds a successful result.
func OK(data map[string]interface{}) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed result from an error code and message.
func Fail(code, message string) Result {
	return Result{Success: false, Error: NewAgentError(code, message)}
}

// FailErr wraps an existing error into a failed result.
func FailErr(code string, err error) Result {
	return Result{Success: false, Error: NewAgentError(code, err.Error())}
}

// Clarification is the payload returned by the clarify tool. Its presence in
// a tool result terminates the current turn.
type Clarification struct {
	ClarificationID string   `json:"clarification_id"`
	Questions       []string `json:"questions"`
	Options         []string `json:"options,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Type            string   `json:"type,omitempty"`
}

// ClarificationFrom extracts a clarification payload from a result, if any.
func ClarificationFrom(res Result) (*Clarification, bool) {
	if res.Data == nil {
		return nil, false
	}
	id, ok := res.Data["clarification_id"].(string)
	if !ok || id == "" {
		return nil, false
	}
	c := &Clarification{ClarificationID: id}
	if qs, ok := res.Data["questions"].([]string); ok {
		c.Questions = qs
	} else if raw, ok := res.Data["questions"].([]interface{}); ok {
		for _, q := range raw {
			if s, ok := q.(string); ok {
				c.Questions = append(c.Questions, s)
			}
		}
	}
	if reason, ok := res.Data["reason"].(string); ok {
		c.Reason = reason
	}
	if typ, ok := res.Data["type"].(string); ok {
		c.Type = typ
	}
	return c, true
}

// PlanTask is one entry of the agent's working plan. Steps reference each
// other by id only; readiness is computed, never stored as pointers.
type PlanTask struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"` // pending | in_progress | completed | canceled
	DependsOn []string  `json:"depends_on,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NextTasks returns the pending tasks whose dependencies are all completed.
func NextTasks(tasks []PlanTask) []PlanTask {
	done := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Status == "completed" || t.Status == "canceled" {
			done[t.ID] = true
		}
	}
	var ready []PlanTask
	for _, t := range tasks {
		if t.Status != "pending" {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

// FormatPlan renders the plan as a compact status block for context injection.
func FormatPlan(tasks []PlanTask) string {
	if len(tasks) == 0 {
		return ""
	}
	out := "<current_tasks>\n"
	for _, t := range tasks {
		marker := " "
		switch t.Status {
		case "completed":
			marker = "x"
		case "in_progress":
			marker = ">"
		case "canceled":
			marker = "-"
		}
		out += fmt.Sprintf("[%s] %s: %s\n", marker, t.ID, t.Title)
	}
	return out + "</current_tasks>"
}
