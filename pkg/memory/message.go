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

// Package memory implements tiered, token-budgeted context memory for agent
// loops: message storage across priority tiers, budget allocation,
// compression strategies, and the tool-result aging lifecycle.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a context message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message priorities. Higher values survive budget pressure longer.
const (
	PriorityCritical  = 100
	PriorityHigh      = 75
	PriorityNormal    = 50
	PriorityLow       = 25
	PriorityEphemeral = 10
)

// BlockType discriminates content blocks inside a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a structured message body.
type ContentBlock struct {
	Type      BlockType              `json:"type"`
	Text      string                 `json:"text,omitempty"`
	MediaType string                 `json:"media_type,omitempty"`
	Data      string                 `json:"data,omitempty"`
	ToolName  string                 `json:"tool_name,omitempty"`
	CallID    string                 `json:"call_id,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

// Message is one entry of tiered context memory. Identity is the explicit ID
// assigned at insertion; deduplication within a tier uses role + content.
type Message struct {
	ID           string            `json:"id"`
	Role         Role              `json:"role"`
	Content      string            `json:"content"`
	Blocks       []ContentBlock    `json:"blocks,omitempty"`
	Tokens       int               `json:"tokens"`
	Priority     int               `json:"priority"`
	Timestamp    time.Time         `json:"timestamp"`
	Compressible bool              `json:"compressible"`
	ToolName     string            `json:"tool_name,omitempty"`
	CallID       string            `json:"call_id,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// NewMessage builds a message with a fresh id and timestamp. Token counts
// are filled in by the manager on insertion.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:           uuid.NewString(),
		Role:         role,
		Content:      content,
		Priority:     PriorityNormal,
		Timestamp:    time.Now(),
		Compressible: true,
	}
}

// Text returns the textual body of the message, flattening blocks when the
// plain content is empty.
func (m *Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var out string
	for _, b := range m.Blocks {
		if b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// SetContent replaces the message body and invalidates the cached token
// count so the manager recomputes it.
func (m *Message) SetContent(content string) {
	m.Content = content
	m.Tokens = 0
}

// dedupeKey identifies a message within a tier for deduplication.
func (m *Message) dedupeKey() string {
	return string(m.Role) + "\x00" + m.Text()
}
