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

// Package llms defines the uniform LLM capability the loop consumes and its
// concrete backends. Provider-specific quirks (wire formats, tool-call
// encodings, malformed argument repair) stay behind the Provider interface.
package llms

import (
	"context"
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"

	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/protocol"
)

// Finish reasons normalised across providers.
const (
	FinishStop          = "stop"
	FinishToolCalls     = "tool_calls"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
	FinishError         = "error"
)

// ToolSpec describes one callable tool for the provider.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request is one generation turn.
type Request struct {
	Model       string
	System      string
	User        string
	History     []memory.APIMessage
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for one turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the provider's normalised answer.
type Response struct {
	Text         string              `json:"text"`
	ToolCalls    []protocol.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string              `json:"finish_reason"`
	Usage        Usage               `json:"usage"`
}

// Provider is the uniform generation capability.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// parseToolArgs decodes tool-call arguments, repairing malformed JSON the
// model sometimes emits before giving up.
func parseToolArgs(raw string) map[string]interface{} {
	if raw == "" {
		return map[string]interface{}{}
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return map[string]interface{}{}
		}
		if err := json.Unmarshal([]byte(repaired), &args); err != nil {
			return map[string]interface{}{}
		}
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args
}
