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

package llms

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/protocol"
)

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

func (c *AnthropicConfig) SetDefaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4-20250514"
	}
}

// AnthropicProvider generates through the Anthropic Messages API.
type AnthropicProvider struct {
	config AnthropicConfig
	client anthropic.Client
}

func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	config.SetDefaults()
	if config.APIKey == "" {
		return nil, protocol.NewAgentError(protocol.ErrAgentAPIKeyMissing,
			"ANTHROPIC_API_KEY is not set")
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &AnthropicProvider{
		config: config,
		client: anthropic.NewClient(options...),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.config.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  convertAnthropicMessages(req.History, req.User),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, tool := range req.Tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			InputSchema: convertAnthropicSchema(tool.InputSchema),
		}
		if tool.Description != "" {
			toolParam.Description = anthropic.String(tool.Description)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic generation: %w", err)
	}

	resp := &Response{
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += v.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, protocol.ToolCall{
				ID:   v.ID,
				Name: v.Name,
				Args: parseToolArgs(string(v.Input)),
			})
		}
	}

	resp.FinishReason = mapAnthropicFinish(msg.StopReason)
	return resp, nil
}

// mapAnthropicFinish normalises Anthropic stop reasons onto the shared
// finish-reason vocabulary.
func mapAnthropicFinish(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonToolUse:
		return FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		return FinishLength
	case "refusal":
		return FinishContentFilter
	default:
		return FinishStop
	}
}

func convertAnthropicMessages(history []memory.APIMessage, user string) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range history {
		switch msg.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case "tool":
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.CallID, msg.Content, false)))
		case "system":
			// System text travels in params.System; fold stray entries into
			// the user stream to preserve ordering.
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if user != "" {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(user)))
	}
	return out
}

func convertAnthropicSchema(schema map[string]interface{}) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{}
	if schema == nil {
		return out
	}
	if props, ok := schema["properties"]; ok {
		out.Properties = props
	}
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}
