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

	openai "github.com/sashabaranov/go-openai"

	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/protocol"
)

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

func (c *OpenAIConfig) SetDefaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o"
	}
}

// OpenAIProvider generates through the OpenAI chat completions API. A custom
// BaseURL also serves OpenAI-compatible gateways.
type OpenAIProvider struct {
	config OpenAIConfig
	client *openai.Client
}

func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	config.SetDefaults()
	if config.APIKey == "" {
		return nil, protocol.NewAgentError(protocol.ErrAgentAPIKeyMissing,
			"OPENAI_API_KEY is not set")
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAIProvider{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.config.DefaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.System, req.History, req.User),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai generation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai generation: empty choice list")
	}

	choice := resp.Choices[0]
	out := &Response{
		Text: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: parseToolArgs(call.Function.Arguments),
		})
	}

	out.FinishReason = mapOpenAIFinish(choice.FinishReason)
	return out, nil
}

// mapOpenAIFinish normalises OpenAI finish reasons onto the shared
// finish-reason vocabulary.
func mapOpenAIFinish(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return FinishToolCalls
	case openai.FinishReasonLength:
		return FinishLength
	case openai.FinishReasonContentFilter:
		return FinishContentFilter
	case "error":
		return FinishError
	default:
		return FinishStop
	}
}

func convertOpenAIMessages(system string, history []memory.APIMessage, user string) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: system,
		})
	}
	for _, msg := range history {
		role := msg.Role
		switch role {
		case "tool":
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.CallID,
			})
			continue
		case "system":
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	if user != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser, Content: user,
		})
	}
	return out
}
