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
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletlabs/toad/pkg/protocol"
)

func TestRegistryDefaultIsFirstRegistered(t *testing.T) {
	r := NewRegistry()
	first := NewMockProvider(&Response{Text: "a", FinishReason: FinishStop})
	r.Register(first)

	p, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	assert.Error(t, err)

	assert.Error(t, r.SetDefault("nope"))
	assert.Error(t, r.BindTier(TierFast, TierBinding{Provider: "nope"}))
}

func TestRegistryTierBinding(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMockProvider(&Response{Text: "ok", FinishReason: FinishStop}))
	require.NoError(t, r.BindTier(TierPowerful, TierBinding{Provider: "mock", Model: "big-model"}))

	p, model, err := r.ForTier(TierPowerful)
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
	assert.Equal(t, "big-model", model)

	// Unbound tier falls back to the default with no model override.
	p, model, err = r.ForTier(TierFast)
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Empty(t, model)
}

func TestMockProviderScriptAndErrors(t *testing.T) {
	mock := NewMockProvider(
		&Response{Text: "first", FinishReason: FinishStop},
		&Response{Text: "second", FinishReason: FinishStop},
	).FailWith(1, protocol.NewAgentError(protocol.ErrAgentGeneration, "transient"))

	resp, err := mock.Generate(context.Background(), &Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text)

	_, err = mock.Generate(context.Background(), &Request{User: "hi"})
	require.Error(t, err)

	// Script repeats its last entry once exhausted.
	for i := 0; i < 3; i++ {
		resp, err = mock.Generate(context.Background(), &Request{User: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "second", resp.Text)
	}
	assert.Equal(t, 5, mock.Turns())
}

func TestParseToolArgsRepairsMalformedJSON(t *testing.T) {
	args := parseToolArgs(`{"x": 1, "label": "box"}`)
	assert.Equal(t, float64(1), args["x"])

	// Trailing comma and single quotes are typical model damage.
	args = parseToolArgs(`{'x': 2, 'label': 'box',}`)
	assert.Equal(t, float64(2), args["x"])
	assert.Equal(t, "box", args["label"])

	assert.Empty(t, parseToolArgs(""))
	assert.NotNil(t, parseToolArgs("not even close to json and unrepairable {{{"))
}

func TestFinishReasonNormalisation(t *testing.T) {
	assert.Equal(t, FinishToolCalls, mapOpenAIFinish(openai.FinishReasonToolCalls))
	assert.Equal(t, FinishToolCalls, mapOpenAIFinish(openai.FinishReasonFunctionCall))
	assert.Equal(t, FinishLength, mapOpenAIFinish(openai.FinishReasonLength))
	assert.Equal(t, FinishContentFilter, mapOpenAIFinish(openai.FinishReasonContentFilter))
	assert.Equal(t, FinishError, mapOpenAIFinish("error"))
	assert.Equal(t, FinishStop, mapOpenAIFinish(openai.FinishReasonStop))

	assert.Equal(t, FinishToolCalls, mapAnthropicFinish(anthropic.StopReasonToolUse))
	assert.Equal(t, FinishLength, mapAnthropicFinish(anthropic.StopReasonMaxTokens))
	assert.Equal(t, FinishContentFilter, mapAnthropicFinish("refusal"))
	assert.Equal(t, FinishStop, mapAnthropicFinish(anthropic.StopReasonEndTurn))
}

func TestMissingAPIKeyIsFatalCode(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicProvider(AnthropicConfig{})
	require.Error(t, err)
	var agentErr *protocol.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, protocol.ErrAgentAPIKeyMissing, agentErr.Code)
	assert.False(t, agentErr.Recoverable)

	t.Setenv("OPENAI_API_KEY", "")
	_, err = NewOpenAIProvider(OpenAIConfig{})
	require.Error(t, err)
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, protocol.ErrAgentAPIKeyMissing, agentErr.Code)
}
