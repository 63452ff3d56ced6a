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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Address())
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 128_000, cfg.Memory.MaxTokens)
	assert.Equal(t, "anthropic", cfg.LLM.Default)
	assert.Equal(t, ".toad/sessions", cfg.Checkpoint.Dir)
	assert.Equal(t, "compact", cfg.Logging.Format)
}

func TestLoadBytesOverridesAndDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
server:
  port: 9090
agent:
  max_iterations: 25
  temperature: 0.3
memory:
  max_tokens: 64000
dispatcher:
  tool_timeout: 45s
llm:
  default: openai
  tiers:
    fast:
      provider: openai
      model: gpt-4o-mini
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Agent.MaxIterations)
	assert.Equal(t, 64_000, cfg.Memory.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.Dispatcher.ToolTimeout)
	assert.Equal(t, "openai", cfg.LLM.Default)
	require.Contains(t, cfg.LLM.Tiers, "fast")
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Tiers["fast"].Model)

	// Unset sections still get defaults.
	assert.Equal(t, 3, cfg.Monitor.LoopThreshold)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoadBytesExpandsEnv(t *testing.T) {
	t.Setenv("TOAD_TEST_MODEL", "claude-opus-4-1")

	cfg, err := LoadBytes([]byte(`
llm:
  anthropic:
    default_model: ${TOAD_TEST_MODEL}
  openai:
    base_url: ${TOAD_TEST_MISSING:-http://localhost:11434/v1}
`))
	require.NoError(t, err)

	assert.Equal(t, "claude-opus-4-1", cfg.LLM.Anthropic.DefaultModel)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.OpenAI.BaseURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := LoadBytes([]byte("llm:\n  default: mystery\n"))
	assert.Error(t, err)

	_, err = LoadBytes([]byte("memory:\n  max_tokens: 100\n"))
	assert.Error(t, err, "max_tokens below reserves is rejected")
}
