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

// Package config loads the full runtime configuration from YAML with
// environment expansion and per-package defaults.
package config

import (
	"fmt"
	"time"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/agent"
	"github.com/inletlabs/toad/pkg/llms"
	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/monitor"
	"github.com/inletlabs/toad/pkg/ratelimit"
	"github.com/inletlabs/toad/pkg/resources"
	"github.com/inletlabs/toad/pkg/tools"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		// Streaming responses stay open for the whole run.
		c.WriteTimeout = 10 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LLMConfig configures providers and model tiers.
type LLMConfig struct {
	// Default names the provider used when no tier binding matches:
	// "anthropic" or "openai".
	Default   string                      `yaml:"default"`
	Anthropic llms.AnthropicConfig        `yaml:"anthropic"`
	OpenAI    llms.OpenAIConfig           `yaml:"openai"`
	Tiers     map[string]llms.TierBinding `yaml:"tiers"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Default == "" {
		c.Default = "anthropic"
	}
	c.Anthropic.SetDefaults()
	c.OpenAI.SetDefaults()
}

// CheckpointConfig configures session persistence.
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	// Interval is the iteration interval between checkpoints.
	Interval int `yaml:"interval"`
}

func (c *CheckpointConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = ".toad/sessions"
	}
	if c.Interval <= 0 {
		c.Interval = 2
	}
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "compact"
	}
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	ServiceName    string `yaml:"service_name"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "toad"
	}
}

// Config is the aggregate runtime configuration.
type Config struct {
	Server        ServerConfig           `yaml:"server"`
	Agent         agent.Config           `yaml:"agent"`
	Memory        memory.ManagerConfig   `yaml:"memory"`
	Lifecycle     memory.LifecycleConfig `yaml:"lifecycle"`
	Resolver      resources.Config       `yaml:"resolver"`
	Breaker       adapter.BreakerConfig  `yaml:"breaker"`
	Dispatcher    tools.DispatcherConfig `yaml:"dispatcher"`
	Monitor       monitor.Config         `yaml:"monitor"`
	LLM           LLMConfig              `yaml:"llm"`
	Checkpoint    CheckpointConfig       `yaml:"checkpoint"`
	RateLimit     ratelimit.Config       `yaml:"rate_limit"`
	Logging       LoggingConfig          `yaml:"logging"`
	Observability ObservabilityConfig    `yaml:"observability"`
}

func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Agent.SetDefaults()
	c.Memory.SetDefaults()
	c.Lifecycle.SetDefaults()
	c.Resolver.SetDefaults()
	c.Breaker.SetDefaults()
	c.Dispatcher.SetDefaults()
	c.Monitor.SetDefaults()
	c.LLM.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.RateLimit.SetDefaults()
	c.Logging.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate rejects combinations the runtime cannot honour.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.LLM.Default {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.default must be anthropic or openai, got %q", c.LLM.Default)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}
	if c.Memory.MaxTokens < c.Memory.ResponseReserve+c.Memory.ToolReserve {
		return fmt.Errorf("memory.max_tokens %d is smaller than its reserves", c.Memory.MaxTokens)
	}
	return nil
}
