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

package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/inletlabs/toad/pkg/protocol"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default 5.
	FailureThreshold int `yaml:"failure_threshold"`
	// OpenDuration is how long the circuit stays open before allowing a
	// half-open probe. Default 30s.
	OpenDuration time.Duration `yaml:"open_duration"`
}

func (c *BreakerConfig) SetDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 30 * time.Second
	}
}

// Breaker is a thread-safe circuit breaker shared by all callers of one
// adapter. closed → open after consecutive failures; open → half-open after
// the open duration; one probe then closes or reopens.
type Breaker struct {
	name   string
	config BreakerConfig
	log    *slog.Logger

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	probing      bool
	openedAt     time.Time
}

func NewBreaker(name string, config BreakerConfig) *Breaker {
	config.SetDefaults()
	return &Breaker{
		name:   name,
		config: config,
		log:    slog.Default().With("component", "breaker", "adapter", name),
		state:  BreakerClosed,
	}
}

// Allow reports whether a call may proceed. While open it returns the
// CIRCUIT_OPEN error without touching the backend.
func (b *Breaker) Allow() *protocol.AgentError {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.config.OpenDuration {
			b.state = BreakerHalfOpen
			b.probing = true
			b.log.Info("circuit half-open, probing")
			return nil
		}
		return protocol.NewAgentError(protocol.ErrCircuitOpen, "backend unavailable: circuit open")
	case BreakerHalfOpen:
		if b.probing {
			// One probe at a time; concurrent callers fail fast.
			return protocol.NewAgentError(protocol.ErrCircuitOpen, "backend unavailable: probe in flight")
		}
		b.probing = true
		return nil
	}
	return nil
}

// Mark records the outcome of an allowed call.
func (b *Breaker) Mark(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		if b.state != BreakerClosed {
			b.log.Info("circuit closed after successful probe")
		}
		b.state = BreakerClosed
		b.failureCount = 0
		b.probing = false
		return
	}

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.probing = false
		b.log.Warn("circuit reopened after failed probe")
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = time.Now()
			b.log.Warn("circuit opened", "failures", b.failureCount)
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// guarded wraps an adapter so every backend call passes through a shared
// circuit breaker.
type guarded struct {
	ActionAdapter
	breaker *Breaker
}

// WithBreaker wraps an adapter with circuit breaking on Execute, GetState
// and GetAwareness.
func WithBreaker(a ActionAdapter, config BreakerConfig) ActionAdapter {
	return &guarded{
		ActionAdapter: a,
		breaker:       NewBreaker("adapter", config),
	}
}

// Breaker returns the wrapped adapter's breaker, for observability.
func (g *guarded) Breaker() *Breaker { return g.breaker }

func (g *guarded) Execute(ctx context.Context, action string, params map[string]interface{}, opts *ExecuteOptions) protocol.Result {
	if err := g.breaker.Allow(); err != nil {
		return protocol.Result{Success: false, Error: err}
	}
	res := g.ActionAdapter.Execute(ctx, action, params, opts)
	g.breaker.Mark(res.Success)
	return res
}

func (g *guarded) GetState(ctx context.Context, opts *StateOptions) (*StateSnapshot, error) {
	if berr := g.breaker.Allow(); berr != nil {
		return nil, berr
	}
	snap, err := g.ActionAdapter.GetState(ctx, opts)
	g.breaker.Mark(err == nil)
	return snap, err
}

func (g *guarded) GetAwareness(ctx context.Context, opts *AwarenessOptions) (*Awareness, error) {
	if berr := g.breaker.Allow(); berr != nil {
		return nil, berr
	}
	aw, err := g.ActionAdapter.GetAwareness(ctx, opts)
	g.breaker.Mark(err == nil)
	return aw, err
}
