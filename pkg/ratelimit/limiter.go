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

// Package ratelimit bounds request and token throughput per client over
// fixed windows. The server uses it to shield providers from runaway loops.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config tunes the limiter. Zero limits disable the corresponding check.
type Config struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int64         `yaml:"requests_per_window"`
	TokensPerWindow   int64         `yaml:"tokens_per_window"`
	Window            time.Duration `yaml:"window"`
}

func (c *Config) SetDefaults() {
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = 60
	}
	if c.TokensPerWindow <= 0 {
		c.TokensPerWindow = 500_000
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	Requests   int64
	Tokens     int64
}

type window struct {
	start    time.Time
	requests int64
	tokens   int64
}

// Limiter tracks fixed windows per identifier. Safe for concurrent use.
type Limiter struct {
	config Config

	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewLimiter(config Config) *Limiter {
	config.SetDefaults()
	return &Limiter{
		config:  config,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow admits one request for the identifier, counting it on success.
func (l *Limiter) Allow(identifier string) Decision {
	if !l.config.Enabled {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.currentWindow(identifier)
	if w.requests >= l.config.RequestsPerWindow {
		return l.deny(w, fmt.Sprintf("request limit %d reached", l.config.RequestsPerWindow))
	}
	if w.tokens >= l.config.TokensPerWindow {
		return l.deny(w, fmt.Sprintf("token limit %d reached", l.config.TokensPerWindow))
	}

	w.requests++
	return Decision{Allowed: true, Requests: w.requests, Tokens: w.tokens}
}

// RecordTokens charges consumed tokens against the identifier's window.
func (l *Limiter) RecordTokens(identifier string, tokens int64) {
	if !l.config.Enabled || tokens <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentWindow(identifier).tokens += tokens
}

// Reset drops all usage for the identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, identifier)
}

func (l *Limiter) currentWindow(identifier string) *window {
	now := l.now()
	w, ok := l.windows[identifier]
	if !ok || now.Sub(w.start) >= l.config.Window {
		w = &window{start: now}
		l.windows[identifier] = w
	}
	return w
}

func (l *Limiter) deny(w *window, reason string) Decision {
	retry := l.config.Window - l.now().Sub(w.start)
	if retry < 0 {
		retry = 0
	}
	return Decision{
		Allowed:    false,
		Reason:     reason,
		RetryAfter: retry,
		Requests:   w.requests,
		Tokens:     w.tokens,
	}
}
