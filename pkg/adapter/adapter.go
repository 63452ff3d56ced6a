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

// Package adapter defines the uniform capability fronting any domain
// backend: connect, execute actions, project state, and enumerate available
// actions. A circuit breaker guards every backend call.
package adapter

import (
	"context"
	"time"

	"github.com/inletlabs/toad/pkg/protocol"
)

// ConnectionState tracks the adapter's link to its backend.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// StateSnapshot is a point-in-time projection of external state.
type StateSnapshot struct {
	ID           string                 `json:"id,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Summary      string                 `json:"summary"`
	Data         map[string]interface{} `json:"data,omitempty"`
	ElementCount int                    `json:"element_count"`
	ElementIDs   []string               `json:"element_ids,omitempty"`
	TokensUsed   int                    `json:"tokens_used,omitempty"`
}

// HasID reports whether the snapshot knows the given identifier.
func (s *StateSnapshot) HasID(id string) bool {
	if s == nil {
		return false
	}
	for _, known := range s.ElementIDs {
		if known == id {
			return true
		}
	}
	return false
}

// Awareness is a compact, token-budgeted semantic projection of external
// state consumed by the LLM.
type Awareness struct {
	Summary          string   `json:"summary"`
	Skeleton         string   `json:"skeleton,omitempty"`
	Relevant         []string `json:"relevant,omitempty"`
	TokensUsed       int      `json:"tokens_used"`
	CompressionRatio float64  `json:"compression_ratio,omitempty"`
}

// ActionDefinition describes one action the backend accepts.
type ActionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	Category    string                 `json:"category,omitempty"`
	Mutating    bool                   `json:"mutating"`
}

// ExecuteOptions tune one action execution.
type ExecuteOptions struct {
	Timeout time.Duration
}

// StateOptions tune state snapshot requests.
type StateOptions struct {
	Format string
	Depth  int
}

// AwarenessOptions tune awareness projection.
type AwarenessOptions struct {
	IncludeSkeleton bool
	IncludeRelevant bool
	MaxTokens       int
	ContextHint     string
}

// ActionAdapter is the uniform surface fronting a domain backend. Adapters
// must be safe for concurrent Execute calls.
type ActionAdapter interface {
	Connect(ctx context.Context) (bool, error)
	Disconnect(ctx context.Context) error
	IsConnected() bool
	ConnectionState() ConnectionState

	Execute(ctx context.Context, action string, params map[string]interface{}, opts *ExecuteOptions) protocol.Result
	GetState(ctx context.Context, opts *StateOptions) (*StateSnapshot, error)
	GetAwareness(ctx context.Context, opts *AwarenessOptions) (*Awareness, error)

	GetAvailableActions() []ActionDefinition
	SupportsAction(name string) bool
	GetActionSchema(name string) (*ActionDefinition, bool)
}

// IsMutating reports whether the named action mutates backend state,
// consulting the adapter's own schema. Unknown actions are treated as
// mutating so staleness tracking errs toward refresh.
func IsMutating(a ActionAdapter, action string) bool {
	if def, ok := a.GetActionSchema(action); ok {
		return def.Mutating
	}
	return true
}
