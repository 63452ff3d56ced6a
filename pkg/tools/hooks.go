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

package tools

import (
	"context"
	"log/slog"
	"sync"

	"github.com/inletlabs/toad/pkg/protocol"
)

// HookEvent names an interception point in the tool lifecycle.
type HookEvent string

const (
	SessionStart       HookEvent = "SessionStart"
	PreToolUse         HookEvent = "PreToolUse"
	PostToolUse        HookEvent = "PostToolUse"
	PostToolUseFailure HookEvent = "PostToolUseFailure"
	SessionEnd         HookEvent = "SessionEnd"
)

// HookInput carries call context into a handler. Result is set for the
// post-execution events only.
type HookInput struct {
	Event     HookEvent
	Tool      string
	Args      map[string]interface{}
	Result    *protocol.Result
	SessionID string
}

// HookOutput is a handler's verdict. Proceed defaults to true; only an
// explicit false blocks the call.
type HookOutput struct {
	Proceed bool
	Reason  string
}

// Allow is the pass-through verdict.
func Allow() HookOutput { return HookOutput{Proceed: true} }

// Block stops the call with a reason.
func Block(reason string) HookOutput { return HookOutput{Proceed: false, Reason: reason} }

// HookHandler inspects a call and may veto it.
type HookHandler func(ctx context.Context, input HookInput) (HookOutput, error)

// HookEngine runs ordered handlers per event. Handler errors are logged and
// skipped; only an explicit proceed=false blocks.
type HookEngine struct {
	mu       sync.RWMutex
	handlers map[HookEvent][]HookHandler
	log      *slog.Logger
}

func NewHookEngine() *HookEngine {
	return &HookEngine{
		handlers: make(map[HookEvent][]HookHandler),
		log:      slog.Default().With("component", "hooks"),
	}
}

// On registers a handler; handlers run in registration order.
func (h *HookEngine) On(event HookEvent, handler HookHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], handler)
}

// Run fires every handler for the event. The first explicit block wins and
// short-circuits the remaining handlers.
func (h *HookEngine) Run(ctx context.Context, input HookInput) HookOutput {
	h.mu.RLock()
	handlers := h.handlers[input.Event]
	h.mu.RUnlock()

	for _, handler := range handlers {
		out, err := handler(ctx, input)
		if err != nil {
			h.log.Warn("hook handler failed", "event", input.Event, "tool", input.Tool, "error", err)
			continue
		}
		if !out.Proceed {
			return out
		}
	}
	return Allow()
}
