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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inletlabs/toad/pkg/protocol"
	"github.com/inletlabs/toad/pkg/tokens"
)

// Element is one object managed by the in-memory backend.
type Element struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	X         float64                `json:"x"`
	Y         float64                `json:"y"`
	Width     float64                `json:"width"`
	Height    float64                `json:"height"`
	Props     map[string]interface{} `json:"props,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Region is an axis-aligned work region.
type Region struct {
	X, Y, Width, Height float64
}

func (r *Region) contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// inmemCore is the shared element store behind one adapter and all its
// scoped views. One lock serialises every view.
type inmemCore struct {
	mu       sync.RWMutex
	state    ConnectionState
	elements map[string]*Element
	order    []string
	est      *tokens.Estimator
}

// InMemAdapter is a complete reference ActionAdapter backed by an in-memory
// element store. It serves tests, the one-shot CLI demo, and default server
// wiring. Scoped views share the store and its lock.
type InMemAdapter struct {
	core *inmemCore

	// bounds restricts mutations to a region when set.
	bounds *Region
}

func NewInMemAdapter() *InMemAdapter {
	return &InMemAdapter{
		core: &inmemCore{
			state:    StateDisconnected,
			elements: make(map[string]*Element),
			est:      tokens.NewEstimator(),
		},
	}
}

// Scoped returns a view over the same element store restricted to the given
// region: mutations outside it are rejected and reads only report elements
// inside it.
func (a *InMemAdapter) Scoped(region Region) *InMemAdapter {
	return &InMemAdapter{core: a.core, bounds: &region}
}

// inScope reports whether an element is visible through this view.
func (a *InMemAdapter) inScope(el *Element) bool {
	return a.bounds == nil || a.bounds.contains(el.X, el.Y)
}

func (a *InMemAdapter) Connect(ctx context.Context) (bool, error) {
	a.core.mu.Lock()
	defer a.core.mu.Unlock()
	a.core.state = StateConnected
	return true, nil
}

func (a *InMemAdapter) Disconnect(ctx context.Context) error {
	a.core.mu.Lock()
	defer a.core.mu.Unlock()
	a.core.state = StateDisconnected
	return nil
}

func (a *InMemAdapter) IsConnected() bool {
	a.core.mu.RLock()
	defer a.core.mu.RUnlock()
	return a.core.state == StateConnected
}

func (a *InMemAdapter) ConnectionState() ConnectionState {
	a.core.mu.RLock()
	defer a.core.mu.RUnlock()
	return a.core.state
}

func (a *InMemAdapter) Execute(ctx context.Context, action string, params map[string]interface{}, opts *ExecuteOptions) protocol.Result {
	start := time.Now()
	res := a.execute(action, params)
	res.Metadata.DurationMs = time.Since(start).Milliseconds()
	return res
}

func (a *InMemAdapter) execute(action string, params map[string]interface{}) protocol.Result {
	a.core.mu.Lock()
	defer a.core.mu.Unlock()

	switch action {
	case "create":
		return a.create(params)
	case "update":
		return a.update(params)
	case "delete":
		return a.delete(params)
	case "query":
		return a.query(params)
	default:
		return protocol.Fail(protocol.ErrAdapterUnknownAction, fmt.Sprintf("unknown action %q", action))
	}
}

func (a *InMemAdapter) create(params map[string]interface{}) protocol.Result {
	el := &Element{
		ID:        "el-" + uuid.NewString()[:8],
		Type:      stringParam(params, "type", "shape"),
		X:         floatParam(params, "x"),
		Y:         floatParam(params, "y"),
		Width:     floatParam(params, "width"),
		Height:    floatParam(params, "height"),
		CreatedAt: time.Now(),
	}
	if props, ok := params["props"].(map[string]interface{}); ok {
		el.Props = props
	}
	if a.bounds != nil && !a.bounds.contains(el.X, el.Y) {
		return protocol.Fail(protocol.ErrToolSecurity,
			fmt.Sprintf("create at (%.0f,%.0f) is outside the assigned work region", el.X, el.Y))
	}
	a.core.elements[el.ID] = el
	a.core.order = append(a.core.order, el.ID)
	return protocol.OK(map[string]interface{}{"id": el.ID, "type": el.Type})
}

func (a *InMemAdapter) update(params map[string]interface{}) protocol.Result {
	id := stringParam(params, "id", "")
	el, ok := a.core.elements[id]
	if !ok {
		return protocol.Fail(protocol.ErrAdapterExecution, fmt.Sprintf("element %q not found", id))
	}
	if a.bounds != nil && !a.bounds.contains(el.X, el.Y) {
		return protocol.Fail(protocol.ErrToolSecurity,
			fmt.Sprintf("element %q is outside the assigned work region", id))
	}
	if v, ok := params["x"]; ok {
		el.X = toFloat(v)
	}
	if v, ok := params["y"]; ok {
		el.Y = toFloat(v)
	}
	if v, ok := params["width"]; ok {
		el.Width = toFloat(v)
	}
	if v, ok := params["height"]; ok {
		el.Height = toFloat(v)
	}
	if props, ok := params["props"].(map[string]interface{}); ok {
		if el.Props == nil {
			el.Props = make(map[string]interface{})
		}
		for k, v := range props {
			el.Props[k] = v
		}
	}
	return protocol.OK(map[string]interface{}{"id": el.ID})
}

func (a *InMemAdapter) delete(params map[string]interface{}) protocol.Result {
	id := stringParam(params, "id", "")
	el, ok := a.core.elements[id]
	if !ok {
		return protocol.Fail(protocol.ErrAdapterExecution, fmt.Sprintf("element %q not found", id))
	}
	if a.bounds != nil && !a.bounds.contains(el.X, el.Y) {
		return protocol.Fail(protocol.ErrToolSecurity,
			fmt.Sprintf("element %q is outside the assigned work region", id))
	}
	delete(a.core.elements, id)
	for i, known := range a.core.order {
		if known == id {
			a.core.order = append(a.core.order[:i], a.core.order[i+1:]...)
			break
		}
	}
	return protocol.OK(map[string]interface{}{"id": id, "deleted": true})
}

func (a *InMemAdapter) query(params map[string]interface{}) protocol.Result {
	typeFilter := stringParam(params, "type", "")
	var matches []map[string]interface{}
	for _, id := range a.core.order {
		el := a.core.elements[id]
		if !a.inScope(el) {
			continue
		}
		if typeFilter != "" && el.Type != typeFilter {
			continue
		}
		matches = append(matches, map[string]interface{}{
			"id": el.ID, "type": el.Type, "x": el.X, "y": el.Y,
		})
	}
	return protocol.OK(map[string]interface{}{
		"elements": matches,
		"count":    len(matches),
	})
}

func (a *InMemAdapter) GetState(ctx context.Context, opts *StateOptions) (*StateSnapshot, error) {
	a.core.mu.RLock()
	defer a.core.mu.RUnlock()

	ids := make([]string, 0, len(a.core.order))
	byType := map[string]int{}
	for _, id := range a.core.order {
		el := a.core.elements[id]
		if !a.inScope(el) {
			continue
		}
		ids = append(ids, id)
		byType[el.Type]++
	}

	summary := fmt.Sprintf("%d elements", len(ids))
	if len(byType) > 0 {
		parts := make([]string, 0, len(byType))
		for typ, n := range byType {
			parts = append(parts, fmt.Sprintf("%d %s", n, typ))
		}
		sort.Strings(parts)
		summary += " (" + strings.Join(parts, ", ") + ")"
	}

	return &StateSnapshot{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		Summary:      summary,
		ElementCount: len(ids),
		ElementIDs:   ids,
	}, nil
}

func (a *InMemAdapter) GetAwareness(ctx context.Context, opts *AwarenessOptions) (*Awareness, error) {
	snap, err := a.GetState(ctx, nil)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &AwarenessOptions{MaxTokens: 500}
	}

	aw := &Awareness{Summary: snap.Summary}
	if opts.IncludeSkeleton {
		a.core.mu.RLock()
		var sb strings.Builder
		for _, id := range a.core.order {
			el := a.core.elements[id]
			if !a.inScope(el) {
				continue
			}
			fmt.Fprintf(&sb, "%s %s at (%.0f,%.0f)\n", el.ID, el.Type, el.X, el.Y)
		}
		a.core.mu.RUnlock()
		aw.Skeleton = strings.TrimSpace(sb.String())
	}
	if opts.IncludeRelevant && opts.ContextHint != "" {
		a.core.mu.RLock()
		hint := strings.ToLower(opts.ContextHint)
		for _, id := range a.core.order {
			el := a.core.elements[id]
			if !a.inScope(el) {
				continue
			}
			if strings.Contains(hint, strings.ToLower(el.Type)) {
				aw.Relevant = append(aw.Relevant, el.ID)
			}
		}
		a.core.mu.RUnlock()
	}

	full := a.core.est.EstimateText(aw.Summary) + a.core.est.EstimateText(aw.Skeleton)
	if opts.MaxTokens > 0 && full > opts.MaxTokens {
		// Drop the skeleton before the summary when over budget.
		before := full
		aw.Skeleton = ""
		full = a.core.est.EstimateText(aw.Summary)
		aw.CompressionRatio = float64(full) / float64(before)
	}
	aw.TokensUsed = full
	return aw, nil
}

var inMemActions = []ActionDefinition{
	{
		Name:        "create",
		Description: "Create a new element",
		Category:    "mutation",
		Mutating:    true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type":   map[string]interface{}{"type": "string"},
				"x":      map[string]interface{}{"type": "number"},
				"y":      map[string]interface{}{"type": "number"},
				"width":  map[string]interface{}{"type": "number"},
				"height": map[string]interface{}{"type": "number"},
				"props":  map[string]interface{}{"type": "object"},
			},
			"required": []interface{}{"type"},
		},
	},
	{
		Name:        "update",
		Description: "Update an existing element",
		Category:    "mutation",
		Mutating:    true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"id"},
		},
	},
	{
		Name:        "delete",
		Description: "Delete an element",
		Category:    "mutation",
		Mutating:    true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"id"},
		},
	},
	{
		Name:        "query",
		Description: "List elements, optionally filtered by type",
		Category:    "read",
		Mutating:    false,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type": map[string]interface{}{"type": "string"},
			},
		},
	},
}

func (a *InMemAdapter) GetAvailableActions() []ActionDefinition {
	return append([]ActionDefinition(nil), inMemActions...)
}

func (a *InMemAdapter) SupportsAction(name string) bool {
	_, ok := a.GetActionSchema(name)
	return ok
}

func (a *InMemAdapter) GetActionSchema(name string) (*ActionDefinition, bool) {
	for i := range inMemActions {
		if inMemActions[i].Name == name {
			def := inMemActions[i]
			return &def, true
		}
	}
	return nil, false
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func floatParam(params map[string]interface{}, key string) float64 {
	if v, ok := params[key]; ok {
		return toFloat(v)
	}
	return 0
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
