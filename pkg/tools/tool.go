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

// Package tools defines the tool surface the LLM calls: declarative schemas,
// input validation, a hook engine for interception, and the dispatcher that
// executes proposed calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/inletlabs/toad/pkg/protocol"
)

// Executor runs one validated tool call.
type Executor func(ctx context.Context, input map[string]interface{}) protocol.Result

// Tool pairs a declarative schema with its executor. The schema is compiled
// once at registration and reused for every call.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Execute     Executor

	compiled *jsonschema.Schema
}

// NewTool builds a tool and compiles its input schema. A nil schema means
// the tool accepts any input.
func NewTool(name, description string, inputSchema map[string]interface{}, execute Executor) (*Tool, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if execute == nil {
		return nil, fmt.Errorf("tool %s: executor is required", name)
	}
	t := &Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		Execute:     execute,
	}
	if inputSchema != nil {
		raw, err := json.Marshal(inputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: marshaling schema: %w", name, err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name+".json", strings.NewReader(string(raw))); err != nil {
			return nil, fmt.Errorf("tool %s: loading schema: %w", name, err)
		}
		compiled, err := compiler.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("tool %s: compiling schema: %w", name, err)
		}
		t.compiled = compiled
	}
	return t, nil
}

// MustTool panics on schema errors; for statically declared builtins.
func MustTool(name, description string, inputSchema map[string]interface{}, execute Executor) *Tool {
	t, err := NewTool(name, description, inputSchema, execute)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks input against the compiled schema.
func (t *Tool) Validate(input map[string]interface{}) error {
	if t.compiled == nil {
		return nil
	}
	// The validator wants plain JSON types; round-trip to normalise ints etc.
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("input not serializable: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := t.compiled.Validate(doc); err != nil {
		return fmt.Errorf("input validation: %w", err)
	}
	return nil
}
