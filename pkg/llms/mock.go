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
	"sync"
)

// MockProvider replays a scripted sequence of responses. Used by tests and
// the offline demo; the last response repeats once the script runs out.
type MockProvider struct {
	mu         sync.Mutex
	name       string
	script     []*Response
	errs       []error
	turn       int
	Requests   []*Request
	GenerateFn func(ctx context.Context, req *Request) (*Response, error)
}

func NewMockProvider(script ...*Response) *MockProvider {
	return &MockProvider{name: "mock", script: script}
}

func (m *MockProvider) Name() string { return m.name }

// FailWith queues an error for the given turn index.
func (m *MockProvider) FailWith(turn int, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.errs) <= turn {
		m.errs = append(m.errs, nil)
	}
	m.errs[turn] = err
	return m
}

func (m *MockProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}

	m.Requests = append(m.Requests, req)
	turn := m.turn
	m.turn++

	if turn < len(m.errs) && m.errs[turn] != nil {
		return nil, m.errs[turn]
	}
	if len(m.script) == 0 {
		return nil, fmt.Errorf("mock provider has no scripted responses")
	}
	if turn >= len(m.script) {
		turn = len(m.script) - 1
	}
	return m.script[turn], nil
}

// Turns reports how many generations were requested.
func (m *MockProvider) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}
