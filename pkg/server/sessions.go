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

package server

import (
	"sync"

	"github.com/inletlabs/toad/pkg/agent"
)

// sessionRegistry tracks running agents by session id so the control surface
// can reach them mid-run.
type sessionRegistry struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{agents: make(map[string]*agent.Agent)}
}

func (r *sessionRegistry) add(a *agent.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.SessionID()] = a
}

func (r *sessionRegistry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, sessionID)
}

func (r *sessionRegistry) get(sessionID string) (*agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[sessionID]
	return a, ok
}

func (r *sessionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
