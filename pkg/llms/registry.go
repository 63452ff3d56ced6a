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
	"fmt"
	"sync"

	"github.com/inletlabs/toad/pkg/registry"
)

// Model tiers map intent to concrete models without hardcoding names at
// call sites.
const (
	TierFast     = "fast"
	TierBalanced = "balanced"
	TierPowerful = "powerful"
)

// TierBinding points a tier at a provider and model.
type TierBinding struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Registry holds named providers, a default, and tier bindings.
type Registry struct {
	providers *registry.Store[Provider]

	mu          sync.RWMutex
	defaultName string
	tiers       map[string]TierBinding
}

func NewRegistry() *Registry {
	return &Registry{
		providers: registry.NewStore[Provider](),
		tiers:     make(map[string]TierBinding),
	}
}

// Register adds a provider; the first registration becomes the default.
func (r *Registry) Register(p Provider) {
	r.providers.Register(p.Name(), p)
	r.mu.Lock()
	if r.defaultName == "" {
		r.defaultName = p.Name()
	}
	r.mu.Unlock()
}

// SetDefault picks the default provider by name.
func (r *Registry) SetDefault(name string) error {
	if _, ok := r.providers.Get(name); !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	r.mu.Lock()
	r.defaultName = name
	r.mu.Unlock()
	return nil
}

// BindTier routes a tier to a provider and model.
func (r *Registry) BindTier(tier string, binding TierBinding) error {
	if _, ok := r.providers.Get(binding.Provider); !ok {
		return fmt.Errorf("unknown provider %q", binding.Provider)
	}
	r.mu.Lock()
	r.tiers[tier] = binding
	r.mu.Unlock()
	return nil
}

// Get returns a provider by name, or the default for "".
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		r.mu.RLock()
		name = r.defaultName
		r.mu.RUnlock()
	}
	if name == "" {
		return nil, fmt.Errorf("no providers registered")
	}
	p, ok := r.providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// ForTier resolves a tier to its provider and model. Unbound tiers fall back
// to the default provider with no model override.
func (r *Registry) ForTier(tier string) (Provider, string, error) {
	r.mu.RLock()
	binding, ok := r.tiers[tier]
	r.mu.RUnlock()
	if !ok {
		p, err := r.Get("")
		return p, "", err
	}
	p, err := r.Get(binding.Provider)
	if err != nil {
		return nil, "", err
	}
	return p, binding.Model, nil
}

// Names lists registered providers.
func (r *Registry) Names() []string {
	return r.providers.Names()
}

// DefaultName reports the current default provider, or "" when none is
// registered.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}
