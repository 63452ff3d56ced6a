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

package resources

import (
	"fmt"
	"regexp"

	"github.com/inletlabs/toad/pkg/registry"
)

// Registry maps alias names to definitions. Reads never block behind
// registration.
type Registry struct {
	store *registry.Store[*Definition]
}

func NewRegistry() *Registry {
	return &Registry{store: registry.NewStore[*Definition]()}
}

// Register validates and adds an alias definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("alias name cannot be empty")
	}
	if def.Resolve == nil {
		return fmt.Errorf("alias %q: resolve function is required", def.Name)
	}
	if def.ArgPattern != "" {
		re, err := regexp.Compile(def.ArgPattern)
		if err != nil {
			return fmt.Errorf("alias %q: invalid arg pattern: %w", def.Name, err)
		}
		def.argRe = re
	}
	return r.store.Register(def.Name, &def)
}

func (r *Registry) Unregister(name string) error {
	return r.store.Remove(name)
}

func (r *Registry) Lookup(name string) (*Definition, bool) {
	return r.store.Get(name)
}

// Names lists registered alias names.
func (r *Registry) Names() []string {
	return r.store.Names()
}
