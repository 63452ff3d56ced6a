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

// Package registry provides a generic named-item registry. Reads are served
// from an immutable snapshot so lookups never block behind registration.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type Registry[T any] interface {
	Register(name string, item T) error
	Get(name string) (T, bool)
	Names() []string
	List() []T
	Remove(name string) error
	Count() int
}

// Store is a copy-on-write registry: Register/Remove rebuild the map under a
// mutex, Get reads the current snapshot via an atomic pointer.
type Store[T any] struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]T]
}

func NewStore[T any]() *Store[T] {
	s := &Store[T]{}
	empty := make(map[string]T)
	s.snapshot.Store(&empty)
	return s
}

func (s *Store[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := *s.snapshot.Load()
	if _, exists := current[name]; exists {
		return fmt.Errorf("item %q already registered", name)
	}

	next := make(map[string]T, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[name] = item
	s.snapshot.Store(&next)
	return nil
}

func (s *Store[T]) Get(name string) (T, bool) {
	item, exists := (*s.snapshot.Load())[name]
	return item, exists
}

func (s *Store[T]) Names() []string {
	current := *s.snapshot.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	return names
}

func (s *Store[T]) List() []T {
	current := *s.snapshot.Load()
	items := make([]T, 0, len(current))
	for _, item := range current {
		items = append(items, item)
	}
	return items
}

func (s *Store[T]) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := *s.snapshot.Load()
	if _, exists := current[name]; !exists {
		return fmt.Errorf("item %q not found", name)
	}

	next := make(map[string]T, len(current)-1)
	for k, v := range current {
		if k != name {
			next[k] = v
		}
	}
	s.snapshot.Store(&next)
	return nil
}

func (s *Store[T]) Count() int {
	return len(*s.snapshot.Load())
}
