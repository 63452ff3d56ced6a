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

package memory

import (
	"fmt"
	"sort"
	"sync"
)

// Reservation is an explicit hold on budget tokens (response reserve, tool
// reserve). Reservations survive Reset.
type Reservation struct {
	Tokens int    `json:"tokens"`
	Label  string `json:"label"`
}

// TokenBudget tracks allocations per category plus named reservations
// against a fixed maximum.
type TokenBudget struct {
	mu           sync.RWMutex
	maxTokens    int
	allocations  map[string]int
	reservations map[string]Reservation
}

func NewTokenBudget(maxTokens int) *TokenBudget {
	return &TokenBudget{
		maxTokens:    maxTokens,
		allocations:  make(map[string]int),
		reservations: make(map[string]Reservation),
	}
}

func (b *TokenBudget) MaxTokens() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxTokens
}

// Allocate records token usage under a category, replacing any prior value.
func (b *TokenBudget) Allocate(category string, tokens int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tokens <= 0 {
		delete(b.allocations, category)
		return
	}
	b.allocations[category] = tokens
}

func (b *TokenBudget) Allocation(category string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.allocations[category]
}

// Reserve places a named hold on the budget.
func (b *TokenBudget) Reserve(id string, tokens int, label string) error {
	if tokens < 0 {
		return fmt.Errorf("reservation %q: tokens must be >= 0", id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reservations[id] = Reservation{Tokens: tokens, Label: label}
	return nil
}

func (b *TokenBudget) Release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.reservations, id)
}

func (b *TokenBudget) ReservedTotal() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.reservedLocked()
}

func (b *TokenBudget) reservedLocked() int {
	total := 0
	for _, r := range b.reservations {
		total += r.Tokens
	}
	return total
}

// Used is the sum of allocations and reservations.
func (b *TokenBudget) Used() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	used := b.reservedLocked()
	for _, tokens := range b.allocations {
		used += tokens
	}
	return used
}

// Remaining never goes negative.
func (b *TokenBudget) Remaining() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	used := b.reservedLocked()
	for _, tokens := range b.allocations {
		used += tokens
	}
	if used >= b.maxTokens {
		return 0
	}
	return b.maxTokens - used
}

// Reset clears allocations. Reservations are explicit holds and survive.
func (b *TokenBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allocations = make(map[string]int)
}

// Breakdown is a point-in-time view of budget usage for diagnostics and the
// prepared-request report.
type Breakdown struct {
	MaxTokens    int                    `json:"max_tokens"`
	Used         int                    `json:"used"`
	Remaining    int                    `json:"remaining"`
	Allocations  map[string]int         `json:"allocations"`
	Reservations map[string]Reservation `json:"reservations"`
}

func (b *TokenBudget) Snapshot() Breakdown {
	b.mu.RLock()
	defer b.mu.RUnlock()

	allocations := make(map[string]int, len(b.allocations))
	used := 0
	for k, v := range b.allocations {
		allocations[k] = v
		used += v
	}
	reservations := make(map[string]Reservation, len(b.reservations))
	for k, v := range b.reservations {
		reservations[k] = v
		used += v.Tokens
	}
	remaining := b.maxTokens - used
	if remaining < 0 {
		remaining = 0
	}
	return Breakdown{
		MaxTokens:    b.maxTokens,
		Used:         used,
		Remaining:    remaining,
		Allocations:  allocations,
		Reservations: reservations,
	}
}

// Categories returns allocation category names in stable order.
func (b *TokenBudget) Categories() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.allocations))
	for name := range b.allocations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
