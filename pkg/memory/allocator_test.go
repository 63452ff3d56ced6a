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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(role Role, content string, tokens, priority int, age time.Duration) *Message {
	msg := NewMessage(role, content)
	msg.Tokens = tokens
	msg.Priority = priority
	msg.Timestamp = time.Now().Add(-age)
	return msg
}

func TestAllocateEverythingFits(t *testing.T) {
	alloc := NewAllocator(DefaultTierConfigs(10_000))

	content := map[TierName][]*Message{
		TierSystem: {testMessage(RoleSystem, "sys", 100, PriorityCritical, time.Hour)},
		TierRecent: {testMessage(RoleUser, "hello", 50, PriorityNormal, time.Minute)},
	}

	res := alloc.Allocate(AllocationRequest{
		TotalBudget:  10_000,
		Reservations: 1_000,
		Content:      content,
	})

	assert.True(t, res.Success)
	assert.Zero(t, res.Overflow)
	assert.Empty(t, res.ToCompress)
	assert.Empty(t, res.ToEvict)
	assert.Len(t, res.Retained[TierSystem], 1)
	assert.Len(t, res.Retained[TierRecent], 1)
}

func TestAllocateZeroAvailableEvictsAll(t *testing.T) {
	alloc := NewAllocator(DefaultTierConfigs(1000))

	content := map[TierName][]*Message{
		TierRecent: {testMessage(RoleUser, "hello", 50, PriorityNormal, 0)},
	}

	res := alloc.Allocate(AllocationRequest{
		TotalBudget:  1000,
		Reservations: 1000,
		Content:      content,
	})

	assert.False(t, res.Success)
	assert.Positive(t, res.Overflow)
	assert.Len(t, res.ToEvict, 1)
}

func TestAllocateIncomingAttachedToRecent(t *testing.T) {
	alloc := NewAllocator(DefaultTierConfigs(10_000))

	incoming := testMessage(RoleUser, "new task", 100, PriorityNormal, 0)
	res := alloc.Allocate(AllocationRequest{
		TotalBudget: 10_000,
		Content:     map[TierName][]*Message{},
		Incoming:    incoming,
	})

	assert.True(t, res.Success)
	assert.Len(t, res.Retained[TierRecent], 1)
	assert.Equal(t, incoming.ID, res.Retained[TierRecent][0].ID)
}

func TestAllocateUnderPressureFlagsCompressibles(t *testing.T) {
	alloc := NewAllocator(DefaultTierConfigs(1000))

	var recent []*Message
	for i := 0; i < 6; i++ {
		recent = append(recent, testMessage(RoleUser, "bulk", 400, PriorityNormal, time.Duration(i)*time.Minute))
	}

	res := alloc.Allocate(AllocationRequest{
		TotalBudget: 1000,
		Content:     map[TierName][]*Message{TierRecent: recent},
	})

	// 2400 tokens cannot fit a 1000 budget; the spill must be flagged.
	assert.NotEmpty(t, res.ToCompress)
	kept := sumTokens(res.Retained[TierRecent])
	assert.LessOrEqual(t, kept, res.Allocations[TierRecent])
}

func TestAllocateKeepsHigherPriorityUnderPressure(t *testing.T) {
	alloc := NewAllocator(DefaultTierConfigs(1000))

	critical := testMessage(RoleUser, "critical correction", 200, PriorityCritical, time.Minute)
	critical.Compressible = false
	low := testMessage(RoleUser, "chatter-1", 400, PriorityLow, 2*time.Minute)
	low2 := testMessage(RoleUser, "chatter-2", 400, PriorityLow, 3*time.Minute)

	res := alloc.Allocate(AllocationRequest{
		TotalBudget: 1000,
		Content:     map[TierName][]*Message{TierRecent: {low, critical, low2}},
	})

	ids := map[string]bool{}
	for _, msg := range res.Retained[TierRecent] {
		ids[msg.ID] = true
	}
	assert.True(t, ids[critical.ID], "critical message must survive budget pressure")
}

func TestAllocateKeptMessagesSortedByTimestamp(t *testing.T) {
	alloc := NewAllocator(DefaultTierConfigs(1000))

	// 1200 tokens against a 1000 budget forces the constrained path, which
	// ranks newest-first for keeping but must hand back kept messages in
	// timestamp order.
	msgs := []*Message{
		testMessage(RoleUser, "third", 300, PriorityNormal, 10*time.Minute),
		testMessage(RoleUser, "first", 300, PriorityNormal, time.Hour),
		testMessage(RoleUser, "fourth", 300, PriorityNormal, time.Minute),
		testMessage(RoleUser, "second", 300, PriorityNormal, 30*time.Minute),
	}

	res := alloc.Allocate(AllocationRequest{
		TotalBudget: 1000,
		Content:     map[TierName][]*Message{TierRecent: msgs},
	})

	require.NotEmpty(t, res.ToCompress, "budget pressure must trim the tier")
	kept := res.Retained[TierRecent]
	require.GreaterOrEqual(t, len(kept), 2)
	for i := 1; i < len(kept); i++ {
		assert.False(t, kept[i].Timestamp.Before(kept[i-1].Timestamp),
			"kept messages must come back oldest first")
	}
}

func TestAllocateSystemTierNeverEvicted(t *testing.T) {
	alloc := NewAllocator(DefaultTierConfigs(100))

	sys := testMessage(RoleSystem, "identity", 500, PriorityCritical, time.Hour)
	sys.Compressible = false

	res := alloc.Allocate(AllocationRequest{
		TotalBudget: 100,
		Content:     map[TierName][]*Message{TierSystem: {sys}},
	})

	assert.Len(t, res.Retained[TierSystem], 1, "system content is kept even over budget")
	assert.False(t, res.Success)
	assert.Positive(t, res.Overflow)
}
