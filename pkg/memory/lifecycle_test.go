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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLifecycle() *Lifecycle {
	return NewLifecycle(LifecycleConfig{}, nil, nil)
}

func TestLifecycleDefaults(t *testing.T) {
	var cfg LifecycleConfig
	cfg.SetDefaults()
	assert.Equal(t, 1, cfg.RecentThreshold)
	assert.Equal(t, 5, cfg.ArchiveThreshold)
	assert.Equal(t, 15, cfg.EvictThreshold)
	assert.Equal(t, 5000, cfg.ImmediateMaxTokens)
	assert.Equal(t, 500, cfg.RecentMaxTokens)
	assert.Equal(t, 100, cfg.ArchivedMaxTokens)
}

func TestLifecycleAgesThroughStages(t *testing.T) {
	lc := newTestLifecycle()
	lc.Add("call-1", "task_execute", `{"id": "r1", "status": "created"}`, 0)

	entry, ok := lc.Entry("call-1")
	require.True(t, ok)
	assert.Equal(t, StageImmediate, entry.Stage)

	report := lc.AgeResults(1)
	assert.Contains(t, report.Compressed, "call-1")
	entry, _ = lc.Entry("call-1")
	assert.Equal(t, StageRecent, entry.Stage)

	report = lc.AgeResults(5)
	assert.Contains(t, report.Archived, "call-1")
	entry, _ = lc.Entry("call-1")
	assert.Equal(t, StageArchived, entry.Stage)

	report = lc.AgeResults(15)
	assert.Contains(t, report.Evicted, "call-1")
	_, ok = lc.Entry("call-1")
	assert.False(t, ok)
}

func TestLifecycleTransitionsAreMonotone(t *testing.T) {
	lc := newTestLifecycle()
	lc.Add("call-1", "task_execute", "content", 0)

	require.NoError(t, lc.ForceArchive("call-1"))
	entry, _ := lc.Entry("call-1")
	require.Equal(t, StageArchived, entry.Stage)

	// ForceCompress on an archived entry must not re-promote it.
	require.NoError(t, lc.ForceCompress("call-1"))
	entry, _ = lc.Entry("call-1")
	assert.Equal(t, StageArchived, entry.Stage)

	// Aging again must not move it backwards either.
	lc.AgeResults(2)
	entry, _ = lc.Entry("call-1")
	assert.Equal(t, StageArchived, entry.Stage)
}

func TestLifecycleContentPerStage(t *testing.T) {
	lc := newTestLifecycle()
	full := `{"id": "r1"}` + "\n" + strings.Repeat("verbose output line\n", 100)
	lc.Add("call-1", "task_execute", full, 0)

	content, ok := lc.Content("call-1")
	require.True(t, ok)
	assert.Contains(t, content, "r1")

	lc.AgeResults(1)
	content, _ = lc.Content("call-1")
	assert.Contains(t, content, "r1", "compressed content keeps identifiers")

	lc.AgeResults(5)
	content, _ = lc.Content("call-1")
	assert.True(t, strings.HasPrefix(content, "["), "archived content is a one-line summary")
}

func TestLifecycleArchiveSummaryTemplate(t *testing.T) {
	lc := newTestLifecycle()
	lc.Add("call-1", "task_execute", "created 7 elements on the board", 0)
	require.NoError(t, lc.ForceArchive("call-1"))

	content, _ := lc.Content("call-1")
	assert.Equal(t, "[task_execute: created 7 elements]", content)
}

func TestLifecycleImmediateCapApplies(t *testing.T) {
	lc := NewLifecycle(LifecycleConfig{ImmediateMaxTokens: 50}, nil, nil)
	entry := lc.Add("call-1", "unknown_tool", strings.Repeat("long content ", 200), 0)
	assert.LessOrEqual(t, entry.Tokens, 50)
}

func TestLifecycleTokensByStage(t *testing.T) {
	lc := newTestLifecycle()
	lc.Add("a", "task_execute", "alpha content", 0)
	lc.Add("b", "task_execute", "beta content", 0)
	require.NoError(t, lc.ForceArchive("b"))

	byStage := lc.TokensByStage()
	entryA, _ := lc.Entry("a")
	entryB, _ := lc.Entry("b")

	assert.Equal(t, entryA.Tokens, byStage[StageImmediate])
	assert.Equal(t, entryB.Tokens, byStage[StageArchived])
	assert.Equal(t, 0, byStage[StageRecent])
}

func TestLifecycleRemoveAndMissing(t *testing.T) {
	lc := newTestLifecycle()
	lc.Add("a", "t", "x", 0)
	lc.Remove("a")
	assert.Equal(t, 0, lc.Count())

	assert.Error(t, lc.ForceCompress("missing"))
	assert.Error(t, lc.ForceArchive("missing"))
	_, ok := lc.Content("missing")
	assert.False(t, ok)
}
