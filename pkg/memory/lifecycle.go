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
	"sync"

	"github.com/inletlabs/toad/pkg/tokens"
)

// ResultStage is the aging stage of a tool result. Transitions are monotone:
// immediate → recent → archived → evicted, never backwards.
type ResultStage string

const (
	StageImmediate ResultStage = "immediate"
	StageRecent    ResultStage = "recent"
	StageArchived  ResultStage = "archived"
)

var stageRank = map[ResultStage]int{
	StageImmediate: 0,
	StageRecent:    1,
	StageArchived:  2,
}

// LifecycleConfig sets the aging thresholds (in turns) and per-stage token
// caps.
type LifecycleConfig struct {
	RecentThreshold  int `yaml:"recent_threshold"`
	ArchiveThreshold int `yaml:"archive_threshold"`
	EvictThreshold   int `yaml:"evict_threshold"`

	ImmediateMaxTokens int `yaml:"immediate_max_tokens"`
	RecentMaxTokens    int `yaml:"recent_max_tokens"`
	ArchivedMaxTokens  int `yaml:"archived_max_tokens"`
}

func (c *LifecycleConfig) SetDefaults() {
	if c.RecentThreshold <= 0 {
		c.RecentThreshold = 1
	}
	if c.ArchiveThreshold <= 0 {
		c.ArchiveThreshold = 5
	}
	if c.EvictThreshold <= 0 {
		c.EvictThreshold = 15
	}
	if c.ImmediateMaxTokens <= 0 {
		c.ImmediateMaxTokens = 5000
	}
	if c.RecentMaxTokens <= 0 {
		c.RecentMaxTokens = 500
	}
	if c.ArchivedMaxTokens <= 0 {
		c.ArchivedMaxTokens = 100
	}
}

// ResultEntry is one tracked tool result, indexed by its tool call id.
type ResultEntry struct {
	ID                string
	ToolName          string
	FullContent       string
	CompressedContent string
	ArchivedContent   string
	CreatedAtTurn     int
	Stage             ResultStage
	Tokens            int
}

// AgeReport records what one aging pass did.
type AgeReport struct {
	Compressed  []string
	Archived    []string
	Evicted     []string
	TokensSaved int
}

// Lifecycle ages tool results across stages, compressing at each boundary.
type Lifecycle struct {
	mu          sync.Mutex
	config      LifecycleConfig
	estimator   *tokens.Estimator
	compressors *ToolCompressorSet
	entries     map[string]*ResultEntry
}

func NewLifecycle(config LifecycleConfig, estimator *tokens.Estimator, compressors *ToolCompressorSet) *Lifecycle {
	config.SetDefaults()
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}
	if compressors == nil {
		compressors = NewToolCompressorSet(estimator)
	}
	return &Lifecycle{
		config:      config,
		estimator:   estimator,
		compressors: compressors,
		entries:     make(map[string]*ResultEntry),
	}
}

// Add registers a fresh tool result at the immediate stage, truncated to the
// immediate-stage cap.
func (l *Lifecycle) Add(callID, toolName, content string, currentTurn int) *ResultEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &ResultEntry{
		ID:            callID,
		ToolName:      toolName,
		FullContent:   content,
		CreatedAtTurn: currentTurn,
		Stage:         StageImmediate,
		Tokens:        l.estimator.EstimateText(content),
	}
	if entry.Tokens > l.config.ImmediateMaxTokens {
		if tc, ok := l.compressors.Get(toolName); ok {
			entry.FullContent = tc.Compress(content, LevelLight, l.config.ImmediateMaxTokens)
		} else {
			entry.FullContent = truncateToBudget(content, l.config.ImmediateMaxTokens, l.estimator)
		}
		entry.Tokens = l.estimator.EstimateText(entry.FullContent)
	}
	l.entries[callID] = entry
	return entry
}

// AgeResults advances every entry by comparing its age against the
// thresholds, applying per-stage compression as entries demote.
func (l *Lifecycle) AgeResults(currentTurn int) AgeReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	var report AgeReport
	for id, entry := range l.entries {
		age := currentTurn - entry.CreatedAtTurn

		if age >= l.config.EvictThreshold {
			report.TokensSaved += entry.Tokens
			report.Evicted = append(report.Evicted, id)
			delete(l.entries, id)
			continue
		}

		if age >= l.config.ArchiveThreshold && stageRank[entry.Stage] < stageRank[StageArchived] {
			before := entry.Tokens
			l.archive(entry)
			report.TokensSaved += before - entry.Tokens
			report.Archived = append(report.Archived, id)
			continue
		}

		if age >= l.config.RecentThreshold && stageRank[entry.Stage] < stageRank[StageRecent] {
			before := entry.Tokens
			l.demoteToRecent(entry)
			report.TokensSaved += before - entry.Tokens
			report.Compressed = append(report.Compressed, id)
		}
	}
	return report
}

func (l *Lifecycle) demoteToRecent(entry *ResultEntry) {
	if tc, ok := l.compressors.Get(entry.ToolName); ok {
		entry.CompressedContent = tc.Compress(entry.FullContent, LevelModerate, l.config.RecentMaxTokens)
	} else {
		entry.CompressedContent = truncateToBudget(entry.FullContent, l.config.RecentMaxTokens, l.estimator)
	}
	entry.Stage = StageRecent
	entry.Tokens = l.estimator.EstimateText(entry.CompressedContent)
}

func (l *Lifecycle) archive(entry *ResultEntry) {
	entry.ArchivedContent = l.compressors.Summarize(entry.ToolName, entry.FullContent)
	if l.estimator.EstimateText(entry.ArchivedContent) > l.config.ArchivedMaxTokens {
		entry.ArchivedContent = truncateToBudget(entry.ArchivedContent, l.config.ArchivedMaxTokens, l.estimator)
	}
	entry.Stage = StageArchived
	entry.Tokens = l.estimator.EstimateText(entry.ArchivedContent)
}

// Content returns the stage-appropriate view of an entry.
func (l *Lifecycle) Content(callID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[callID]
	if !ok {
		return "", false
	}
	switch entry.Stage {
	case StageArchived:
		return entry.ArchivedContent, true
	case StageRecent:
		return entry.CompressedContent, true
	default:
		return entry.FullContent, true
	}
}

// ForceCompress demotes an entry straight to the recent stage.
func (l *Lifecycle) ForceCompress(callID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[callID]
	if !ok {
		return fmt.Errorf("tool result %q not tracked", callID)
	}
	if stageRank[entry.Stage] >= stageRank[StageRecent] {
		return nil
	}
	l.demoteToRecent(entry)
	return nil
}

// ForceArchive demotes an entry straight to the archived stage.
func (l *Lifecycle) ForceArchive(callID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[callID]
	if !ok {
		return fmt.Errorf("tool result %q not tracked", callID)
	}
	if stageRank[entry.Stage] >= stageRank[StageArchived] {
		return nil
	}
	l.archive(entry)
	return nil
}

// Remove drops an entry outright.
func (l *Lifecycle) Remove(callID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, callID)
}

// Entry returns a copy of a tracked entry.
func (l *Lifecycle) Entry(callID string) (ResultEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[callID]
	if !ok {
		return ResultEntry{}, false
	}
	return *entry, true
}

// TokensByStage sums entry tokens per stage.
func (l *Lifecycle) TokensByStage() map[ResultStage]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := map[ResultStage]int{StageImmediate: 0, StageRecent: 0, StageArchived: 0}
	for _, entry := range l.entries {
		out[entry.Stage] += entry.Tokens
	}
	return out
}

// Count returns the number of tracked entries.
func (l *Lifecycle) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func truncateToBudget(content string, budget int, est *tokens.Estimator) string {
	if est.EstimateText(content) <= budget {
		return content
	}
	// Rough character budget from the base rate; refine down if still over.
	limit := int(float64(budget) * 3.5)
	for limit > 0 {
		if limit >= len(content) {
			limit = len(content)
		}
		candidate := content[:limit]
		if est.EstimateText(candidate) <= budget {
			return candidate
		}
		limit = limit * 9 / 10
	}
	return ""
}
