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
	"regexp"
	"strings"

	"github.com/inletlabs/toad/pkg/tokens"
)

// CompressionLevel grades how aggressively a per-tool compressor trims.
type CompressionLevel string

const (
	LevelLight      CompressionLevel = "light"
	LevelModerate   CompressionLevel = "moderate"
	LevelAggressive CompressionLevel = "aggressive"
)

// LevelForBudget picks a level from how far current content exceeds budget.
func LevelForBudget(budget, current int) CompressionLevel {
	if current <= 0 {
		return LevelLight
	}
	ratio := float64(budget) / float64(current)
	switch {
	case ratio >= 0.7:
		return LevelLight
	case ratio >= 0.4:
		return LevelModerate
	default:
		return LevelAggressive
	}
}

// ToolCompressor compresses one tool's output while keeping its semantically
// critical fields (ids, bounds, exit codes, error messages) intact.
type ToolCompressor interface {
	// Compress trims content at the given level toward the token budget.
	Compress(content string, level CompressionLevel, budget int) string
	// Summarize renders the one-line archival form of the content.
	Summarize(toolName, content string) string
	// Matches reports whether raw content looks like this tool's output.
	Matches(content string) bool
}

// ToolCompressorSet is the registry of per-tool compressors keyed by tool
// name.
type ToolCompressorSet struct {
	estimator   *tokens.Estimator
	compressors map[string]ToolCompressor
}

func NewToolCompressorSet(estimator *tokens.Estimator) *ToolCompressorSet {
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}
	s := &ToolCompressorSet{
		estimator:   estimator,
		compressors: make(map[string]ToolCompressor),
	}
	s.registerDefaults()
	return s
}

func (s *ToolCompressorSet) Register(toolName string, tc ToolCompressor) {
	s.compressors[toolName] = tc
}

func (s *ToolCompressorSet) Get(toolName string) (ToolCompressor, bool) {
	tc, ok := s.compressors[toolName]
	return tc, ok
}

// Sniff inspects untagged content and returns the name of the first
// registered compressor that recognises it.
func (s *ToolCompressorSet) Sniff(content string) string {
	for name, tc := range s.compressors {
		if tc.Matches(content) {
			return name
		}
	}
	return ""
}

// Summarize renders the archival one-liner for a tool result, using the
// generic template when no compressor is registered.
func (s *ToolCompressorSet) Summarize(toolName, content string) string {
	if tc, ok := s.compressors[toolName]; ok {
		return tc.Summarize(toolName, content)
	}
	return genericSummary(toolName, content)
}

func (s *ToolCompressorSet) registerDefaults() {
	preserve := newPreservingCompressor(s.estimator)
	s.compressors["task_execute"] = preserve
	s.compressors["context_search"] = preserve
	s.compressors["state_snapshot"] = preserve
}

var (
	idField     = regexp.MustCompile(`"(?:id|element_id|clarification_id|contract_id)"\s*:\s*"[^"]*"`)
	boundsField = regexp.MustCompile(`"(?:bounds|x|y|width|height|count)"\s*:\s*[^,}\]]+`)
	exitField   = regexp.MustCompile(`"(?:exit_code|status|success)"\s*:\s*[^,}\]]+`)
	errorField  = regexp.MustCompile(`"(?:error|message)"\s*:\s*"[^"]*"`)
	createdLine = regexp.MustCompile(`(?i)created\s+(\d+)`)
)

// preservingCompressor is the default tool-aware compressor: it always keeps
// lines carrying ids, bounds, exit codes and errors, then fills the budget
// from the top of the content.
type preservingCompressor struct {
	estimator *tokens.Estimator
}

func newPreservingCompressor(estimator *tokens.Estimator) *preservingCompressor {
	return &preservingCompressor{estimator: estimator}
}

func (p *preservingCompressor) Matches(content string) bool {
	return idField.MatchString(content) || exitField.MatchString(content)
}

func (p *preservingCompressor) Compress(content string, level CompressionLevel, budget int) string {
	lines := strings.Split(content, "\n")

	var critical, rest []string
	for _, line := range lines {
		if idField.MatchString(line) || boundsField.MatchString(line) ||
			exitField.MatchString(line) || errorField.MatchString(line) {
			critical = append(critical, strings.TrimSpace(line))
		} else if strings.TrimSpace(line) != "" {
			rest = append(rest, line)
		}
	}

	out := strings.Join(critical, "\n")
	used := p.estimator.EstimateText(out)

	fillRatio := map[CompressionLevel]float64{
		LevelLight:      1.0,
		LevelModerate:   0.5,
		LevelAggressive: 0.0,
	}[level]

	fillBudget := int(float64(budget-used) * fillRatio)
	for _, line := range rest {
		cost := p.estimator.EstimateText(line)
		if cost > fillBudget {
			break
		}
		out += "\n" + line
		fillBudget -= cost
	}
	return strings.TrimSpace(out)
}

func (p *preservingCompressor) Summarize(toolName, content string) string {
	if m := createdLine.FindStringSubmatch(content); m != nil {
		return fmt.Sprintf("[%s: created %s elements]", toolName, m[1])
	}
	ids := idField.FindAllString(content, 4)
	if len(ids) > 0 {
		return fmt.Sprintf("[%s: touched %d identifiers]", toolName, len(ids))
	}
	return genericSummary(toolName, content)
}

func genericSummary(toolName, content string) string {
	first := content
	if idx := strings.IndexByte(first, '\n'); idx >= 0 {
		first = first[:idx]
	}
	if len(first) > 80 {
		first = first[:80] + "…"
	}
	return fmt.Sprintf("[%s: %s]", toolName, first)
}
