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
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/inletlabs/toad/pkg/tokens"
)

// Strategy names a compression approach.
type Strategy string

const (
	StrategyNone         Strategy = "none"
	StrategyTruncate     Strategy = "truncate"
	StrategyMinify       Strategy = "minify"
	StrategyExtract      Strategy = "extract"
	StrategySummarize    Strategy = "summarize"
	StrategyHierarchical Strategy = "hierarchical"
	StrategyToolAware    Strategy = "tool_aware"
)

// Lossiness describes how much information a strategy discards.
type Lossiness string

const (
	LossinessNone     Lossiness = "none"
	LossinessMinimal  Lossiness = "minimal"
	LossinessModerate Lossiness = "moderate"
	LossinessHigh     Lossiness = "high"
)

// Summarizer condenses text. Injected so the compressor never calls an LLM
// directly.
type Summarizer func(ctx context.Context, text string, prompt string) (string, error)

// CompressOptions control a compression pass. Exactly one of TargetTokens or
// TargetRatio should be set; TargetTokens wins when both are.
type CompressOptions struct {
	Strategy         Strategy
	TargetTokens     int
	TargetRatio      float64
	PreservePatterns []string
	SummaryPrompt    string
}

// CompressResult reports the outcome of a compression pass.
type CompressResult struct {
	Compressed []*Message
	Ratio      float64
	Strategy   Strategy
	Lossiness  Lossiness
}

const hierarchicalChunkSize = 20

// Compressor applies deterministic compression strategies to message sets.
type Compressor struct {
	estimator  *tokens.Estimator
	summarizer Summarizer
	toolAware  *ToolCompressorSet
}

func NewCompressor(estimator *tokens.Estimator, summarizer Summarizer) *Compressor {
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}
	return &Compressor{
		estimator:  estimator,
		summarizer: summarizer,
		toolAware:  NewToolCompressorSet(estimator),
	}
}

// ToolCompressors exposes the per-tool compressor registry for registration.
func (c *Compressor) ToolCompressors() *ToolCompressorSet {
	return c.toolAware
}

// Compress applies the selected strategy against the target budget.
func (c *Compressor) Compress(ctx context.Context, messages []*Message, opts CompressOptions) (*CompressResult, error) {
	before := sumTokens(messages)
	target := c.targetFor(before, opts)

	var (
		out       []*Message
		err       error
		lossiness Lossiness
	)

	switch opts.Strategy {
	case StrategyNone, "":
		out, lossiness = cloneMessages(messages), LossinessNone
	case StrategyTruncate:
		out, lossiness = c.truncate(messages, target), LossinessHigh
	case StrategyMinify:
		out, lossiness = c.minify(messages, opts.PreservePatterns), LossinessMinimal
	case StrategyExtract:
		out, lossiness = c.extract(messages, target, opts.PreservePatterns), LossinessModerate
	case StrategySummarize:
		out, err = c.summarize(ctx, messages, opts.SummaryPrompt)
		lossiness = LossinessHigh
	case StrategyHierarchical:
		out, err = c.hierarchical(ctx, messages, target, opts.SummaryPrompt)
		lossiness = LossinessHigh
	case StrategyToolAware:
		out, lossiness = c.toolAwarePass(messages, target, opts.PreservePatterns)
	default:
		return nil, fmt.Errorf("unknown compression strategy %q", opts.Strategy)
	}
	if err != nil {
		return nil, err
	}

	after := sumTokens(out)
	ratio := 1.0
	if before > 0 {
		ratio = float64(after) / float64(before)
	}
	return &CompressResult{
		Compressed: out,
		Ratio:      ratio,
		Strategy:   opts.Strategy,
		Lossiness:  lossiness,
	}, nil
}

// RecommendStrategy picks a strategy from the compression ratio needed and
// the available machinery.
func (c *Compressor) RecommendStrategy(current, target int, toolContent bool) Strategy {
	if current <= 0 {
		return StrategyNone
	}
	ratio := float64(target) / float64(current)
	switch {
	case ratio >= 1:
		return StrategyNone
	case ratio >= 0.8:
		return StrategyMinify
	case toolContent && ratio >= 0.3:
		return StrategyToolAware
	case ratio >= 0.5:
		return StrategyExtract
	case c.summarizer != nil && ratio >= 0.2:
		return StrategySummarize
	case c.summarizer != nil:
		return StrategyHierarchical
	case toolContent:
		return StrategyToolAware
	default:
		return StrategyTruncate
	}
}

func (c *Compressor) targetFor(before int, opts CompressOptions) int {
	if opts.TargetTokens > 0 {
		return opts.TargetTokens
	}
	if opts.TargetRatio > 0 && opts.TargetRatio < 1 {
		return int(float64(before) * opts.TargetRatio)
	}
	return before
}

// truncate keeps the newest messages that fit the budget.
func (c *Compressor) truncate(messages []*Message, target int) []*Message {
	kept := make([]*Message, 0, len(messages))
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if used+msg.Tokens > target {
			break
		}
		kept = append([]*Message{cloneMessage(msg)}, kept...)
		used += msg.Tokens
	}
	return kept
}

var blankLines = regexp.MustCompile(`\n{3,}`)
var trailingSpace = regexp.MustCompile(`[ \t]+\n`)
var spaceRuns = regexp.MustCompile(`[ \t]{2,}`)

// minify collapses whitespace while leaving preserved spans untouched.
func (c *Compressor) minify(messages []*Message, preserve []string) []*Message {
	preserved := compilePatterns(preserve)
	out := make([]*Message, 0, len(messages))
	for _, msg := range messages {
		clone := cloneMessage(msg)
		clone.SetContent(minifyText(msg.Text(), preserved))
		clone.Tokens = c.estimator.EstimateMessage(clone.Content)
		out = append(out, clone)
	}
	return out
}

func minifyText(text string, preserved []*regexp.Regexp) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if matchesAny(line, preserved) {
			continue
		}
		lines[i] = spaceRuns.ReplaceAllString(strings.TrimRight(line, " \t"), " ")
	}
	text = strings.Join(lines, "\n")
	text = trailingSpace.ReplaceAllString(text, "\n")
	return blankLines.ReplaceAllString(text, "\n\n")
}

var keywordPattern = regexp.MustCompile(`(?i)\b(error|warning|important|todo|fail|failed)\b`)
var codeSignature = regexp.MustCompile(`^\s*(func|def|class|type|interface|const|var)\s`)
var listItem = regexp.MustCompile(`^\s*([-*+]|\d+[.)])\s`)
var headerLine = regexp.MustCompile(`^\s*#{1,6}\s`)

// extract keeps the highest-scoring lines of each message within its share
// of the target, re-sorted into original order.
func (c *Compressor) extract(messages []*Message, target int, preserve []string) []*Message {
	if len(messages) == 0 {
		return nil
	}
	preserved := compilePatterns(preserve)
	perMessage := target / len(messages)
	if perMessage < 1 {
		perMessage = 1
	}

	out := make([]*Message, 0, len(messages))
	for _, msg := range messages {
		clone := cloneMessage(msg)
		clone.SetContent(extractLines(msg.Text(), perMessage, preserved, c.estimator))
		clone.Tokens = c.estimator.EstimateMessage(clone.Content)
		out = append(out, clone)
	}
	return out
}

type scoredLine struct {
	index int
	text  string
	score float64
}

func extractLines(text string, budget int, preserved []*regexp.Regexp, est *tokens.Estimator) string {
	lines := strings.Split(text, "\n")
	scored := make([]scoredLine, 0, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		score := 0.0
		if headerLine.MatchString(line) {
			score += 3
		}
		if listItem.MatchString(line) {
			score += 2
		}
		if keywordPattern.MatchString(line) {
			score += 3
		}
		if codeSignature.MatchString(line) {
			score += 2
		}
		if matchesAny(line, preserved) {
			score += 5
		}
		switch {
		case len(trimmed) < 8:
			score -= 1
		case len(trimmed) > 200:
			score -= 0.5
		default:
			score += 0.5
		}
		scored = append(scored, scoredLine{index: i, text: line, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	used := 0
	kept := make([]scoredLine, 0, len(scored))
	for _, sl := range scored {
		cost := est.EstimateText(sl.text)
		if used+cost > budget && len(kept) > 0 {
			continue
		}
		kept = append(kept, sl)
		used += cost
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].index < kept[j].index })
	parts := make([]string, len(kept))
	for i, sl := range kept {
		parts[i] = sl.text
	}
	return strings.Join(parts, "\n")
}

// summarize collapses all messages into a single non-compressible summary.
func (c *Compressor) summarize(ctx context.Context, messages []*Message, prompt string) ([]*Message, error) {
	if c.summarizer == nil {
		return nil, fmt.Errorf("summarize strategy requires a summarizer")
	}
	if len(messages) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Text())
		sb.WriteString("\n")
	}
	summary, err := c.summarizer(ctx, sb.String(), prompt)
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}
	msg := NewMessage(RoleAssistant, summary)
	msg.Compressible = false // summaries are never recompressed
	msg.Priority = PriorityHigh
	msg.Tokens = c.estimator.EstimateMessage(summary)
	return []*Message{msg}, nil
}

// hierarchical summarises fixed-size chunks, then the summaries themselves
// while still over target.
func (c *Compressor) hierarchical(ctx context.Context, messages []*Message, target int, prompt string) ([]*Message, error) {
	if c.summarizer == nil {
		return nil, fmt.Errorf("hierarchical strategy requires a summarizer")
	}
	current := messages
	for round := 0; round < 4 && len(current) > 1; round++ {
		var next []*Message
		for start := 0; start < len(current); start += hierarchicalChunkSize {
			end := start + hierarchicalChunkSize
			if end > len(current) {
				end = len(current)
			}
			chunk, err := c.summarize(ctx, current[start:end], prompt)
			if err != nil {
				return nil, err
			}
			next = append(next, chunk...)
		}
		current = next
		if sumTokens(current) <= target {
			break
		}
	}
	return current, nil
}

// toolAwarePass routes each message through its registered per-tool
// compressor, falling back to EXTRACT for unrecognised content.
func (c *Compressor) toolAwarePass(messages []*Message, target int, preserve []string) ([]*Message, Lossiness) {
	if len(messages) == 0 {
		return nil, LossinessModerate
	}
	current := sumTokens(messages)
	level := LevelForBudget(target, current)
	perMessage := target / len(messages)
	if perMessage < 1 {
		perMessage = 1
	}

	preserved := compilePatterns(preserve)
	out := make([]*Message, 0, len(messages))
	for _, msg := range messages {
		name := msg.ToolName
		if name == "" {
			name = c.toolAware.Sniff(msg.Text())
		}
		clone := cloneMessage(msg)
		if tc, ok := c.toolAware.Get(name); ok {
			clone.SetContent(tc.Compress(msg.Text(), level, perMessage))
		} else {
			clone.SetContent(extractLines(msg.Text(), perMessage, preserved, c.estimator))
		}
		clone.Tokens = c.estimator.EstimateMessage(clone.Content)
		out = append(out, clone)
	}
	return out, LossinessModerate
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
		}
	}
	return out
}

func matchesAny(line string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func cloneMessage(msg *Message) *Message {
	clone := *msg
	if msg.Attributes != nil {
		clone.Attributes = make(map[string]string, len(msg.Attributes))
		for k, v := range msg.Attributes {
			clone.Attributes[k] = v
		}
	}
	clone.Blocks = append([]ContentBlock(nil), msg.Blocks...)
	return &clone
}

func cloneMessages(msgs []*Message) []*Message {
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out
}
