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
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletlabs/toad/pkg/tokens"
)

func messagesOf(texts ...string) []*Message {
	est := tokens.NewEstimator()
	out := make([]*Message, len(texts))
	for i, text := range texts {
		msg := NewMessage(RoleUser, text)
		msg.Tokens = est.EstimateMessage(text)
		out[i] = msg
	}
	return out
}

func TestCompressNonePassThrough(t *testing.T) {
	c := NewCompressor(nil, nil)
	msgs := messagesOf("one", "two")

	res, err := c.Compress(context.Background(), msgs, CompressOptions{Strategy: StrategyNone})
	require.NoError(t, err)
	assert.Len(t, res.Compressed, 2)
	assert.InDelta(t, 1.0, res.Ratio, 0.001)
	assert.Equal(t, LossinessNone, res.Lossiness)
}

func TestCompressTruncateKeepsNewest(t *testing.T) {
	c := NewCompressor(nil, nil)
	msgs := messagesOf(
		strings.Repeat("old content here ", 30),
		strings.Repeat("middle content here ", 30),
		"newest",
	)
	target := msgs[2].Tokens + 1

	res, err := c.Compress(context.Background(), msgs, CompressOptions{
		Strategy:     StrategyTruncate,
		TargetTokens: target,
	})
	require.NoError(t, err)
	require.Len(t, res.Compressed, 1)
	assert.Equal(t, "newest", res.Compressed[0].Content)
	assert.Equal(t, LossinessHigh, res.Lossiness)
}

func TestCompressMinifyCollapsesWhitespace(t *testing.T) {
	c := NewCompressor(nil, nil)
	msgs := messagesOf("line one   with   runs\n\n\n\n\nline two\t\t \n")

	res, err := c.Compress(context.Background(), msgs, CompressOptions{Strategy: StrategyMinify})
	require.NoError(t, err)
	require.Len(t, res.Compressed, 1)
	out := res.Compressed[0].Content
	assert.NotContains(t, out, "   ")
	assert.NotContains(t, out, "\n\n\n")
	assert.Equal(t, LossinessMinimal, res.Lossiness)
}

func TestCompressMinifyPreservesPatternSpans(t *testing.T) {
	c := NewCompressor(nil, nil)
	msgs := messagesOf("keep    this    spacing\nnormal   line")

	res, err := c.Compress(context.Background(), msgs, CompressOptions{
		Strategy:         StrategyMinify,
		PreservePatterns: []string{`^keep`},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Compressed[0].Content, "keep    this    spacing")
}

func TestCompressExtractKeepsScoredLines(t *testing.T) {
	c := NewCompressor(nil, nil)
	body := strings.Join([]string{
		"# Section header",
		"filler filler filler filler",
		"error: something failed here",
		"more filler text of low value",
		"- important list item",
	}, "\n")
	msgs := messagesOf(body)

	res, err := c.Compress(context.Background(), msgs, CompressOptions{
		Strategy:     StrategyExtract,
		TargetTokens: msgs[0].Tokens / 2,
	})
	require.NoError(t, err)
	out := res.Compressed[0].Content
	assert.Contains(t, out, "error: something failed here")
	assert.Contains(t, out, "# Section header")

	// Kept lines stay in original order.
	assert.Less(t, strings.Index(out, "# Section header"), strings.Index(out, "error:"))
}

func TestCompressSummarizeRequiresSummarizer(t *testing.T) {
	c := NewCompressor(nil, nil)
	_, err := c.Compress(context.Background(), messagesOf("text"), CompressOptions{Strategy: StrategySummarize})
	assert.Error(t, err)
}

func TestCompressSummarizeProducesNonCompressibleSummary(t *testing.T) {
	summarizer := func(ctx context.Context, text, prompt string) (string, error) {
		return "summary of the conversation", nil
	}
	c := NewCompressor(nil, summarizer)

	res, err := c.Compress(context.Background(), messagesOf("a", "b", "c"), CompressOptions{Strategy: StrategySummarize})
	require.NoError(t, err)
	require.Len(t, res.Compressed, 1)
	assert.False(t, res.Compressed[0].Compressible, "summaries are never recompressed")
	assert.Equal(t, "summary of the conversation", res.Compressed[0].Content)
}

func TestCompressHierarchicalChunks(t *testing.T) {
	calls := 0
	summarizer := func(ctx context.Context, text, prompt string) (string, error) {
		calls++
		return fmt.Sprintf("chunk-summary-%d", calls), nil
	}
	c := NewCompressor(nil, summarizer)

	var texts []string
	for i := 0; i < 45; i++ {
		texts = append(texts, strings.Repeat("conversation turn content ", 5))
	}

	res, err := c.Compress(context.Background(), messagesOf(texts...), CompressOptions{
		Strategy:     StrategyHierarchical,
		TargetTokens: 50,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 3, "45 messages chunk into 3 summaries at 20 per chunk")
	assert.LessOrEqual(t, len(res.Compressed), 3)
}

func TestCompressToolAwarePreservesCriticalFields(t *testing.T) {
	c := NewCompressor(nil, nil)
	body := strings.Join([]string{
		`{"id": "el-42", "status": "ok",`,
		strings.Repeat("verbose narration line\n", 40),
		`"error": "none"}`,
	}, "\n")
	msg := NewMessage(RoleTool, body)
	msg.ToolName = "task_execute"
	msg.Tokens = tokens.NewEstimator().EstimateMessage(body)

	res, err := c.Compress(context.Background(), []*Message{msg}, CompressOptions{
		Strategy:     StrategyToolAware,
		TargetTokens: msg.Tokens / 4,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Compressed[0].Content, "el-42")
}

func TestCompressIdempotentRatio(t *testing.T) {
	c := NewCompressor(nil, nil)
	body := strings.Repeat("some    spaced     content\n\n\n\n", 20)
	msgs := messagesOf(body)

	opts := CompressOptions{Strategy: StrategyMinify}
	first, err := c.Compress(context.Background(), msgs, opts)
	require.NoError(t, err)

	second, err := c.Compress(context.Background(), first.Compressed, opts)
	require.NoError(t, err)

	// Idempotence at target: recompressing changes the ratio by at most 2%.
	assert.LessOrEqual(t, math.Abs(second.Ratio-1.0), 0.02)
}

func TestRecommendStrategyPolicy(t *testing.T) {
	summarizer := func(ctx context.Context, text, prompt string) (string, error) { return "s", nil }

	tests := []struct {
		name        string
		current     int
		target      int
		toolContent bool
		summarizer  bool
		want        Strategy
	}{
		{"fits", 100, 100, false, false, StrategyNone},
		{"near_fit", 100, 85, false, false, StrategyMinify},
		{"tool_mid", 100, 50, true, false, StrategyToolAware},
		{"extract_band", 100, 60, false, false, StrategyExtract},
		{"summarize_band", 100, 30, false, true, StrategySummarize},
		{"hierarchical_floor", 100, 10, false, true, StrategyHierarchical},
		{"tool_floor", 100, 10, true, false, StrategyToolAware},
		{"truncate_fallback", 100, 10, false, false, StrategyTruncate},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var c *Compressor
			if tc.summarizer {
				c = NewCompressor(nil, summarizer)
			} else {
				c = NewCompressor(nil, nil)
			}
			assert.Equal(t, tc.want, c.RecommendStrategy(tc.current, tc.target, tc.toolContent))
		})
	}
}

func TestUnknownStrategyErrors(t *testing.T) {
	c := NewCompressor(nil, nil)
	_, err := c.Compress(context.Background(), messagesOf("x"), CompressOptions{Strategy: "bogus"})
	assert.Error(t, err)
}
