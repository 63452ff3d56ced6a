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
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, defs ...Definition) *Resolver {
	t.Helper()
	reg := NewRegistry()
	for _, def := range defs {
		require.NoError(t, reg.Register(def))
	}
	return NewResolver(Config{}, reg)
}

func staticAlias(name, value string) Definition {
	return Definition{
		Name: name,
		Resolve: func(ctx context.Context, arg string) (string, error) {
			return value, nil
		},
	}
}

func TestResolveSimpleAlias(t *testing.T) {
	r := newTestResolver(t, staticAlias("selection", "3 rectangles selected"))

	res, err := r.Resolve(context.Background(), "Align @selection to the left", 0, Policy{})
	require.NoError(t, err)
	assert.Equal(t, "Align @selection to the left", res.ResolvedPrompt)
	assert.Contains(t, res.ContextSection, "## @selection")
	assert.Contains(t, res.ContextSection, "3 rectangles selected")
}

func TestResolveAliasWithArgument(t *testing.T) {
	r := newTestResolver(t, Definition{
		Name:       "layer",
		HasArgs:    true,
		ArgPattern: `^[a-z0-9-]+$`,
		Resolve: func(ctx context.Context, arg string) (string, error) {
			return "layer " + arg + " contents", nil
		},
	})

	res, err := r.Resolve(context.Background(), "Describe @layer(background)", 0, Policy{})
	require.NoError(t, err)
	assert.Contains(t, res.ContextSection, "layer background contents")
	assert.Equal(t, "layer background contents", res.Resolved["layer(background)"])
}

func TestResolveArgPatternRejected(t *testing.T) {
	r := newTestResolver(t, Definition{
		Name:       "layer",
		HasArgs:    true,
		ArgPattern: `^[a-z]+$`,
		Resolve: func(ctx context.Context, arg string) (string, error) {
			return "ok", nil
		},
	})

	res, err := r.Resolve(context.Background(), "Use @layer(NOT-VALID-123!)", 0, Policy{})
	require.NoError(t, err)
	// Invalid argument means the token never lexes as a valid call, or
	// resolution fails; either way the value must not appear.
	assert.NotContains(t, res.ContextSection, "ok")
}

func TestResolveEscapedAtIgnored(t *testing.T) {
	r := newTestResolver(t, staticAlias("selection", "value"))

	res, err := r.Resolve(context.Background(), "Email me @@selection details", 0, Policy{})
	require.NoError(t, err)
	assert.Empty(t, res.Resolved)
	assert.Equal(t, "Email me @selection details", res.ResolvedPrompt)
}

func TestResolveEscapedAndRealAliasCoexist(t *testing.T) {
	r := newTestResolver(t, Definition{
		Name: "flaky",
		Resolve: func(ctx context.Context, arg string) (string, error) {
			return "", fmt.Errorf("backend down")
		},
	})

	// The real reference is dropped under Skip; the escaped one must come
	// through as a literal @flaky, untouched by the replacement.
	res, err := r.Resolve(context.Background(), "Show @@flaky and @flaky", 0, Policy{Skip: true})
	require.NoError(t, err)
	assert.Equal(t, "Show @flaky and ", res.ResolvedPrompt)
}

func TestResolveUnknownAliasSkipped(t *testing.T) {
	r := newTestResolver(t)

	res, err := r.Resolve(context.Background(), "Ping @nosuchalias now", 0, Policy{})
	require.NoError(t, err)
	assert.Empty(t, res.Resolved)
	assert.Empty(t, res.Errors)
}

func TestResolveFailurePlaceholder(t *testing.T) {
	r := newTestResolver(t, Definition{
		Name: "flaky",
		Resolve: func(ctx context.Context, arg string) (string, error) {
			return "", fmt.Errorf("backend down")
		},
	})

	res, err := r.Resolve(context.Background(), "Check @flaky status", 0, Policy{})
	require.NoError(t, err)
	assert.Contains(t, res.ResolvedPrompt, "[unresolved: @flaky]")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "flaky", res.Errors[0].Alias)
}

func TestResolveFailFast(t *testing.T) {
	r := newTestResolver(t, Definition{
		Name: "flaky",
		Resolve: func(ctx context.Context, arg string) (string, error) {
			return "", fmt.Errorf("backend down")
		},
	})

	_, err := r.Resolve(context.Background(), "Check @flaky", 0, Policy{FailFast: true})
	assert.Error(t, err)
}

func TestResolveFallbackUsed(t *testing.T) {
	r := newTestResolver(t, Definition{
		Name: "flaky",
		Resolve: func(ctx context.Context, arg string) (string, error) {
			return "", fmt.Errorf("backend down")
		},
	})

	res, err := r.Resolve(context.Background(), "Check @flaky", 0, Policy{
		Fallbacks: map[string]string{"flaky": "cached value"},
	})
	require.NoError(t, err)
	assert.Contains(t, res.ContextSection, "cached value")
	assert.Empty(t, res.Errors)
}

func TestResolveRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	r := newTestResolver(t, Definition{
		Name: "eventually",
		Resolve: func(ctx context.Context, arg string) (string, error) {
			if calls.Add(1) < 3 {
				return "", fmt.Errorf("transient")
			}
			return "finally", nil
		},
	})

	res, err := r.Resolve(context.Background(), "Get @eventually", 0, Policy{})
	require.NoError(t, err)
	assert.Contains(t, res.ContextSection, "finally")
	assert.Equal(t, int32(3), calls.Load(), "default policy retries twice after the first attempt")
}

func TestResolveTimeoutSurfacesError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name: "slow",
		Resolve: func(ctx context.Context, arg string) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))
	r := NewResolver(Config{Timeout: 20 * time.Millisecond, Retries: 1}, reg)

	res, err := r.Resolve(context.Background(), "Get @slow", 0, Policy{})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
}

func TestResolveCachesWithinTTL(t *testing.T) {
	var calls atomic.Int32
	r := newTestResolver(t, Definition{
		Name: "counted",
		Resolve: func(ctx context.Context, arg string) (string, error) {
			calls.Add(1)
			return "v", nil
		},
	})

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "Get @counted", 0, Policy{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load(), "cached value served within TTL")
}

func TestResolveDeterministicOrder(t *testing.T) {
	r := newTestResolver(t,
		staticAlias("alpha", "A"),
		staticAlias("beta", "B"),
	)

	res, err := r.Resolve(context.Background(), "Use @beta then @alpha", 0, Policy{})
	require.NoError(t, err)
	// Merged in order of first occurrence in the prompt.
	assert.Less(t,
		indexOf(res.ContextSection, "## @beta"),
		indexOf(res.ContextSection, "## @alpha"))
}

func TestResolveBudgetCapsSection(t *testing.T) {
	big := ""
	for i := 0; i < 500; i++ {
		big += "resource context line with plenty of detail\n"
	}
	r := newTestResolver(t, staticAlias("huge", big))

	res, err := r.Resolve(context.Background(), "Use @huge", 1000, Policy{})
	require.NoError(t, err)
	// Cap is 10% of remaining budget.
	assert.LessOrEqual(t, res.TokensUsed, 100+10)
}

func TestRegistryValidation(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(Definition{Name: ""}))
	assert.Error(t, reg.Register(Definition{Name: "x"}))
	assert.Error(t, reg.Register(Definition{Name: "x", ArgPattern: "([", Resolve: func(ctx context.Context, arg string) (string, error) { return "", nil }}))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
