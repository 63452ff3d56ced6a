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

// Package resources expands @alias(arg) references in prompts against a
// registry of resource providers. The resolver never calls the LLM; it only
// consults registered providers.
package resources

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/inletlabs/toad/pkg/tokens"
)

// ResolveFunc produces the text behind an alias. arg is empty for aliases
// without arguments.
type ResolveFunc func(ctx context.Context, arg string) (string, error)

// Definition describes one registered alias.
type Definition struct {
	Name        string
	Description string
	HasArgs     bool
	ArgPattern  string // optional regexp validating the argument
	Resolve     ResolveFunc

	argRe *regexp.Regexp
}

// Policy controls failure behaviour during resolution.
type Policy struct {
	FailFast  bool              // abort the whole pass on first failure
	Skip      bool              // drop failed aliases silently (no placeholder)
	Fallbacks map[string]string // alias name -> static fallback text
	OnError   func(name string, err error)
}

// Config tunes the resolver.
type Config struct {
	Timeout             time.Duration `yaml:"timeout"`
	Retries             int           `yaml:"retries"`
	CacheTTL            time.Duration `yaml:"cache_ttl"`
	CacheSize           int           `yaml:"cache_size"`
	ResourceBudgetRatio float64       `yaml:"resource_budget_ratio"`
}

func (c *Config) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 500 * time.Millisecond
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = 2
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	if c.ResourceBudgetRatio <= 0 || c.ResourceBudgetRatio > 1 {
		c.ResourceBudgetRatio = 0.10
	}
}

// AliasError records one failed resolution.
type AliasError struct {
	Alias   string
	Message string
}

// Resolution is the outcome of expanding one prompt.
type Resolution struct {
	ResolvedPrompt string
	ContextSection string
	Resolved       map[string]string
	Errors         []AliasError
	TokensUsed     int
}

// aliasToken matches @name or @name(arg). "@@" escapes a literal @.
var aliasToken = regexp.MustCompile(`@([a-zA-Z_][a-zA-Z0-9_-]*)(?:\(([^)]*)\))?`)

// Resolver expands aliases with per-call timeout, bounded retries and an
// expiring cache of resolved values.
type Resolver struct {
	config   Config
	registry *Registry
	cache    *expirable.LRU[string, string]
}

func NewResolver(config Config, registry *Registry) *Resolver {
	config.SetDefaults()
	if registry == nil {
		registry = NewRegistry()
	}
	return &Resolver{
		config:   config,
		registry: registry,
		cache:    expirable.NewLRU[string, string](config.CacheSize, nil, config.CacheTTL),
	}
}

func (r *Resolver) Registry() *Registry { return r.registry }

type aliasRef struct {
	name  string
	arg   string
	order int
}

// Resolve expands every alias in prompt. Independent aliases resolve
// concurrently; results merge in order of first occurrence. remainingBudget
// caps the context section via the configured ratio (0 disables the cap).
func (r *Resolver) Resolve(ctx context.Context, prompt string, remainingBudget int, policy Policy) (*Resolution, error) {
	refs := r.lex(prompt)
	// Replacements run against the masked prompt so escaped references stay
	// literal; the mask collapses to a single @ at the end.
	res := &Resolution{
		ResolvedPrompt: maskEscapes(prompt),
		Resolved:       make(map[string]string),
	}
	if len(refs) == 0 {
		res.ResolvedPrompt = unmask(res.ResolvedPrompt)
		return res, nil
	}

	type outcome struct {
		ref   aliasRef
		value string
		err   error
	}

	outcomes := make([]outcome, len(refs))
	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref aliasRef) {
			defer wg.Done()
			value, err := r.resolveOne(ctx, ref)
			outcomes[i] = outcome{ref: ref, value: value, err: err}
		}(i, ref)
	}
	wg.Wait()

	// Merge deterministically by first occurrence.
	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].ref.order < outcomes[j].ref.order })

	var section strings.Builder
	for _, out := range outcomes {
		key := refKey(out.ref)
		if out.err != nil {
			if policy.OnError != nil {
				policy.OnError(out.ref.name, out.err)
			}
			if policy.FailFast {
				return nil, fmt.Errorf("alias @%s failed: %w", out.ref.name, out.err)
			}
			if fallback, ok := policy.Fallbacks[out.ref.name]; ok {
				out.value = fallback
			} else {
				res.Errors = append(res.Errors, AliasError{Alias: out.ref.name, Message: out.err.Error()})
				if policy.Skip {
					res.ResolvedPrompt = replaceRef(res.ResolvedPrompt, out.ref, "")
					continue
				}
				placeholder := fmt.Sprintf("[unresolved: @%s]", out.ref.name)
				res.ResolvedPrompt = replaceRef(res.ResolvedPrompt, out.ref, placeholder)
				continue
			}
		}

		res.Resolved[key] = out.value
		res.ResolvedPrompt = replaceRef(res.ResolvedPrompt, out.ref, "@"+out.ref.name)
		fmt.Fprintf(&section, "## @%s\n%s\n\n", refLabel(out.ref), out.value)
	}

	res.ResolvedPrompt = unmask(res.ResolvedPrompt)
	res.ContextSection = strings.TrimSpace(section.String())

	if remainingBudget > 0 {
		est := tokens.NewEstimator()
		limit := int(float64(remainingBudget) * r.config.ResourceBudgetRatio)
		if est.EstimateText(res.ContextSection) > limit {
			res.ContextSection = trimToBudget(res.ContextSection, limit, est)
		}
		res.TokensUsed = est.EstimateText(res.ContextSection)
	}
	return res, nil
}

// lex scans the prompt for alias tokens, longest match first, honouring the
// @@ escape. Duplicate references resolve once.
func (r *Resolver) lex(prompt string) []aliasRef {
	seen := make(map[string]bool)
	var refs []aliasRef

	cleaned := maskEscapes(prompt)
	matches := aliasToken.FindAllStringSubmatch(cleaned, -1)
	for _, m := range matches {
		name, arg := m[1], m[2]
		if _, ok := r.registry.Lookup(name); !ok {
			continue
		}
		ref := aliasRef{name: name, arg: arg, order: len(refs)}
		key := refKey(ref)
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, ref)
	}
	return refs
}

func (r *Resolver) resolveOne(ctx context.Context, ref aliasRef) (string, error) {
	def, ok := r.registry.Lookup(ref.name)
	if !ok {
		return "", fmt.Errorf("unknown alias")
	}
	if def.HasArgs && def.argRe != nil && !def.argRe.MatchString(ref.arg) {
		return "", fmt.Errorf("argument %q does not match pattern %s", ref.arg, def.ArgPattern)
	}
	if !def.HasArgs && ref.arg != "" {
		return "", fmt.Errorf("alias takes no argument")
	}

	key := refKey(ref)
	if value, ok := r.cache.Get(key); ok {
		return value, nil
	}

	var lastErr error
	attempts := r.config.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		value, err := def.Resolve(callCtx, ref.arg)
		cancel()
		if err == nil {
			r.cache.Add(key, value)
			return value, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func refKey(ref aliasRef) string {
	if ref.arg == "" {
		return ref.name
	}
	return ref.name + "(" + ref.arg + ")"
}

func refLabel(ref aliasRef) string { return refKey(ref) }

func replaceRef(prompt string, ref aliasRef, replacement string) string {
	token := "@" + ref.name
	if ref.arg != "" {
		token = fmt.Sprintf("@%s(%s)", ref.name, ref.arg)
	}
	return strings.ReplaceAll(prompt, token, replacement)
}

// maskEscapes blanks "@@" sequences so the token scanner and replacements
// skip them.
func maskEscapes(prompt string) string {
	return strings.ReplaceAll(prompt, "@@", "\x00\x00")
}

// unmask collapses a masked escape into the literal @ it stands for.
func unmask(prompt string) string {
	return strings.ReplaceAll(prompt, "\x00\x00", "@")
}

func trimToBudget(text string, budget int, est *tokens.Estimator) string {
	if budget <= 0 {
		return ""
	}
	limit := int(float64(budget) * 3.5)
	for limit > 0 && limit < len(text) {
		candidate := text[:limit]
		if est.EstimateText(candidate) <= budget {
			return candidate + "\n[resource context truncated]"
		}
		limit = limit * 9 / 10
	}
	if est.EstimateText(text) <= budget {
		return text
	}
	return ""
}
