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

// Package monitor defends the loop against echo poisoning: tool results that
// reference identifiers which no longer exist, repeated identical errors, and
// awareness contradicting the latest state snapshot. Detected issues become
// textual corrections injected into the next iteration.
package monitor

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/protocol"
)

// Issue types reported by ValidateToolResult.
const (
	IssueInvalidID  = "invalid_id"
	IssueStaleState = "stale_state"
)

// Issue is one detected inconsistency between a tool result and known state.
type Issue struct {
	Type    string `json:"type"`
	Claimed string `json:"claimed"`
}

// Validation is the outcome of checking one tool result.
type Validation struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues,omitempty"`
}

// LoopDetection reports a run of identical errors in one scope.
type LoopDetection struct {
	Detected bool   `json:"detected"`
	Count    int    `json:"count"`
	Message  string `json:"message"`
}

// Config tunes the monitor.
type Config struct {
	// LoopThreshold is the number of consecutive identical error messages
	// in one scope that counts as a loop. Default 3.
	LoopThreshold int `yaml:"loop_threshold"`
	// FingerprintWindow caps the FIFO of recent call fingerprints. Default 20.
	FingerprintWindow int `yaml:"fingerprint_window"`
	// CountDrift is the element-count difference between a result's claim
	// and the snapshot that counts as significant. Default 10.
	CountDrift int `yaml:"count_drift"`
}

func (c *Config) SetDefaults() {
	if c.LoopThreshold <= 0 {
		c.LoopThreshold = 3
	}
	if c.FingerprintWindow <= 0 {
		c.FingerprintWindow = 20
	}
	if c.CountDrift <= 0 {
		c.CountDrift = 10
	}
}

type fingerprint struct {
	tool  string
	args  string
	error string
}

type errorRun struct {
	message string
	count   int
}

// Monitor keeps a bounded fingerprint history, per-scope error runs and a
// queue of pending corrections. Safe for concurrent use.
type Monitor struct {
	config Config
	log    *slog.Logger

	mu           sync.Mutex
	fingerprints []fingerprint
	errorRuns    map[string]*errorRun
	corrections  []string
}

func New(config Config) *Monitor {
	config.SetDefaults()
	return &Monitor{
		config:    config,
		log:       slog.Default().With("component", "monitor"),
		errorRuns: make(map[string]*errorRun),
	}
}

// RecordCall appends a call fingerprint to the FIFO window.
func (m *Monitor) RecordCall(tool string, args map[string]interface{}, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fingerprints = append(m.fingerprints, fingerprint{
		tool:  tool,
		args:  normalizeArgs(args),
		error: errMsg,
	})
	if len(m.fingerprints) > m.config.FingerprintWindow {
		m.fingerprints = m.fingerprints[len(m.fingerprints)-m.config.FingerprintWindow:]
	}
}

// RepeatCount returns how many fingerprints in the window match the given
// call exactly, including its error.
func (m *Monitor) RepeatCount(tool string, args map[string]interface{}, errMsg string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := fingerprint{tool: tool, args: normalizeArgs(args), error: errMsg}
	n := 0
	for _, fp := range m.fingerprints {
		if fp == want {
			n++
		}
	}
	return n
}

// ValidateToolResult checks a tool result against the last known snapshot.
// Identifiers the result references that the snapshot does not know produce
// invalid_id issues; a claimed element count drifting beyond the configured
// threshold produces a stale_state issue. A nil snapshot validates trivially.
func (m *Monitor) ValidateToolResult(tool string, result protocol.Result, lastSnapshot *adapter.StateSnapshot) Validation {
	v := Validation{Valid: true}
	if lastSnapshot == nil || result.Data == nil {
		return v
	}

	for _, id := range referencedIDs(result.Data) {
		if !lastSnapshot.HasID(id) {
			v.Issues = append(v.Issues, Issue{Type: IssueInvalidID, Claimed: id})
		}
	}

	if claimed, ok := claimedCount(result.Data); ok {
		drift := claimed - lastSnapshot.ElementCount
		if drift < 0 {
			drift = -drift
		}
		if drift >= m.config.CountDrift {
			v.Issues = append(v.Issues, Issue{
				Type:    IssueStaleState,
				Claimed: fmt.Sprintf("element count %d (snapshot has %d)", claimed, lastSnapshot.ElementCount),
			})
		}
	}

	if len(v.Issues) > 0 {
		v.Valid = false
		m.log.Warn("tool result failed echo validation", "tool", tool, "issues", len(v.Issues))
	}
	return v
}

// DetectErrorLoop tracks consecutive identical error messages per scope. A
// different message resets the run. nil is returned below the threshold.
func (m *Monitor) DetectErrorLoop(message, scope string) *LoopDetection {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.errorRuns[scope]
	if !ok || run.message != message {
		run = &errorRun{message: message}
		m.errorRuns[scope] = run
	}
	run.count++

	if run.count < m.config.LoopThreshold {
		return nil
	}
	m.log.Warn("error loop detected", "scope", scope, "count", run.count)
	return &LoopDetection{Detected: true, Count: run.count, Message: message}
}

// ClearErrorRun resets the error run for a scope after a successful call.
func (m *Monitor) ClearErrorRun(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errorRuns, scope)
}

// AddInvalidIdCorrection queues a corrective note about a hallucinated id.
func (m *Monitor) AddInvalidIdCorrection(id string) {
	m.addCorrection(fmt.Sprintf(
		"CORRECTION: the identifier %q does not exist in the current state. Do not reference it again; query the current state to find valid identifiers.", id))
}

// AddRepeatedErrorCorrection queues a corrective note about an error loop.
func (m *Monitor) AddRepeatedErrorCorrection(scope string, count int) {
	m.addCorrection(fmt.Sprintf(
		"CORRECTION: the last %d attempts of %s failed with the same error. Stop repeating the call; change the approach or ask for clarification.", count, scope))
}

// AddStaleStateCorrection queues a corrective note about contradicted state.
func (m *Monitor) AddStaleStateCorrection(claimed string) {
	m.addCorrection(fmt.Sprintf(
		"CORRECTION: a recent tool result claimed %s, which contradicts the latest state snapshot. Trust the snapshot.", claimed))
}

func (m *Monitor) addCorrection(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections = append(m.corrections, text)
}

// PopPendingCorrections drains queued corrections as one block, or returns
// false when none are pending.
func (m *Monitor) PopPendingCorrections() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.corrections) == 0 {
		return "", false
	}
	text := strings.Join(m.corrections, "\n")
	m.corrections = nil
	return text, true
}

// referencedIDs collects identifier strings a result payload references:
// "id" values, "ids"/"element_ids" lists, and nested "elements" entries.
func referencedIDs(data map[string]interface{}) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(v interface{}) {
		if s, ok := v.(string); ok && s != "" && !seen[s] {
			seen[s] = true
			ids = append(ids, s)
		}
	}

	add(data["id"])
	for _, key := range []string{"ids", "element_ids"} {
		if list, ok := data[key].([]interface{}); ok {
			for _, v := range list {
				add(v)
			}
		}
		if list, ok := data[key].([]string); ok {
			for _, v := range list {
				add(v)
			}
		}
	}
	if list, ok := data["elements"].([]interface{}); ok {
		for _, v := range list {
			if el, ok := v.(map[string]interface{}); ok {
				add(el["id"])
			}
		}
	}
	if list, ok := data["elements"].([]map[string]interface{}); ok {
		for _, el := range list {
			add(el["id"])
		}
	}
	return ids
}

// claimedCount extracts an element-count claim from a result payload.
func claimedCount(data map[string]interface{}) (int, bool) {
	for _, key := range []string{"element_count", "count"} {
		switch n := data[key].(type) {
		case int:
			return n, true
		case float64:
			return int(n), true
		}
	}
	return 0, false
}

// normalizeArgs renders args deterministically for fingerprinting.
func normalizeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%v;", k, args[k])
	}
	return sb.String()
}
