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

// Package delegation decides whether a task runs in the parent loop, in an
// isolated sub-loop, or as several parallel isolated sub-loops, and runs the
// sub-loops under explicit contracts.
package delegation

import (
	"fmt"
	"regexp"
	"strings"
)

// Strategy is how a task gets executed.
type Strategy string

const (
	StrategyDirect           Strategy = "direct"
	StrategyIsolated         Strategy = "isolated"
	StrategyParallelIsolated Strategy = "parallel-isolated"
)

// TaskProfile is the analysed shape of a task feeding the decision rules.
type TaskProfile struct {
	EstimatedOperations int
	Specialists         int
	IndependentSubtasks int
	MultipleGoals       bool
	HighRisk            bool
	RemainingBudget     int
	UserOverride        Strategy
}

// Decision is the outcome of the rule ladder.
type Decision struct {
	Strategy   Strategy `json:"strategy"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
	Warnings   []string `json:"warnings,omitempty"`
}

const lowBudgetThreshold = 20_000

// Decide applies the ordered rule ladder to a task profile. Rules are
// evaluated top to bottom; the first match wins.
func Decide(p TaskProfile) Decision {
	switch {
	case p.UserOverride != "":
		return Decision{Strategy: p.UserOverride, Reason: "user override", Confidence: 1.0}
	case p.EstimatedOperations <= 3 && p.Specialists == 0 && !p.MultipleGoals:
		return Decision{Strategy: StrategyDirect, Reason: "small single-goal task", Confidence: 0.9}
	case p.HighRisk:
		return Decision{
			Strategy: StrategyIsolated, Reason: "high-risk operations run isolated", Confidence: 0.85,
			Warnings: []string{"destructive verbs detected; changes are scoped to the work region"},
		}
	case p.IndependentSubtasks >= 2:
		return Decision{Strategy: StrategyParallelIsolated, Reason: "independent subtasks parallelise", Confidence: 0.8}
	case p.Specialists >= 2:
		return Decision{Strategy: StrategyIsolated, Reason: "multiple specialists implied", Confidence: 0.7}
	case p.RemainingBudget > 0 && p.RemainingBudget < lowBudgetThreshold && p.EstimatedOperations > 5:
		return Decision{Strategy: StrategyIsolated, Reason: "low token budget for a long task", Confidence: 0.7}
	case p.EstimatedOperations > 10:
		return Decision{Strategy: StrategyIsolated, Reason: "long operation sequence", Confidence: 0.65}
	case p.Specialists == 1:
		return Decision{Strategy: StrategyDirect, Reason: "single specialist, moderate size", Confidence: 0.6}
	default:
		return Decision{Strategy: StrategyDirect, Reason: "default", Confidence: 0.5}
	}
}

var (
	highRiskRe = regexp.MustCompile(`(?i)\b(delete all|replace all|clear|wipe|remove every)\b`)
	verbRe     = regexp.MustCompile(`(?i)\b(create|add|draw|move|update|resize|delete|align|arrange|fill|connect|label)\b`)
	// splitRe separates subtasks on sequencing words, semicolons and list
	// commas. The comma needs trailing whitespace so "1,000" stays whole;
	// ", and" collapses into one separator.
	splitRe = regexp.MustCompile(`(?i)\s*(?:\band then\b|\bthen\b|\band also\b|;|,)\s+(?:and\s+)?`)
)

// AnalyzeTask derives a profile from free-form task text. remainingBudget
// comes from the caller's context manager.
func AnalyzeTask(task string, remainingBudget int) TaskProfile {
	verbs := verbRe.FindAllString(task, -1)
	parts := splitRe.Split(task, -1)

	independent := 0
	if len(parts) >= 2 && !strings.Contains(strings.ToLower(task), "then") {
		independent = len(parts)
	}

	ops := len(verbs)
	if ops == 0 {
		ops = 1
	}
	// Numeric multipliers ("create 12 boxes") raise the estimate.
	if m := regexp.MustCompile(`\b(\d{1,3})\b`).FindStringSubmatch(task); m != nil {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if n > ops {
			ops = n
		}
	}

	return TaskProfile{
		EstimatedOperations: ops,
		IndependentSubtasks: independent,
		MultipleGoals:       len(parts) > 1,
		HighRisk:            highRiskRe.MatchString(task),
		RemainingBudget:     remainingBudget,
	}
}
