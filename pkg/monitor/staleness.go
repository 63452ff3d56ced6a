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

package monitor

import (
	"fmt"
	"time"
)

// StalenessLevel grades how old a resumed session's snapshot is.
type StalenessLevel string

const (
	StalenessLow      StalenessLevel = "low"
	StalenessMedium   StalenessLevel = "medium"
	StalenessHigh     StalenessLevel = "high"
	StalenessCritical StalenessLevel = "critical"
)

// StalenessReport assesses whether a persisted session can safely resume.
type StalenessReport struct {
	Age            time.Duration  `json:"age"`
	Level          StalenessLevel `json:"level"`
	Contradictions []string       `json:"contradictions,omitempty"`
	CanResume      bool           `json:"can_resume"`
	Recommendation string         `json:"recommendation"`
}

// AssessStaleness grades snapshot age and merges contradictions found while
// loading. Critical age blocks resumption.
func AssessStaleness(snapshotAt time.Time, contradictions []string) StalenessReport {
	age := time.Since(snapshotAt)

	var level StalenessLevel
	switch {
	case age <= time.Hour:
		level = StalenessLow
	case age <= 24*time.Hour:
		level = StalenessMedium
	case age <= 4*24*time.Hour:
		level = StalenessHigh
	default:
		level = StalenessCritical
	}

	report := StalenessReport{
		Age:            age,
		Level:          level,
		Contradictions: contradictions,
		CanResume:      level != StalenessCritical,
	}

	switch level {
	case StalenessLow:
		report.Recommendation = "State is fresh; resume directly."
	case StalenessMedium:
		report.Recommendation = "Refresh the state snapshot before acting."
	case StalenessHigh:
		report.Recommendation = fmt.Sprintf("Snapshot is %s old; re-verify identifiers before any mutation.", age.Round(time.Hour))
	case StalenessCritical:
		report.Recommendation = "Snapshot is too old to trust; start a fresh session."
	}
	return report
}
