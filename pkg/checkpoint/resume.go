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

package checkpoint

import (
	"context"
	"fmt"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/agent"
	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/monitor"
)

// NewCheckpointer adapts a store into the agent's checkpoint hook. The
// manager is captured so the hook can serialise the live conversation.
func NewCheckpointer(store Store, mgr *memory.Manager) agent.Checkpointer {
	return func(ctx context.Context, sessionID string, state *agent.LoopState) error {
		return store.Save(ctx, Capture(sessionID, mgr, state))
	}
}

// Assess grades a document against the live backend before resumption.
// Contradictions come from comparing the saved snapshot to current state:
// saved element ids that no longer exist, and count drift.
func Assess(ctx context.Context, doc *Document, backend adapter.ActionAdapter) monitor.StalenessReport {
	meta := doc.Metadata.LastStateSnapshot
	if meta == nil {
		// Nothing was ever observed; resume on age of the document alone.
		return monitor.AssessStaleness(doc.UpdatedAt, nil)
	}

	var contradictions []string
	if backend != nil {
		if live, err := backend.GetState(ctx, nil); err == nil {
			liveIDs := make(map[string]bool, len(live.ElementIDs))
			for _, id := range live.ElementIDs {
				liveIDs[id] = true
			}
			for _, id := range meta.ElementIDs {
				if !liveIDs[id] {
					contradictions = append(contradictions,
						fmt.Sprintf("element %s from the saved snapshot no longer exists", id))
				}
			}
			if live.ElementCount != meta.ElementCount {
				contradictions = append(contradictions,
					fmt.Sprintf("element count changed from %d to %d since the snapshot",
						meta.ElementCount, live.ElementCount))
			}
		}
	}

	return monitor.AssessStaleness(meta.Timestamp, contradictions)
}

// Resume loads a session, checks staleness, and restores memory when the
// document is safe to resume. The report is returned either way so callers
// can surface the recommendation.
func Resume(ctx context.Context, store Store, sessionID string, mgr *memory.Manager, backend adapter.ActionAdapter) (*Document, monitor.StalenessReport, error) {
	doc, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, monitor.StalenessReport{}, err
	}

	report := Assess(ctx, doc, backend)
	if !report.CanResume {
		return doc, report, fmt.Errorf("session %s cannot resume: %s", sessionID, report.Recommendation)
	}

	Restore(doc, mgr)
	return doc, report, nil
}
