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

package observability

import (
	"time"

	"github.com/inletlabs/toad/pkg/agent"
)

// Recorder translates one run's event stream into metrics. Create one per
// run; Observe every event in order.
type Recorder struct {
	metrics *Metrics
	started time.Time
}

func NewRecorder(metrics *Metrics) *Recorder {
	metrics.ActiveSessions.Inc()
	return &Recorder{metrics: metrics, started: time.Now()}
}

// Observe records one event. Terminal events close out the run.
func (r *Recorder) Observe(event agent.Event) {
	m := r.metrics
	switch event.Type {
	case agent.EventThinking:
		m.IterationsTotal.Inc()

	case agent.EventObserving:
		tool, _ := event.Data["tool"].(string)
		status := "ok"
		if ok, _ := event.Data["success"].(bool); !ok {
			status = "error"
		}
		m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
		if ms, ok := event.Data["duration_ms"].(int64); ok {
			m.ToolDuration.WithLabelValues(tool).Observe(float64(ms) / 1000)
		}

	case agent.EventBlocked:
		tool, _ := event.Data["tool"].(string)
		m.ToolCallsTotal.WithLabelValues(tool, "blocked").Inc()

	case agent.EventCorrection:
		m.CorrectionsTotal.WithLabelValues("monitor").Inc()

	case agent.EventCheckpoint:
		m.CheckpointsTotal.Inc()

	case agent.EventDelegating:
		strategy, _ := event.Data["strategy"].(string)
		m.DelegationsTotal.WithLabelValues(strategy).Inc()

	case agent.EventComplete, agent.EventFailed, agent.EventTimeout,
		agent.EventCancelled, agent.EventInterrupted:
		m.RunsTotal.WithLabelValues(string(event.Type)).Inc()
		m.RunDuration.Observe(time.Since(r.started).Seconds())
		m.ActiveSessions.Dec()
	}
}
