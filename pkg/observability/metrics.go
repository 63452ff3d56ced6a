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

// Package observability exposes Prometheus metrics and OpenTelemetry tracing
// for the task loop.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide instrument set.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	IterationsTotal prometheus.Counter
	ActiveSessions  prometheus.Gauge

	ToolCallsTotal *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec

	LLMRequestsTotal *prometheus.CounterVec
	LLMTokensTotal   *prometheus.CounterVec

	CompressionSavedTokens prometheus.Counter
	EvictionsTotal         prometheus.Counter
	CorrectionsTotal       *prometheus.CounterVec
	BreakerTransitions     *prometheus.CounterVec
	CheckpointsTotal       prometheus.Counter
	DelegationsTotal       *prometheus.CounterVec
}

// NewMetrics builds the instrument set on a private registry so tests can
// instantiate it repeatedly.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toad_runs_total",
			Help: "Completed runs by terminal outcome.",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "toad_run_duration_seconds",
			Help:    "Wall-clock duration of one run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		IterationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "toad_iterations_total",
			Help: "Loop iterations across all runs.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "toad_active_sessions",
			Help: "Sessions currently running.",
		}),

		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toad_tool_calls_total",
			Help: "Tool executions by tool and status.",
		}, []string{"tool", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toad_tool_duration_seconds",
			Help:    "Tool execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),

		LLMRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toad_llm_requests_total",
			Help: "LLM requests by provider and status.",
		}, []string{"provider", "status"}),
		LLMTokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toad_llm_tokens_total",
			Help: "Tokens exchanged with providers by direction.",
		}, []string{"provider", "direction"}),

		CompressionSavedTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "toad_compression_saved_tokens_total",
			Help: "Tokens reclaimed by context compression.",
		}),
		EvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "toad_context_evictions_total",
			Help: "Messages evicted under budget pressure.",
		}),
		CorrectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toad_corrections_total",
			Help: "Corrections injected by the execution monitor.",
		}, []string{"kind"}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toad_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"to"}),
		CheckpointsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "toad_checkpoints_total",
			Help: "Session checkpoints written.",
		}),
		DelegationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toad_delegations_total",
			Help: "Delegations by chosen strategy.",
		}, []string{"strategy"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
