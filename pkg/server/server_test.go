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

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/agent"
	"github.com/inletlabs/toad/pkg/config"
	"github.com/inletlabs/toad/pkg/llms"
	"github.com/inletlabs/toad/pkg/memory"
	"github.com/inletlabs/toad/pkg/observability"
	"github.com/inletlabs/toad/pkg/protocol"
	"github.com/inletlabs/toad/pkg/tools"
)

// testFactory builds agents against a shared in-memory backend and a
// scripted provider: one create call, then a stop turn.
func testFactory(t *testing.T) AgentFactory {
	t.Helper()
	backend := adapter.NewInMemAdapter()
	backend.Connect(context.Background())

	return func() (*agent.Agent, error) {
		mock := llms.NewMockProvider(
			&llms.Response{
				FinishReason: llms.FinishToolCalls,
				ToolCalls: []protocol.ToolCall{{
					Name: "task_execute",
					Args: map[string]interface{}{
						"action": "create",
						"params": map[string]interface{}{"type": "rect"},
					},
				}},
			},
			&llms.Response{Text: "created one rectangle", FinishReason: llms.FinishStop},
		)
		providers := llms.NewRegistry()
		providers.Register(mock)

		mgr := memory.NewManager(memory.ManagerConfig{MaxTokens: 50_000}, nil, nil)
		env := &tools.Env{Memory: mgr, Adapter: backend}
		dispatcher := tools.NewDispatcher(tools.DispatcherConfig{}, nil)
		tools.RegisterBuiltins(dispatcher, env)

		return agent.New(agent.Config{MaxIterations: 5}, agent.Deps{
			Providers:  providers,
			Memory:     mgr,
			Dispatcher: dispatcher,
			Env:        env,
			Adapter:    backend,
		})
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(config.ServerConfig{}, testFactory(t),
		WithMetrics(observability.NewMetrics()),
		WithInfo(Info{Version: "test", Providers: []string{"mock"}, DefaultProvider: "mock"}))
}

func parseFrames(t *testing.T, body []byte) ([]Frame, bool) {
	t.Helper()
	var frames []Frame
	done := false
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			done = true
			continue
		}
		var frame Frame
		require.NoError(t, json.Unmarshal([]byte(payload), &frame))
		frames = append(frames, frame)
	}
	return frames, done
}

func typesOf(frames []Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"defaultProvider":"mock"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestChatStreamsFramesAndDone(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("POST", "/chat",
		strings.NewReader(`{"message":"create a rectangle"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames, done := parseFrames(t, rec.Body.Bytes())
	require.True(t, done, "stream ends with [DONE]")

	types := typesOf(frames)
	assert.Equal(t, "data-system", types[0])
	assert.Contains(t, types, "data-acting")
	assert.Contains(t, types, "data-observing")

	// The completion summary arrives as a text triple before data-complete.
	assert.Contains(t, types, "text-start")
	assert.Contains(t, types, "text-delta")
	assert.Contains(t, types, "text-end")
	assert.Equal(t, "data-complete", types[len(types)-1])

	for _, f := range frames {
		if f.Type == "text-delta" {
			assert.Equal(t, "created one rectangle", f.Delta)
		}
	}
}

func TestCommandLeadsWithModeEvent(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("POST", "/command",
		strings.NewReader(`{"message":"create a rectangle","command":"build"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	frames, done := parseFrames(t, rec.Body.Bytes())
	require.True(t, done)
	require.NotEmpty(t, frames)
	assert.Equal(t, "data-mode", frames[0].Type)
	assert.Equal(t, "build", frames[0].Data["mode"])
}

func TestChatSyncReturnsSummary(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("POST", "/chat-sync",
		strings.NewReader(`{"message":"create a rectangle"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var res syncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "created one rectangle", res.Summary)
	assert.Equal(t, "complete", res.Outcome)
	assert.NotEmpty(t, res.SessionID)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("POST", "/chat", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestInterruptUnknownSessionIs404(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("POST", "/sessions/sess-x/interrupt", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestMetricsEndpointMounted(t *testing.T) {
	srv := newTestServer(t)

	// Run one chat so counters move.
	req := httptest.NewRequest("POST", "/chat-sync",
		strings.NewReader(`{"message":"create a rectangle"}`))
	srv.Router().ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "toad_runs_total")
}
