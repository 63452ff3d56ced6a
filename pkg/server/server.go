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

// Package server projects the agent event stream over HTTP: SSE streaming
// for interactive clients and a synchronous endpoint for scripted callers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/inletlabs/toad/pkg/agent"
	"github.com/inletlabs/toad/pkg/config"
	"github.com/inletlabs/toad/pkg/observability"
	"github.com/inletlabs/toad/pkg/ratelimit"
)

// AgentFactory builds a fresh agent (with its own memory and dispatcher)
// for one run.
type AgentFactory func() (*agent.Agent, error)

// Info describes the running build for the health endpoint.
type Info struct {
	Version         string
	Providers       []string
	DefaultProvider string
}

// Server is the HTTP surface over the task loop.
type Server struct {
	cfg      config.ServerConfig
	factory  AgentFactory
	info     Info
	metrics  *observability.Metrics
	limiter  *ratelimit.Limiter
	sessions *sessionRegistry
	httpSrv  *http.Server
	log      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts /metrics and records run metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit admits chat requests through a limiter keyed by client
// address.
func WithRateLimit(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithInfo sets the build info reported by /health.
func WithInfo(info Info) Option {
	return func(s *Server) { s.info = info }
}

func New(cfg config.ServerConfig, factory AgentFactory, opts ...Option) *Server {
	cfg.SetDefaults()
	s := &Server{
		cfg:      cfg,
		factory:  factory,
		sessions: newSessionRegistry(),
		log:      slog.Default().With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.With(s.admit).Post("/chat", s.handleChat)
	r.With(s.admit).Post("/chat-sync", s.handleChatSync)
	r.With(s.admit).Post("/command", s.handleCommand)
	r.Post("/sessions/{sessionID}/interrupt", s.handleInterrupt)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// Start serves until ctx is cancelled, then drains with the configured
// shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:        s.cfg.Address(),
		Handler:     s.Router(),
		ReadTimeout: s.cfg.ReadTimeout,
		// WriteTimeout stays generous; SSE streams are long-lived.
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.cfg.Address())
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

type chatRequest struct {
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

// admit applies rate limiting per client address.
func (s *Server) admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			if d := s.limiter.Allow(r.RemoteAddr); !d.Allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(d.RetryAfter.Seconds())+1))
				writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{"error": d.Reason})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	providers := s.info.Providers
	if providers == nil {
		providers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"version":         s.info.Version,
		"providers":       providers,
		"defaultProvider": s.info.DefaultProvider,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"active_sessions": s.sessions.count(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, "")
}

// handleCommand behaves like /chat with a leading data-mode event naming the
// requested command.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, "command")
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, mode string) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	a, err := s.factory()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if mode == "command" {
		cmd := req.Command
		if cmd == "" {
			cmd = "default"
		}
		writeFrame(w, modeFrame(cmd))
		flusher.Flush()
	}

	s.sessions.add(a)
	defer s.sessions.remove(a.SessionID())

	var recorder *observability.Recorder
	if s.metrics != nil {
		recorder = observability.NewRecorder(s.metrics)
	}

	// Client disconnect cancels the run through the request context.
	for event := range a.Run(r.Context(), req.Message) {
		if recorder != nil {
			recorder.Observe(event)
		}
		for _, frame := range frameEvent(event) {
			writeFrame(w, frame)
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	a, err := s.factory()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}

	s.sessions.add(a)
	defer s.sessions.remove(a.SessionID())

	var recorder *observability.Recorder
	if s.metrics != nil {
		recorder = observability.NewRecorder(s.metrics)
	}

	var events []agent.Event
	for event := range a.Run(r.Context(), req.Message) {
		if recorder != nil {
			recorder.Observe(event)
		}
		events = append(events, event)
	}

	writeJSON(w, http.StatusOK, summarize(events, a.SessionID()))
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	a, ok := s.sessions.get(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "no running session " + sessionID})
		return
	}
	a.Interrupt()
	w.WriteHeader(http.StatusNoContent)
}

func decodeChatRequest(r *http.Request) (chatRequest, error) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Message == "" {
		return req, fmt.Errorf("message is required")
	}
	return req, nil
}

func writeFrame(w http.ResponseWriter, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
