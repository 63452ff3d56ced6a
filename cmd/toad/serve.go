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

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/inletlabs/toad/pkg/adapter"
	"github.com/inletlabs/toad/pkg/checkpoint"
	"github.com/inletlabs/toad/pkg/observability"
	"github.com/inletlabs/toad/pkg/ratelimit"
	"github.com/inletlabs/toad/pkg/server"
)

type serveCmd struct{}

func (serveCmd) Run(c *cli) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	backend := adapter.WithBreaker(adapter.NewInMemAdapter(), cfg.Breaker)
	if _, err := backend.Connect(ctx); err != nil {
		return err
	}

	var store checkpoint.Store
	if cfg.Checkpoint.Enabled {
		store, err = checkpoint.NewFileStore(cfg.Checkpoint.Dir)
		if err != nil {
			return err
		}
	}

	opts := []server.Option{server.WithInfo(server.Info{
		Version:         version,
		Providers:       providers.Names(),
		DefaultProvider: providers.DefaultName(),
	})}
	if cfg.Observability.MetricsEnabled {
		opts = append(opts, server.WithMetrics(observability.NewMetrics()))
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, server.WithRateLimit(ratelimit.NewLimiter(cfg.RateLimit)))
	}

	factory := buildFactory(cfg, providers, backend, store)
	return server.New(cfg.Server, factory, opts...).Start(ctx)
}
