// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package main is the entry point for the fieldsync headless agent.
//
// The agent composes the sync layer into a supervised process:
//
//  1. Configuration: layered Koanf v2 sources (defaults, config.yaml,
//     FIELDSYNC_* environment variables)
//  2. Logging: global zerolog logger
//  3. Agent wiring: response cache, durable offline queue (BadgerDB),
//     resilient HTTP client, tracking model, connectivity monitor
//  4. Supervision: suture tree running the monitor, the queue drainer,
//     and the local diagnostics server
//
// # Configuration
//
// The backend URL is the only required setting:
//
//	export FIELDSYNC_BACKEND_BASE_URL=https://erp.example.com/api
//	./fieldsync
//
// Agents at a fixed site can pin their position:
//
//	export FIELDSYNC_LOCATION_STATIC_LATITUDE=25.2048
//	export FIELDSYNC_LOCATION_STATIC_LONGITUDE=55.2708
//
// # Diagnostics
//
// A loopback HTTP server (default 127.0.0.1:7411) exposes /healthz,
// /queuez (the pending offline actions), and /metrics (Prometheus).
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervision tree
// stops its services, then the queue store and event bus close.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/oryxerp/fieldsync/internal/agent"
	"github.com/oryxerp/fieldsync/internal/config"
	"github.com/oryxerp/fieldsync/internal/location"
	"github.com/oryxerp/fieldsync/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config not yet available; the default logger reports the failure.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("backend", cfg.Backend.BaseURL).
		Str("queue_dir", cfg.Queue.DataDir).
		Bool("diagnostics", cfg.Diagnostics.Enabled).
		Msg("Configuration loaded")

	var provider location.Provider
	if cfg.Location.HasStaticPosition() {
		provider = location.NewStaticProvider(cfg.Location.StaticLatitude, cfg.Location.StaticLongitude, 0)
		logging.Info().
			Float64("latitude", cfg.Location.StaticLatitude).
			Float64("longitude", cfg.Location.StaticLongitude).
			Msg("Using static site position")
	} else {
		logging.Info().Msg("No location provider configured; tracking flows that need a position are disabled")
	}

	a, err := agent.New(cfg, provider)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize agent")
	}

	if token := os.Getenv("FIELDSYNC_API_TOKEN"); token != "" {
		a.Tokens().Set(token)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = a.Run(ctx)
	if closeErr := a.Close(); closeErr != nil {
		logging.Error().Err(closeErr).Msg("Error closing agent")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Agent exited with error")
	}
	logging.Info().Msg("Agent stopped")
}
