// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package agent composes the sync layer into a supervised headless process:
// resilient HTTP client, offline queue, connectivity monitor, tracking
// model, and the local diagnostics server.
package agent

import (
	"context"
	"fmt"

	"github.com/oryxerp/fieldsync/internal/auth"
	"github.com/oryxerp/fieldsync/internal/cache"
	"github.com/oryxerp/fieldsync/internal/config"
	"github.com/oryxerp/fieldsync/internal/connectivity"
	"github.com/oryxerp/fieldsync/internal/events"
	"github.com/oryxerp/fieldsync/internal/httpx"
	"github.com/oryxerp/fieldsync/internal/location"
	"github.com/oryxerp/fieldsync/internal/logging"
	"github.com/oryxerp/fieldsync/internal/queue"
	"github.com/oryxerp/fieldsync/internal/tracking"
)

// Agent owns the composed sync layer. Construct with New, run with Run,
// release resources with Close.
type Agent struct {
	cfg *config.Config

	bus     *events.Bus
	tokens  *auth.TokenStore
	client  *httpx.Client
	queue   *queue.PersistentQueue
	source  *location.Source
	tracker *tracking.Tracker
	monitor *connectivity.Monitor
	drainer *Drainer
	tree    *SupervisorTree
}

// New wires the agent from configuration. provider supplies platform
// positions; pass nil on hosts without location services, which disables
// the tracking convenience flows that need a position.
func New(cfg *config.Config, provider location.Provider) (*Agent, error) {
	bus := events.NewBus()
	tokens := auth.NewTokenStore()
	respCache := cache.NewWithThreshold(cfg.Cache.SweepThreshold)

	client := httpx.New(httpx.Config{
		BaseURL:        cfg.Backend.BaseURL,
		ConnectTimeout: cfg.Backend.ConnectTimeout,
		RequestTimeout: cfg.Backend.RequestTimeout,
		UploadTimeout:  cfg.Backend.UploadTimeout,
		MaxRetries:     cfg.Backend.MaxRetries,
		RetryBaseDelay: cfg.Backend.RetryBaseDelay,
	}, respCache, tokens, bus)

	q, err := queue.Open(cfg.Queue.DataDir, client, bus)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("open offline queue: %w", err)
	}

	var source *location.Source
	if provider != nil {
		source = location.NewSource(provider, location.Config{
			FreshnessWindow: cfg.Location.FreshnessWindow,
			FixTimeout:      cfg.Location.FixTimeout,
		}, bus)
	}

	probe, err := connectivity.NewProbeProviderFromURL(cfg.Backend.BaseURL, cfg.Connectivity.ProbeTimeout)
	if err != nil {
		q.Close()
		bus.Close()
		return nil, fmt.Errorf("connectivity probe: %w", err)
	}
	monitor := connectivity.NewMonitor(probe, cfg.Connectivity.ProbeInterval, bus)

	drainer := NewDrainer(q, 0)
	monitor.OnRecover(func(context.Context) {
		drainer.Trigger()
	})

	tracker := tracking.New(client, q, source)

	tree := NewSupervisorTree(logging.NewSlogLogger(), DefaultTreeConfig())
	tree.AddSyncService(monitor)
	tree.AddSyncService(drainer)
	if source != nil {
		tree.AddSyncService(NewStreamer(tracker))
	}
	if cfg.Diagnostics.Enabled {
		tree.AddDiagnosticsService(NewDiagnostics(cfg.DiagnosticsAddr(), q, monitor))
	}

	return &Agent{
		cfg:     cfg,
		bus:     bus,
		tokens:  tokens,
		client:  client,
		queue:   q,
		source:  source,
		tracker: tracker,
		monitor: monitor,
		drainer: drainer,
		tree:    tree,
	}, nil
}

// Run serves the supervision tree until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	logging.Info().
		Str("backend", a.cfg.Backend.BaseURL).
		Int("pending_actions", a.queue.PendingCount()).
		Msg("fieldsync agent starting")
	return a.tree.Serve(ctx)
}

// Close releases the queue store and the event bus. Call after Run returns.
func (a *Agent) Close() error {
	err := a.queue.Close()
	if busErr := a.bus.Close(); err == nil {
		err = busErr
	}
	return err
}

// Client exposes the resilient HTTP client for embedding applications.
func (a *Agent) Client() *httpx.Client { return a.client }

// Tracker exposes the tracking model.
func (a *Agent) Tracker() *tracking.Tracker { return a.tracker }

// Tokens exposes the bearer credential store. Set a token after login,
// clear it on logout.
func (a *Agent) Tokens() *auth.TokenStore { return a.tokens }

// Queue exposes the offline action queue for inspection.
func (a *Agent) Queue() *queue.PersistentQueue { return a.queue }

// Events exposes the notification bus for UI subscriptions.
func (a *Agent) Events() *events.Bus { return a.bus }

// Online reports the monitor's current backend reachability belief.
func (a *Agent) Online() bool { return a.monitor.Online() }
