// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oryxerp/fieldsync/internal/logging"
	"github.com/oryxerp/fieldsync/internal/queue"
)

// Diagnostics is the local observability server. It binds to loopback and
// exposes agent health, the pending queue, and Prometheus metrics.
type Diagnostics struct {
	addr    string
	queue   *queue.PersistentQueue
	monitor interface{ Online() bool }
}

// NewDiagnostics creates the diagnostics server for addr.
func NewDiagnostics(addr string, q *queue.PersistentQueue, monitor interface{ Online() bool }) *Diagnostics {
	return &Diagnostics{addr: addr, queue: q, monitor: monitor}
}

// Serve runs the HTTP server until ctx is canceled. Implements
// suture.Service.
func (d *Diagnostics) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.addr,
		Handler:           d.router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", d.addr).Msg("diagnostics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (d *Diagnostics) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.handleHealth)
	r.Get("/queuez", d.handleQueue)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

type healthResponse struct {
	Status  string `json:"status"`
	Online  bool   `json:"online"`
	Pending int    `json:"pending_actions"`
	Syncing bool   `json:"syncing"`
}

func (d *Diagnostics) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Online:  d.monitor.Online(),
		Pending: d.queue.PendingCount(),
		Syncing: d.queue.IsSyncing(),
	})
}

type queueResponse struct {
	Pending []queue.Action `json:"pending"`
	Count   int            `json:"count"`
}

func (d *Diagnostics) handleQueue(w http.ResponseWriter, _ *http.Request) {
	pending := d.queue.Pending()
	writeJSON(w, http.StatusOK, queueResponse{Pending: pending, Count: len(pending)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("diagnostics response encode failed")
	}
}
