// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package agent

import (
	"context"
	"time"

	"github.com/oryxerp/fieldsync/internal/logging"
	"github.com/oryxerp/fieldsync/internal/queue"
)

// defaultDrainInterval is the periodic safety-net drain. Recovery-triggered
// drains fire immediately; the ticker only catches actions queued while the
// monitor believed the backend was up.
const defaultDrainInterval = time.Minute

// Drainer is a suture service that replays the offline queue. It drains on
// demand through Trigger (wired to connectivity recovery) and on a slow
// periodic tick.
type Drainer struct {
	queue    *queue.PersistentQueue
	interval time.Duration
	kick     chan struct{}
}

// NewDrainer creates a Drainer for q. interval <= 0 uses the default.
func NewDrainer(q *queue.PersistentQueue, interval time.Duration) *Drainer {
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	return &Drainer{
		queue:    q,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Trigger requests an immediate drain. Non-blocking; a drain already
// pending absorbs the request.
func (d *Drainer) Trigger() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Serve drains until ctx is canceled. Implements suture.Service.
func (d *Drainer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.kick:
			d.drain(ctx)
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Drainer) drain(ctx context.Context) {
	if d.queue.PendingCount() == 0 {
		return
	}

	res := d.queue.SyncAll(ctx)
	if res.Err != nil {
		logging.Warn().
			Err(res.Err).
			Int("synced", res.Synced).
			Int("remaining", res.Remaining).
			Msg("queue drain halted")
		return
	}
	if res.Synced > 0 {
		logging.Info().Int("synced", res.Synced).Msg("queue drained")
	}
}
