// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package agent

import (
	"context"

	"github.com/oryxerp/fieldsync/internal/tracking"
)

// Streamer is a suture service that keeps the tracker's continuous
// location stream running for the life of the agent. Interactive clients
// start the stream through check-in instead; the headless agent has no
// shift boundary, so supervision owns the stream lifecycle.
type Streamer struct {
	tracker *tracking.Tracker
}

// NewStreamer creates the streaming service.
func NewStreamer(tracker *tracking.Tracker) *Streamer {
	return &Streamer{tracker: tracker}
}

// Serve runs the stream until ctx is canceled. Implements suture.Service.
func (s *Streamer) Serve(ctx context.Context) error {
	if err := s.tracker.StartStream(ctx, nil); err != nil {
		return err
	}
	defer s.tracker.StopStream()

	<-ctx.Done()
	return ctx.Err()
}
