// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package tracking

import (
	"context"
	"sync"

	"github.com/oryxerp/fieldsync/internal/location"
	"github.com/oryxerp/fieldsync/internal/logging"
)

// streamHandle owns the continuous location stream state machine:
// stopped → streaming → stopped. Stop is idempotent.
type streamHandle struct {
	mu        sync.Mutex
	streaming bool
	stop      func()
}

// StartStream subscribes to the platform's continuous position stream.
// While streaming, each fix is forwarded to onPosition (if non-nil) and
// submitted as a live-location update. Starting an already-streaming
// tracker is a no-op.
func (t *Tracker) StartStream(ctx context.Context, onPosition func(location.Position)) error {
	if t.source == nil {
		return ErrNoLocationSource
	}

	t.stream.mu.Lock()
	defer t.stream.mu.Unlock()

	if t.stream.streaming {
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	updates, stopWatch, err := t.sourceProvider().Watch(streamCtx)
	if err != nil {
		cancel()
		return err
	}

	t.stream.streaming = true
	t.stream.stop = func() {
		stopWatch()
		cancel()
	}

	go t.consumeStream(streamCtx, updates, onPosition)
	logging.Info().Msg("location stream started")
	return nil
}

// StopStream cancels the underlying subscription and returns to stopped.
// Safe to call repeatedly and from any goroutine.
func (t *Tracker) StopStream() {
	t.stream.mu.Lock()
	defer t.stream.mu.Unlock()

	if !t.stream.streaming {
		return
	}
	t.stream.stop()
	t.stream.stop = nil
	t.stream.streaming = false
	logging.Info().Msg("location stream stopped")
}

// Streaming reports whether the continuous stream is active.
func (t *Tracker) Streaming() bool {
	t.stream.mu.Lock()
	defer t.stream.mu.Unlock()
	return t.stream.streaming
}

// consumeStream forwards each platform fix to the UI callback and the
// live-location endpoint until the stream ends. Live updates here are
// best-effort: throttling and transient failures are dropped silently
// since the next fix supersedes them anyway.
func (t *Tracker) consumeStream(ctx context.Context, updates <-chan location.Position, onPosition func(location.Position)) {
	for {
		select {
		case <-ctx.Done():
			return
		case pos, ok := <-updates:
			if !ok {
				return
			}
			if onPosition != nil {
				onPosition(pos)
			}
			if err := t.UpdateLiveLocation(ctx, pos.Latitude, pos.Longitude, pos.AccuracyM); err != nil {
				logging.Debug().Err(err).Msg("live update dropped")
			}
		}
	}
}

// sourceProvider exposes the provider backing the location source for the
// stream subscription.
func (t *Tracker) sourceProvider() location.Provider {
	return t.source.Provider()
}
