// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oryxerp/fieldsync/internal/events"
	"github.com/oryxerp/fieldsync/internal/logging"
	"github.com/oryxerp/fieldsync/internal/metrics"
)

// Config tunes the acquisition strategy. Zero values fall back to defaults.
type Config struct {
	// FreshnessWindow is how old a cached fix may be and still be served
	// immediately. Default 120s.
	FreshnessWindow time.Duration

	// FixTimeout bounds a fresh GPS acquisition. Default 5s. Independent
	// of the HTTP client's network timeouts.
	FixTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = 120 * time.Second
	}
	if c.FixTimeout <= 0 {
		c.FixTimeout = 5 * time.Second
	}
}

// Source implements the bounded-latency acquisition strategy over a
// Provider. Safe for concurrent use.
type Source struct {
	provider Provider
	cfg      Config
	bus      *events.Bus

	mu         sync.Mutex
	cached     *Position
	refreshing bool
}

// NewSource creates a Source. bus may be nil to disable position events.
func NewSource(provider Provider, cfg Config, bus *events.Bus) *Source {
	cfg.applyDefaults()
	return &Source{
		provider: provider,
		cfg:      cfg,
		bus:      bus,
	}
}

// GetPositionFast returns a position within the timeout budget, never
// blocking an interactive action on GPS acquisition.
//
// Strategy, in priority order:
//  1. A cached fix fresher than the freshness window is returned
//     immediately; a background refresh corrects it asynchronously.
//  2. The platform's last-known fix (no GPS radio) is returned
//     immediately, again with a background refresh.
//  3. A fresh fix is requested under FixTimeout. On timeout, whatever the
//     cache holds is returned, possibly nil, rather than blocking.
//
// onUpdate, if non-nil, is invoked once when a background refresh
// resolves. Permission-denied and service-disabled are returned as errors;
// a GPS timeout is not an error.
func (s *Source) GetPositionFast(ctx context.Context, onUpdate func(Position)) (*Position, error) {
	// 1. Fresh cached fix.
	if pos := s.cachedFresh(); pos != nil {
		metrics.LocationAcquisitions.WithLabelValues("cached").Inc()
		s.refreshInBackground(ctx, onUpdate)
		return pos, nil
	}

	// 2. Platform last-known fix.
	lastKnown, err := s.provider.LastKnown(ctx)
	if err != nil && isUnavailable(err) {
		metrics.LocationAcquisitions.WithLabelValues("unavailable").Inc()
		return nil, err
	}
	if lastKnown != nil {
		s.store(*lastKnown)
		metrics.LocationAcquisitions.WithLabelValues("last_known").Inc()
		s.refreshInBackground(ctx, onUpdate)
		return lastKnown, nil
	}

	// 3. Fresh fix under a hard timeout.
	fixCtx, cancel := context.WithTimeout(ctx, s.cfg.FixTimeout)
	defer cancel()

	fresh, err := s.provider.Current(fixCtx)
	switch {
	case err == nil && fresh != nil:
		s.store(*fresh)
		metrics.LocationAcquisitions.WithLabelValues("fresh").Inc()
		return fresh, nil
	case isUnavailable(err):
		metrics.LocationAcquisitions.WithLabelValues("unavailable").Inc()
		return nil, err
	case ctx.Err() != nil:
		// The caller's own context ended, not our fix timeout.
		return nil, ctx.Err()
	default:
		// Timeout: fall back to whatever arrived mid-flight, possibly nil.
		metrics.LocationAcquisitions.WithLabelValues("timeout_fallback").Inc()
		logging.Debug().Err(err).Msg("GPS fix timed out, using cached position")
		return s.cachedAny(), nil
	}
}

// Cached returns the most recent fix regardless of age, or nil.
func (s *Source) Cached() *Position {
	return s.cachedAny()
}

// Provider returns the underlying platform provider, for callers that need
// to open their own continuous subscription.
func (s *Source) Provider() Provider {
	return s.provider
}

// refreshInBackground kicks off one asynchronous fresh-fix acquisition that
// updates the cache and notifies onUpdate. At most one refresh runs at a
// time; extra calls while one is in flight are dropped.
func (s *Source) refreshInBackground(ctx context.Context, onUpdate func(Position)) {
	s.mu.Lock()
	if s.refreshing {
		s.mu.Unlock()
		return
	}
	s.refreshing = true
	s.mu.Unlock()

	// Detach from the caller: the interactive action returning must not
	// cancel the correction fetch.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FixTimeout)

	go func() {
		defer cancel()
		defer func() {
			s.mu.Lock()
			s.refreshing = false
			s.mu.Unlock()
		}()

		pos, err := s.provider.Current(refreshCtx)
		if err != nil || pos == nil {
			logging.Debug().Err(err).Msg("background position refresh failed")
			return
		}

		s.store(*pos)
		if onUpdate != nil {
			onUpdate(*pos)
		}
		if s.bus != nil {
			s.bus.PublishPositionUpdated(pos.Latitude, pos.Longitude, pos.AccuracyM, pos.ObservedAt)
		}
	}()
}

func (s *Source) cachedFresh() *Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return nil
	}
	if time.Since(s.cached.ObservedAt) > s.cfg.FreshnessWindow {
		return nil
	}
	pos := *s.cached
	return &pos
}

func (s *Source) cachedAny() *Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return nil
	}
	pos := *s.cached
	return &pos
}

func (s *Source) store(pos Position) {
	if pos.ObservedAt.IsZero() {
		pos.ObservedAt = time.Now()
	}
	s.mu.Lock()
	s.cached = &pos
	s.mu.Unlock()
}

// isUnavailable reports the non-retryable provider conditions.
func isUnavailable(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrServiceDisabled)
}
