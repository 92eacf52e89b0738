// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package location acquires device positions without ever stalling an
// interactive action on GPS.
//
// The Provider interface abstracts the platform location services; the
// Source strategy layered on top always answers within its timeout budget,
// preferring a recent cached fix over a fresh GPS lock and correcting
// stale answers asynchronously.
package location

import (
	"context"
	"errors"
	"time"
)

// Position is one geographic fix.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AccuracyM  float64   `json:"accuracy_m"`
	ObservedAt time.Time `json:"observed_at"`
}

// ErrPermissionDenied means the user refused location access. Non-retryable;
// callers decide whether to proceed without a position.
var ErrPermissionDenied = errors.New("location: permission denied")

// ErrServiceDisabled means platform location services are switched off.
// Non-retryable until the user enables them.
var ErrServiceDisabled = errors.New("location: service disabled")

// Provider is the platform capability interface. One implementation exists
// per target platform; tests use fakes.
type Provider interface {
	// LastKnown returns the platform's last recorded fix without powering
	// the GPS radio. Returns (nil, nil) when no fix has ever been recorded.
	LastKnown(ctx context.Context) (*Position, error)

	// Current acquires a fresh fix. May block until the context ends.
	Current(ctx context.Context) (*Position, error)

	// Watch streams continuous position updates until stop is called or
	// the context ends. The channel closes when the stream ends.
	Watch(ctx context.Context) (updates <-chan Position, stop func(), err error)
}
