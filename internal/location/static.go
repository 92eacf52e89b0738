// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package location

import (
	"context"
	"time"
)

// staticWatchInterval is the re-emit period for the fixed-site stream.
const staticWatchInterval = time.Minute

// StaticProvider serves a fixed position. Used by headless agents running
// at a known site (depot, warehouse) without platform location services.
type StaticProvider struct {
	lat, lon  float64
	accuracyM float64
}

// NewStaticProvider returns a provider pinned to the given coordinates.
func NewStaticProvider(lat, lon, accuracyM float64) *StaticProvider {
	return &StaticProvider{lat: lat, lon: lon, accuracyM: accuracyM}
}

func (p *StaticProvider) position() *Position {
	return &Position{
		Latitude:   p.lat,
		Longitude:  p.lon,
		AccuracyM:  p.accuracyM,
		ObservedAt: time.Now(),
	}
}

// LastKnown returns the fixed position.
func (p *StaticProvider) LastKnown(context.Context) (*Position, error) {
	return p.position(), nil
}

// Current returns the fixed position.
func (p *StaticProvider) Current(context.Context) (*Position, error) {
	return p.position(), nil
}

// Watch emits the fixed position once immediately and then once per
// interval until stop is called or ctx ends.
func (p *StaticProvider) Watch(ctx context.Context) (<-chan Position, func(), error) {
	updates := make(chan Position, 1)
	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(updates)
		ticker := time.NewTicker(staticWatchInterval)
		defer ticker.Stop()

		emit := func() {
			select {
			case updates <- *p.position():
			default:
			}
		}
		emit()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				emit()
			}
		}
	}()
	return updates, cancel, nil
}
