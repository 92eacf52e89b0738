// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oryxerp/fieldsync/internal/location"
)

// fakeStreamProvider serves a fixed last-known position and lets tests
// push fixes into the watch channel.
type fakeStreamProvider struct {
	mu       sync.Mutex
	last     *location.Position
	watchErr error
	watching atomic.Int32
	updates  chan location.Position
}

func (f *fakeStreamProvider) LastKnown(context.Context) (*location.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, nil
}

func (f *fakeStreamProvider) Current(context.Context) (*location.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return nil, location.ErrServiceDisabled
	}
	return f.last, nil
}

func (f *fakeStreamProvider) Watch(ctx context.Context) (<-chan location.Position, func(), error) {
	if f.watchErr != nil {
		return nil, nil, f.watchErr
	}
	f.mu.Lock()
	f.updates = make(chan location.Position, 8)
	ch := f.updates
	f.mu.Unlock()
	f.watching.Add(1)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			f.watching.Add(-1)
			close(ch)
		})
	}
	return ch, stop, nil
}

func (f *fakeStreamProvider) push(pos location.Position) {
	f.mu.Lock()
	ch := f.updates
	f.mu.Unlock()
	ch <- pos
}

func TestStartStreamForwardsFixes(t *testing.T) {
	backend := &fakeBackend{}
	provider := &fakeStreamProvider{
		last: &location.Position{Latitude: 25.2, Longitude: 55.3, ObservedAt: time.Now()},
	}
	tr, _, _ := newTestTracker(t, backend.handler(), provider)
	defer tr.StopStream()

	received := make(chan location.Position, 8)
	if err := tr.StartStream(context.Background(), func(p location.Position) {
		received <- p
	}); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	provider.push(location.Position{Latitude: 25.21, Longitude: 55.31, AccuracyM: 5})

	select {
	case p := <-received:
		if p.Latitude != 25.21 {
			t.Errorf("callback position = %+v, want pushed fix", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked for a pushed fix")
	}

	// The fix must also have gone out as a live update.
	deadline := time.Now().Add(2 * time.Second)
	for {
		backend.mu.Lock()
		sent := backend.liveUpdates
		backend.mu.Unlock()
		if sent >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pushed fix never reached the live-update endpoint")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartStreamIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	provider := &fakeStreamProvider{
		last: &location.Position{Latitude: 25.2, Longitude: 55.3, ObservedAt: time.Now()},
	}
	tr, _, _ := newTestTracker(t, backend.handler(), provider)
	defer tr.StopStream()

	ctx := context.Background()
	if err := tr.StartStream(ctx, nil); err != nil {
		t.Fatalf("first StartStream() error = %v", err)
	}
	if err := tr.StartStream(ctx, nil); err != nil {
		t.Fatalf("second StartStream() error = %v", err)
	}
	if got := provider.watching.Load(); got != 1 {
		t.Errorf("active subscriptions = %d, want 1: repeated start must not double-subscribe", got)
	}
}

func TestStopStreamIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	provider := &fakeStreamProvider{
		last: &location.Position{Latitude: 25.2, Longitude: 55.3, ObservedAt: time.Now()},
	}
	tr, _, _ := newTestTracker(t, backend.handler(), provider)

	if err := tr.StartStream(context.Background(), nil); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	tr.StopStream()
	tr.StopStream()
	tr.StopStream()

	if tr.Streaming() {
		t.Error("Streaming() = true after stop")
	}
	if got := provider.watching.Load(); got != 0 {
		t.Errorf("active subscriptions = %d, want 0", got)
	}
}

func TestStopStreamBeforeStart(t *testing.T) {
	backend := &fakeBackend{}
	tr, _, _ := newTestTracker(t, backend.handler(), nil)

	// Must not panic or deadlock.
	tr.StopStream()
	if tr.Streaming() {
		t.Error("Streaming() = true without a start")
	}
}

func TestStartStreamPropagatesWatchError(t *testing.T) {
	backend := &fakeBackend{}
	wantErr := errors.New("platform refused")
	provider := &fakeStreamProvider{
		last:     &location.Position{Latitude: 25.2, Longitude: 55.3, ObservedAt: time.Now()},
		watchErr: wantErr,
	}
	tr, _, _ := newTestTracker(t, backend.handler(), provider)

	err := tr.StartStream(context.Background(), nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("StartStream() error = %v, want %v", err, wantErr)
	}
	if tr.Streaming() {
		t.Error("Streaming() = true after failed start")
	}
}

func TestStreamRestartAfterStop(t *testing.T) {
	backend := &fakeBackend{}
	provider := &fakeStreamProvider{
		last: &location.Position{Latitude: 25.2, Longitude: 55.3, ObservedAt: time.Now()},
	}
	tr, _, _ := newTestTracker(t, backend.handler(), provider)
	defer tr.StopStream()

	ctx := context.Background()
	if err := tr.StartStream(ctx, nil); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	tr.StopStream()
	if err := tr.StartStream(ctx, nil); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if !tr.Streaming() {
		t.Error("Streaming() = false after restart")
	}
	if got := provider.watching.Load(); got != 1 {
		t.Errorf("active subscriptions = %d, want 1 after restart", got)
	}
}
