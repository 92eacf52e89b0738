// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package httpx

import (
	"context"
	"sync"
)

// inflightRegistry tracks at most one in-flight request per dedup key.
// Registering a key that is already in flight cancels the previous holder
// with ErrSuperseded ("latest request wins") before taking its slot.
type inflightRegistry struct {
	mu      sync.Mutex
	entries map[string]*inflightHandle
}

type inflightHandle struct {
	cancel context.CancelCauseFunc
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{
		entries: make(map[string]*inflightHandle),
	}
}

// register cancels any request currently in flight under key and installs a
// new handle. The returned context is canceled with ErrSuperseded if a later
// identical request arrives; release must be called when the request ends.
// superseded reports whether a previous request was displaced.
func (r *inflightRegistry) register(ctx context.Context, key string) (reqCtx context.Context, release func(), superseded bool) {
	reqCtx, cancel := context.WithCancelCause(ctx)
	handle := &inflightHandle{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.entries[key]; ok {
		prev.cancel(ErrSuperseded)
		superseded = true
	}
	r.entries[key] = handle
	r.mu.Unlock()

	release = func() {
		r.mu.Lock()
		// Only remove the entry if it is still ours; a newer request may
		// have taken the slot already.
		if cur, ok := r.entries[key]; ok && cur == handle {
			delete(r.entries, key)
		}
		r.mu.Unlock()
		cancel(nil)
	}
	return reqCtx, release, superseded
}

// len returns the number of keys currently in flight.
func (r *inflightRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
