// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package queue provides the durable offline action queue.
//
// Mutations that fail with a persistent network error are parked here and
// replayed in enqueue order once connectivity returns. The pending list is
// serialized as one value in BadgerDB and fully overwritten on every
// change (write-through), so a crash between enqueue and the next launch
// loses nothing and recovery is a single read.
//
// Ordering is load-bearing: a drain replays strictly FIFO and halts on the
// first failure. Skipping ahead could apply side effects out of order on
// the server. The failed action and everything behind it stay queued for
// the next connectivity-recovery event.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/oryxerp/fieldsync/internal/events"
	"github.com/oryxerp/fieldsync/internal/logging"
	"github.com/oryxerp/fieldsync/internal/metrics"
)

// storageKey is the single key the serialized pending list lives under.
var storageKey = []byte("fieldsync/pending-actions")

// ErrUnsupportedMethod is returned when a non-queueable method is enqueued.
// Only POST and PUT mutations replay safely in order; reads are never queued.
var ErrUnsupportedMethod = errors.New("queue: only POST and PUT actions can be queued")

// Action is one pending mutation.
type Action struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Path      string          `json:"path"`
	Body      json.RawMessage `json:"body,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Replayer re-issues a queued action against the backend. Implemented by
// the HTTP client.
type Replayer interface {
	Replay(ctx context.Context, method, path string, body json.RawMessage) error
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	// Synced is the number of actions successfully replayed and removed.
	Synced int
	// Remaining is the number of actions still queued after the pass.
	Remaining int
	// Err is the failure that halted the pass, or nil if it completed.
	Err error
}

// PersistentQueue is the durable FIFO of pending mutations.
// All methods are safe for concurrent use; at most one drain runs at a time.
type PersistentQueue struct {
	db       *badger.DB
	replayer Replayer
	bus      *events.Bus

	mu      sync.Mutex
	actions []Action
	syncing bool
}

// Open opens (or creates) the queue store in dir and loads any pending
// actions persisted by a previous run. bus may be nil.
func Open(dir string, replayer Replayer, bus *events.Bus) (*PersistentQueue, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	return open(opts, replayer, bus)
}

// OpenInMemory opens a queue with no on-disk state. Used in tests and as a
// degraded mode when the storage directory is unavailable.
func OpenInMemory(replayer Replayer, bus *events.Bus) (*PersistentQueue, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts, replayer, bus)
}

func open(opts badger.Options, replayer Replayer, bus *events.Bus) (*PersistentQueue, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	q := &PersistentQueue{
		db:       db,
		replayer: replayer,
		bus:      bus,
	}
	if err := q.load(); err != nil {
		db.Close()
		return nil, err
	}

	if n := len(q.actions); n > 0 {
		logging.Info().Int("pending", n).Msg("recovered pending actions from storage")
	}
	metrics.QueueDepth.Set(float64(len(q.actions)))
	return q, nil
}

// load reads the persisted pending list into memory.
func (q *PersistentQueue) load() error {
	return q.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storageKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read queue: %w", err)
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &q.actions); err != nil {
				return fmt.Errorf("decode queue: %w", err)
			}
			return nil
		})
	})
}

// persistLocked writes the full pending list to storage. Caller holds q.mu.
func (q *PersistentQueue) persistLocked() error {
	data, err := json.Marshal(q.actions)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storageKey, data)
	})
	if err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

// Enqueue appends a mutation and immediately persists the list. The action
// is durable before Enqueue returns.
func (q *PersistentQueue) Enqueue(_ context.Context, method, path string, body json.RawMessage) error {
	if method != "POST" && method != "PUT" {
		return ErrUnsupportedMethod
	}

	action := Action{
		ID:        uuid.New().String(),
		Method:    method,
		Path:      path,
		Body:      body,
		CreatedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.actions = append(q.actions, action)
	if err := q.persistLocked(); err != nil {
		// Roll back the in-memory append so memory and disk stay in step.
		q.actions = q.actions[:len(q.actions)-1]
		return err
	}

	metrics.QueueEnqueued.Inc()
	metrics.QueueDepth.Set(float64(len(q.actions)))
	logging.Info().
		Str("method", method).
		Str("path", path).
		Int("pending", len(q.actions)).
		Msg("action enqueued")
	return nil
}

// PendingCount returns the number of queued actions.
func (q *PersistentQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// IsSyncing reports whether a drain pass is in progress.
func (q *PersistentQueue) IsSyncing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.syncing
}

// Pending returns a copy of the queued actions in replay order.
// Exposed for the diagnostics endpoint.
func (q *PersistentQueue) Pending() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Action, len(q.actions))
	copy(out, q.actions)
	return out
}

// SyncAll replays queued actions strictly in order. It is a no-op when a
// drain is already running or the queue is empty. The first replay failure
// halts the pass; the failed action and everything after it stay queued.
// Successes are removed from storage as one batch when the pass ends.
func (q *PersistentQueue) SyncAll(ctx context.Context) DrainResult {
	q.mu.Lock()
	if q.syncing || len(q.actions) == 0 {
		empty := len(q.actions) == 0
		remaining := len(q.actions)
		q.mu.Unlock()
		if empty {
			metrics.QueueDrains.WithLabelValues("empty").Inc()
		}
		return DrainResult{Remaining: remaining}
	}
	q.syncing = true
	snapshot := make([]Action, len(q.actions))
	copy(snapshot, q.actions)
	q.mu.Unlock()

	logging.Info().Int("pending", len(snapshot)).Msg("queue drain started")

	var synced int
	var haltErr error
	for _, action := range snapshot {
		if err := ctx.Err(); err != nil {
			haltErr = err
			break
		}
		if err := q.replayer.Replay(ctx, action.Method, action.Path, action.Body); err != nil {
			haltErr = err
			logging.Warn().
				Err(err).
				Str("method", action.Method).
				Str("path", action.Path).
				Str("action_id", action.ID).
				Msg("queue drain halted")
			break
		}
		synced++
		metrics.QueueReplayed.Inc()
	}

	q.mu.Lock()
	// Enqueues during the drain appended behind the snapshot, so dropping
	// the first synced entries removes exactly the replayed actions.
	q.actions = q.actions[synced:]
	if err := q.persistLocked(); err != nil {
		logging.Error().Err(err).Msg("failed to persist queue after drain")
	}
	remaining := len(q.actions)
	q.syncing = false
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(remaining))
	if haltErr != nil {
		metrics.QueueDrains.WithLabelValues("halted").Inc()
	} else {
		metrics.QueueDrains.WithLabelValues("complete").Inc()
	}

	if q.bus != nil {
		q.bus.PublishQueueDrained(synced, remaining)
	}
	logging.Info().
		Int("synced", synced).
		Int("remaining", remaining).
		Bool("halted", haltErr != nil).
		Msg("queue drain finished")

	return DrainResult{Synced: synced, Remaining: remaining, Err: haltErr}
}

// Clear discards all pending actions. Used on logout: queued mutations
// belong to the credential that created them.
func (q *PersistentQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.actions = nil
	if err := q.persistLocked(); err != nil {
		return err
	}
	metrics.QueueDepth.Set(0)
	return nil
}

// Close releases the underlying store.
func (q *PersistentQueue) Close() error {
	return q.db.Close()
}
