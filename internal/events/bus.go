// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package events provides the typed in-process event bus that the sync layer
// publishes to and UI-facing code subscribes to.
//
// The bus replaces observer-callback plumbing with Watermill's gochannel
// Pub/Sub: publishers never block on slow subscribers, subscribers get their
// own delivery channel, and everything shuts down with the context.
//
// Emitted events:
//   - cache.invalidated: a mutation dropped cached reads under a path prefix
//   - queue.drained: an offline-queue drain pass finished
//   - position.updated: a background location refresh resolved
//   - connectivity.changed: the network path appeared or disappeared
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/oryxerp/fieldsync/internal/logging"
)

// Topic is the single gochannel topic all sync-layer events flow through.
const Topic = "fieldsync.events"

// Type identifies the kind of event carried in an envelope.
type Type string

const (
	TypeCacheInvalidated    Type = "cache.invalidated"
	TypeQueueDrained        Type = "queue.drained"
	TypePositionUpdated     Type = "position.updated"
	TypeConnectivityChanged Type = "connectivity.changed"
)

// Event is the envelope delivered to subscribers. Exactly one of the
// typed payload fields is set, matching Type.
type Event struct {
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	CacheInvalidated    *CacheInvalidated    `json:"cache_invalidated,omitempty"`
	QueueDrained        *QueueDrained        `json:"queue_drained,omitempty"`
	PositionUpdated     *PositionUpdated     `json:"position_updated,omitempty"`
	ConnectivityChanged *ConnectivityChanged `json:"connectivity_changed,omitempty"`
}

// CacheInvalidated reports cached reads dropped after a mutation.
type CacheInvalidated struct {
	Prefix  string `json:"prefix"`
	Removed int    `json:"removed"`
}

// QueueDrained reports the outcome of one offline-queue drain pass.
type QueueDrained struct {
	Synced    int `json:"synced"`
	Remaining int `json:"remaining"`
}

// PositionUpdated reports a refreshed device position.
type PositionUpdated struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AccuracyM  float64   `json:"accuracy_m"`
	ObservedAt time.Time `json:"observed_at"`
}

// ConnectivityChanged reports a network reachability transition.
type ConnectivityChanged struct {
	Online bool `json:"online"`
}

// Bus is the in-process event bus. Safe for concurrent use.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates an event bus backed by a gochannel Pub/Sub.
// Subscribers registered after an event was published do not receive it.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NewStdLogger(false, false)),
	}
}

// Publish emits an event to all current subscribers. Returns an error only
// if the bus is closed or the envelope cannot be serialized.
func (b *Bus) Publish(ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// PublishCacheInvalidated emits a cache.invalidated event.
func (b *Bus) PublishCacheInvalidated(prefix string, removed int) {
	b.publishLogged(Event{
		Type:             TypeCacheInvalidated,
		CacheInvalidated: &CacheInvalidated{Prefix: prefix, Removed: removed},
	})
}

// PublishQueueDrained emits a queue.drained event.
func (b *Bus) PublishQueueDrained(synced, remaining int) {
	b.publishLogged(Event{
		Type:         TypeQueueDrained,
		QueueDrained: &QueueDrained{Synced: synced, Remaining: remaining},
	})
}

// PublishPositionUpdated emits a position.updated event.
func (b *Bus) PublishPositionUpdated(lat, lon, accuracyM float64, observedAt time.Time) {
	b.publishLogged(Event{
		Type: TypePositionUpdated,
		PositionUpdated: &PositionUpdated{
			Latitude:   lat,
			Longitude:  lon,
			AccuracyM:  accuracyM,
			ObservedAt: observedAt,
		},
	})
}

// PublishConnectivityChanged emits a connectivity.changed event.
func (b *Bus) PublishConnectivityChanged(online bool) {
	b.publishLogged(Event{
		Type:                TypeConnectivityChanged,
		ConnectivityChanged: &ConnectivityChanged{Online: online},
	})
}

// publishLogged publishes and logs failures instead of propagating them;
// event delivery must never fail a sync operation.
func (b *Bus) publishLogged(ev Event) {
	if err := b.Publish(ev); err != nil {
		logging.Warn().Err(err).Str("type", string(ev.Type)).Msg("event publish failed")
	}
}

// Subscribe returns a channel of decoded events and a cancel function.
// The channel closes when cancel is called, the context ends, or the bus
// is closed. Undecodable messages are dropped with a warning.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, context.CancelFunc, error) {
	subCtx, cancel := context.WithCancel(ctx)

	messages, err := b.pubsub.Subscribe(subCtx, Topic)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Msg("dropping undecodable event")
				msg.Ack()
				continue
			}
			msg.Ack()

			select {
			case out <- ev:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
