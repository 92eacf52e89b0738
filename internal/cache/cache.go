// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package cache provides the in-memory response cache consulted by the HTTP
// client before touching the network.
//
// Entries carry their own TTL and are evicted lazily on read. A full sweep of
// expired entries runs whenever the entry count crosses a threshold, keeping
// the map bounded without a background goroutine. On a mobile-class client
// an idle timer is wasted battery.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultSweepThreshold is the entry count above which Put triggers a full
// expired-entry sweep.
const DefaultSweepThreshold = 100

// Entry represents a cached response body with expiration.
type Entry struct {
	Payload   []byte
	ExpiresAt time.Time
}

// ResponseCache is a thread-safe in-memory cache of response payloads keyed
// by request identity (path plus sorted query parameters).
//
// Semantics:
//   - Get never returns an expired entry; expired entries are deleted on access
//   - Put sweeps all expired entries once the entry count exceeds the threshold
//   - Invalidate removes every entry whose key contains a substring, so a
//     mutation under /api/orders/5 can drop all cached reads under /api/orders
//   - Clear drops everything (logout)
//
// The cache performs no I/O; payloads are opaque bytes.
type ResponseCache struct {
	mu             sync.RWMutex
	entries        map[string]Entry
	sweepThreshold int
	stats          Stats
}

// Stats tracks cache performance counters.
type Stats struct {
	mu        sync.RWMutex
	Hits      int64
	Misses    int64
	Evictions int64
	TotalKeys int64
	LastSweep time.Time
}

// New creates an empty ResponseCache with the default sweep threshold.
func New() *ResponseCache {
	return NewWithThreshold(DefaultSweepThreshold)
}

// NewWithThreshold creates a ResponseCache that sweeps expired entries
// whenever the entry count exceeds the given threshold.
func NewWithThreshold(threshold int) *ResponseCache {
	if threshold <= 0 {
		threshold = DefaultSweepThreshold
	}
	return &ResponseCache{
		entries:        make(map[string]Entry),
		sweepThreshold: threshold,
	}
}

// Get retrieves a payload by key.
//
// Returns (nil, false) if the key is absent or the entry has expired; an
// expired entry is removed on access and counted as a miss plus an eviction.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.recordMiss()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Put may have replaced the entry.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.ExpiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.recordMiss()
		c.recordEviction()
		return nil, false
	}

	c.recordHit()
	return entry.Payload, true
}

// Put stores a payload under key with the given TTL, overwriting any
// existing entry. Crossing the sweep threshold triggers a full pass that
// removes all expired entries.
func (c *ResponseCache) Put(key string, payload []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = Entry{
		Payload:   payload,
		ExpiresAt: time.Now().Add(ttl),
	}
	needSweep := len(c.entries) > c.sweepThreshold
	if needSweep {
		c.sweepLocked()
	}
	total := int64(len(c.entries))
	c.mu.Unlock()

	c.stats.mu.Lock()
	c.stats.TotalKeys = total
	c.stats.mu.Unlock()
}

// Invalidate removes every entry whose key contains the given substring.
// The HTTP client calls this after each successful mutation with a prefix
// derived from the mutated path. Returns the number of entries removed.
func (c *ResponseCache) Invalidate(substr string) int {
	if substr == "" {
		return 0
	}

	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if strings.Contains(key, substr) {
			delete(c.entries, key)
			removed++
		}
	}
	total := int64(len(c.entries))
	c.mu.Unlock()

	c.stats.mu.Lock()
	c.stats.Evictions += int64(removed)
	c.stats.TotalKeys = total
	c.stats.mu.Unlock()

	return removed
}

// Clear removes all entries in a single atomic operation. Called on logout
// so no stale authenticated payloads survive a user switch.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	evictions := int64(len(c.entries))
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	c.stats.mu.Lock()
	c.stats.Evictions += evictions
	c.stats.TotalKeys = 0
	c.stats.mu.Unlock()
}

// Len returns the current number of entries, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetStats returns a snapshot of the cache counters.
func (c *ResponseCache) GetStats() Stats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return Stats{
		Hits:      c.stats.Hits,
		Misses:    c.stats.Misses,
		Evictions: c.stats.Evictions,
		TotalKeys: c.stats.TotalKeys,
		LastSweep: c.stats.LastSweep,
	}
}

// HitRate returns the cache hit rate as a percentage.
func (c *ResponseCache) HitRate() float64 {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0.0
	}
	return float64(stats.Hits) / float64(total) * 100.0
}

// sweepLocked removes all expired entries. Caller must hold c.mu.
func (c *ResponseCache) sweepLocked() {
	now := time.Now()
	evictions := int64(0)
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			evictions++
		}
	}

	c.stats.mu.Lock()
	c.stats.Evictions += evictions
	c.stats.LastSweep = now
	c.stats.mu.Unlock()
}

// recordHit increments the hit counter.
func (c *ResponseCache) recordHit() {
	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
}

// recordMiss increments the miss counter.
func (c *ResponseCache) recordMiss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}

// recordEviction increments the eviction counter.
func (c *ResponseCache) recordEviction() {
	c.stats.mu.Lock()
	c.stats.Evictions++
	c.stats.mu.Unlock()
}

// Key builds a cache key from a request path and its query parameters.
// Parameters are sorted by name so equivalent requests map to the same key
// regardless of argument order.
func Key(path string, query map[string]string) string {
	if len(query) == 0 {
		return path
	}

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('?')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(query[name])
	}
	return b.String()
}
