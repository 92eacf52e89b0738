// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package connectivity watches the network path and fires the offline-queue
// drain when connectivity returns.
//
// The platform signal is abstracted behind Provider; the bundled
// ProbeProvider dials the backend host on a short timeout, which is the
// only portable "do we actually have a path" check.
package connectivity

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/oryxerp/fieldsync/internal/events"
	"github.com/oryxerp/fieldsync/internal/logging"
	"github.com/oryxerp/fieldsync/internal/metrics"
)

// Provider answers whether a network path currently exists.
type Provider interface {
	Online(ctx context.Context) bool
}

// ProbeProvider checks reachability by dialing a TCP endpoint.
type ProbeProvider struct {
	addr    string
	timeout time.Duration
}

// NewProbeProvider creates a provider that dials addr ("host:port").
func NewProbeProvider(addr string, timeout time.Duration) *ProbeProvider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ProbeProvider{addr: addr, timeout: timeout}
}

// NewProbeProviderFromURL derives the probe address from a backend base URL.
func NewProbeProviderFromURL(baseURL string, timeout time.Duration) (*ProbeProvider, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	return NewProbeProvider(host, timeout), nil
}

// Online dials the probe address and reports success.
func (p *ProbeProvider) Online(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", p.addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Monitor polls a Provider, deduplicates the boolean stream into
// transitions, and invokes the recovery hook on each offline→online edge.
type Monitor struct {
	provider Provider
	interval time.Duration
	bus      *events.Bus

	mu        sync.Mutex
	online    bool
	known     bool
	onRecover func(context.Context)
}

// NewMonitor creates a Monitor polling at the given interval.
// bus may be nil.
func NewMonitor(provider Provider, interval time.Duration, bus *events.Bus) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		provider: provider,
		interval: interval,
		bus:      bus,
	}
}

// OnRecover registers the hook invoked on each offline→online transition.
// The queue's drain is wired here by the composition root.
func (m *Monitor) OnRecover(hook func(context.Context)) {
	m.mu.Lock()
	m.onRecover = hook
	m.mu.Unlock()
}

// Online reports the last observed state. False until the first check runs.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Serve runs the polling loop until the context ends. Implements
// suture.Service.
func (m *Monitor) Serve(ctx context.Context) error {
	// Establish the initial state before the first tick so the first real
	// transition is detected correctly.
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check performs one probe and processes any transition.
func (m *Monitor) check(ctx context.Context) {
	online := m.provider.Online(ctx)

	m.mu.Lock()
	wasOnline, known := m.online, m.known
	m.online, m.known = online, true
	hook := m.onRecover
	m.mu.Unlock()

	if known && online == wasOnline {
		return
	}

	label := "offline"
	if online {
		label = "online"
	}
	metrics.ConnectivityTransitions.WithLabelValues(label).Inc()
	logging.Info().Bool("online", online).Msg("connectivity changed")

	if m.bus != nil {
		m.bus.PublishConnectivityChanged(online)
	}

	// Recovery edge: absent → present.
	if online && known && !wasOnline && hook != nil {
		hook(ctx)
	}
}
