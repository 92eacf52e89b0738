// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oryxerp/fieldsync/internal/cache"
	"github.com/oryxerp/fieldsync/internal/events"
	"github.com/oryxerp/fieldsync/internal/httpx"
	"github.com/oryxerp/fieldsync/internal/location"
	"github.com/oryxerp/fieldsync/internal/models"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

// recordingEnqueuer captures queued mutations.
type recordingEnqueuer struct {
	mu      sync.Mutex
	actions []queuedAction
}

type queuedAction struct {
	Method string
	Path   string
	Body   json.RawMessage
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, method, path string, body json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, queuedAction{Method: method, Path: path, Body: body})
	return nil
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

// fakeBackend accumulates visit points and live updates separately, the
// way the real server does, and serves the route from visits alone.
type fakeBackend struct {
	mu          sync.Mutex
	visits      []models.RouteVisit
	liveUpdates int
	nextID      int64
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /visits", func(w http.ResponseWriter, r *http.Request) {
		var req models.VisitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.nextID++
		seq := len(b.visits) + 1
		b.visits = append(b.visits, models.RouteVisit{
			ID:        b.nextID,
			Sequence:  seq,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			VisitType: req.VisitType,
		})
		id := b.nextID
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"visit_id":%d,"sequence_no":%d,"distance_from_prev_km":0,"message":"ok"}`, id, seq)
	})
	mux.HandleFunc("POST /location/update", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.liveUpdates++
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("GET /visits/today", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		route := models.Route{
			Date:   "2026-08-31",
			Visits: append([]models.RouteVisit(nil), b.visits...),
		}
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(route)
	})
	return mux
}

func newTestTracker(t *testing.T, backend http.Handler, provider location.Provider) (*Tracker, *recordingEnqueuer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() })

	client := httpx.New(httpx.Config{
		BaseURL:        srv.URL,
		RequestTimeout: 2 * time.Second,
		RetryBaseDelay: 5 * time.Millisecond,
	}, cache.New(), staticToken("tok"), bus)

	enq := &recordingEnqueuer{}
	var src *location.Source
	if provider != nil {
		src = location.NewSource(provider, location.Config{}, bus)
	}
	return New(client, enq, src), enq, srv
}

func TestRecordVisitPoint(t *testing.T) {
	backend := &fakeBackend{}
	tr, enq, _ := newTestTracker(t, backend.handler(), nil)

	receipt, queued, err := tr.RecordVisitPoint(context.Background(), models.VisitRequest{
		Latitude:  25.2048,
		Longitude: 55.2708,
		VisitType: models.VisitCustomer,
		Notes:     "  met the manager  ",
	})
	if err != nil {
		t.Fatalf("RecordVisitPoint() error = %v", err)
	}
	if queued {
		t.Fatal("visit queued with backend reachable")
	}
	if receipt.SequenceNo != 1 {
		t.Errorf("sequence = %d, want 1", receipt.SequenceNo)
	}
	if enq.count() != 0 {
		t.Errorf("enqueued %d actions, want 0", enq.count())
	}
}

func TestRecordVisitPointAcceptsZeroAxisCoordinates(t *testing.T) {
	backend := &fakeBackend{}
	tr, _, _ := newTestTracker(t, backend.handler(), nil)

	// The equator and the prime meridian are real places: only the
	// (0,0) pair is the null-island reject.
	receipt, queued, err := tr.RecordVisitPoint(context.Background(), models.VisitRequest{
		Latitude:  0,
		Longitude: 36.8,
		VisitType: models.VisitCustomer,
	})
	if err != nil {
		t.Fatalf("RecordVisitPoint(lat=0) error = %v, want success", err)
	}
	if queued || receipt == nil {
		t.Fatalf("receipt = %+v queued = %v, want a direct receipt", receipt, queued)
	}

	if _, _, err := tr.RecordVisitPoint(context.Background(), models.VisitRequest{
		Latitude:  -1.29,
		Longitude: 0,
		VisitType: models.VisitManual,
	}); err != nil {
		t.Fatalf("RecordVisitPoint(lon=0) error = %v, want success", err)
	}
}

func TestRecordVisitPointRejectsInvalidCoordinates(t *testing.T) {
	backend := &fakeBackend{}
	tr, _, _ := newTestTracker(t, backend.handler(), nil)

	_, _, err := tr.RecordVisitPoint(context.Background(), models.VisitRequest{
		Latitude:  0,
		Longitude: 0,
		VisitType: models.VisitManual,
	})
	if !errors.Is(err, ErrInvalidCoordinates) {
		t.Fatalf("error = %v, want ErrInvalidCoordinates", err)
	}
	if backend.liveUpdates != 0 || len(backend.visits) != 0 {
		t.Error("rejected visit reached the network")
	}
}

func TestRecordVisitPointRejectsUnknownType(t *testing.T) {
	backend := &fakeBackend{}
	tr, _, _ := newTestTracker(t, backend.handler(), nil)

	_, _, err := tr.RecordVisitPoint(context.Background(), models.VisitRequest{
		Latitude:  25.2,
		Longitude: 55.3,
		VisitType: "coffee_break",
	})
	if err == nil || !strings.Contains(err.Error(), "unknown visit type") {
		t.Fatalf("error = %v, want unknown visit type", err)
	}
}

func TestRecordVisitPointTruncatesFields(t *testing.T) {
	var got models.VisitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"visit_id":1,"sequence_no":1,"distance_from_prev_km":0,"message":"ok"}`)
	}))
	defer srv.Close()

	bus := events.NewBus()
	defer bus.Close()
	client := httpx.New(httpx.Config{BaseURL: srv.URL}, cache.New(), staticToken("tok"), bus)
	tr := New(client, &recordingEnqueuer{}, nil)

	_, _, err := tr.RecordVisitPoint(context.Background(), models.VisitRequest{
		Latitude:     25.2,
		Longitude:    55.3,
		VisitType:    models.VisitCustomer,
		CustomerName: strings.Repeat("a", 300),
		Notes:        strings.Repeat("n", 2500),
	})
	if err != nil {
		t.Fatalf("RecordVisitPoint() error = %v", err)
	}
	if len(got.CustomerName) != 255 {
		t.Errorf("customer_name sent with %d bytes, want 255", len(got.CustomerName))
	}
	if len(got.Notes) != 2000 {
		t.Errorf("notes sent with %d bytes, want 2000", len(got.Notes))
	}
}

func TestRecordVisitPointQueuesOnOutage(t *testing.T) {
	// A server that hijacks and closes produces a transient transport
	// error on every attempt, exhausting retries.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, _ := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer srv.Close()

	bus := events.NewBus()
	defer bus.Close()
	client := httpx.New(httpx.Config{
		BaseURL:        srv.URL,
		RetryBaseDelay: time.Millisecond,
	}, cache.New(), staticToken("tok"), bus)
	enq := &recordingEnqueuer{}
	tr := New(client, enq, nil)

	receipt, queued, err := tr.RecordVisitPoint(context.Background(), models.VisitRequest{
		Latitude:  25.2,
		Longitude: 55.3,
		VisitType: models.VisitManual,
	})
	if err != nil {
		t.Fatalf("RecordVisitPoint() error = %v, want queued fallback", err)
	}
	if !queued {
		t.Fatal("queued = false, want true after persistent failure")
	}
	if receipt != nil {
		t.Errorf("receipt = %+v, want nil for a queued visit", receipt)
	}
	if enq.count() != 1 {
		t.Fatalf("enqueued %d actions, want 1", enq.count())
	}
	enq.mu.Lock()
	act := enq.actions[0]
	enq.mu.Unlock()
	if act.Method != http.MethodPost || act.Path != pathVisits {
		t.Errorf("queued %s %s, want POST %s", act.Method, act.Path, pathVisits)
	}
}

func TestUpdateLiveLocationThrottled(t *testing.T) {
	backend := &fakeBackend{}
	tr, _, _ := newTestTracker(t, backend.handler(), nil)

	if err := tr.UpdateLiveLocation(context.Background(), 25.2, 55.3, 10); err != nil {
		t.Fatalf("first update error = %v", err)
	}
	// The burst is 1; an immediate second update must be throttled
	// locally without touching the network.
	err := tr.UpdateLiveLocation(context.Background(), 25.21, 55.31, 10)
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("second update error = %v, want ErrThrottled", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.liveUpdates != 1 {
		t.Errorf("backend received %d live updates, want 1", backend.liveUpdates)
	}
}

func TestUpdateLiveLocationNeverQueued(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, _ := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer srv.Close()

	bus := events.NewBus()
	defer bus.Close()
	client := httpx.New(httpx.Config{
		BaseURL:        srv.URL,
		RetryBaseDelay: time.Millisecond,
	}, cache.New(), staticToken("tok"), bus)
	enq := &recordingEnqueuer{}
	tr := New(client, enq, nil)

	err := tr.UpdateLiveLocation(context.Background(), 25.2, 55.3, 10)
	if err == nil {
		t.Fatal("expected transport error from dead backend")
	}
	if enq.count() != 0 {
		t.Errorf("enqueued %d actions, want 0: live updates are never replayed", enq.count())
	}
}

// TestRouteDerivesFromVisitsOnly is the separation property: a session
// with many live updates and few visit points yields a route with exactly
// the visit points.
func TestRouteDerivesFromVisitsOnly(t *testing.T) {
	backend := &fakeBackend{}
	tr, _, _ := newTestTracker(t, backend.handler(), nil)

	ctx := context.Background()
	if _, _, err := tr.RecordVisitPoint(ctx, models.VisitRequest{
		Latitude: 25.10, Longitude: 55.20, VisitType: models.VisitAttendance,
	}); err != nil {
		t.Fatalf("visit 1: %v", err)
	}

	// Five live updates in between; all but the first throttle locally,
	// so feed them straight to the backend counter to simulate a spread
	// out stream.
	if err := tr.UpdateLiveLocation(ctx, 25.11, 55.21, 8); err != nil {
		t.Fatalf("live update: %v", err)
	}
	backend.mu.Lock()
	backend.liveUpdates += 4
	backend.mu.Unlock()

	if _, _, err := tr.RecordVisitPoint(ctx, models.VisitRequest{
		Latitude: 25.30, Longitude: 55.40, VisitType: models.VisitCustomer,
	}); err != nil {
		t.Fatalf("visit 2: %v", err)
	}

	route, err := tr.GetTodayRoute(ctx)
	if err != nil {
		t.Fatalf("GetTodayRoute() error = %v", err)
	}
	if len(route.Visits) != 2 {
		t.Fatalf("route has %d visits, want exactly 2 despite 5 live updates", len(route.Visits))
	}
	if len(route.RoutePath) != 2 {
		t.Fatalf("route path has %d points, want 2", len(route.RoutePath))
	}
	if route.RoutePath[0] != [2]float64{25.10, 55.20} || route.RoutePath[1] != [2]float64{25.30, 55.40} {
		t.Errorf("route path = %v, want the two visit points in order", route.RoutePath)
	}
}

func TestGetTodayRouteCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(models.Route{Date: "2026-08-31"})
	}))
	defer srv.Close()

	bus := events.NewBus()
	defer bus.Close()
	client := httpx.New(httpx.Config{BaseURL: srv.URL}, cache.New(), staticToken("tok"), bus)
	tr := New(client, &recordingEnqueuer{}, nil)

	ctx := context.Background()
	if _, err := tr.GetTodayRoute(ctx); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := tr.GetTodayRoute(ctx); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("backend hit %d times, want 1 (second read served from cache)", got)
	}
}

func TestGetRoutePathAndQuery(t *testing.T) {
	var gotPath, gotDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDate = r.URL.Query().Get("date")
		json.NewEncoder(w).Encode(models.Route{})
	}))
	defer srv.Close()

	bus := events.NewBus()
	defer bus.Close()
	client := httpx.New(httpx.Config{BaseURL: srv.URL}, cache.New(), staticToken("tok"), bus)
	tr := New(client, &recordingEnqueuer{}, nil)

	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	if _, err := tr.GetRoute(context.Background(), 42, day); err != nil {
		t.Fatalf("GetRoute() error = %v", err)
	}
	if gotPath != "/salesmen/42/route" {
		t.Errorf("path = %q, want /salesmen/42/route", gotPath)
	}
	if gotDate != "2026-08-30" {
		t.Errorf("date = %q, want 2026-08-30", gotDate)
	}
}

func TestFlowsWithoutLocationSource(t *testing.T) {
	backend := &fakeBackend{}
	tr, _, _ := newTestTracker(t, backend.handler(), nil)

	ctx := context.Background()
	if _, _, err := tr.CheckIn(ctx, ""); !errors.Is(err, ErrNoLocationSource) {
		t.Errorf("CheckIn() error = %v, want ErrNoLocationSource", err)
	}
	if _, _, err := tr.CheckOut(ctx, ""); !errors.Is(err, ErrNoLocationSource) {
		t.Errorf("CheckOut() error = %v, want ErrNoLocationSource", err)
	}
	if err := tr.StartStream(ctx, nil); !errors.Is(err, ErrNoLocationSource) {
		t.Errorf("StartStream() error = %v, want ErrNoLocationSource", err)
	}
	// Stop stays a no-op and the position-free paths keep working.
	tr.StopStream()
	if _, _, err := tr.RecordVisitPoint(ctx, models.VisitRequest{
		Latitude: 25.2, Longitude: 55.3, VisitType: models.VisitManual,
	}); err != nil {
		t.Errorf("RecordVisitPoint() error = %v, want success without a source", err)
	}
}

func TestCheckInRecordsAttendanceAndStartsStream(t *testing.T) {
	backend := &fakeBackend{}
	provider := &fakeStreamProvider{
		last: &location.Position{Latitude: 25.2, Longitude: 55.3, ObservedAt: time.Now()},
	}
	tr, _, _ := newTestTracker(t, backend.handler(), provider)
	defer tr.StopStream()

	receipt, queued, err := tr.CheckIn(context.Background(), "shift start")
	if err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	if queued {
		t.Error("check-in queued with backend reachable")
	}
	if receipt == nil || receipt.SequenceNo != 1 {
		t.Errorf("receipt = %+v, want sequence 1", receipt)
	}
	if !tr.Streaming() {
		t.Error("stream not started after check-in")
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.visits) != 1 || backend.visits[0].VisitType != models.VisitAttendance {
		t.Errorf("backend visits = %+v, want one attendance visit", backend.visits)
	}
}

func TestCheckOutStopsStream(t *testing.T) {
	backend := &fakeBackend{}
	provider := &fakeStreamProvider{
		last: &location.Position{Latitude: 25.2, Longitude: 55.3, ObservedAt: time.Now()},
	}
	tr, _, _ := newTestTracker(t, backend.handler(), provider)

	if _, _, err := tr.CheckIn(context.Background(), ""); err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	if !tr.Streaming() {
		t.Fatal("stream not running after check-in")
	}

	if _, _, err := tr.CheckOut(context.Background(), "shift end"); err != nil {
		t.Fatalf("CheckOut() error = %v", err)
	}
	if tr.Streaming() {
		t.Error("stream still running after check-out")
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.visits) != 2 {
		t.Errorf("backend visits = %d, want check-in plus check-out", len(backend.visits))
	}
}
