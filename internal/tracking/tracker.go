// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package tracking implements the field-staff tracking model on top of the
// resilient HTTP client.
//
// Two write paths exist and are never merged:
//
//   - Visit points (RecordVisitPoint) are durable, sequenced stops that
//     build the day's route. They survive connectivity loss through the
//     offline queue.
//   - Live-location updates (UpdateLiveLocation) are an ephemeral presence
//     signal: each overwrites the previous one server-side, none is ever
//     queued: a stale position replayed hours later is worse than no
//     position at all.
//
// Route reconstruction reads exclusively from visit history. Conflating
// the two paths would make historical routes depend on noisy continuous
// GPS rather than meaningful stops.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/oryxerp/fieldsync/internal/httpx"
	"github.com/oryxerp/fieldsync/internal/location"
	"github.com/oryxerp/fieldsync/internal/logging"
	"github.com/oryxerp/fieldsync/internal/metrics"
	"github.com/oryxerp/fieldsync/internal/models"
)

// Backend endpoints. The sync layer owns no business rules; these are the
// whole contract.
const (
	pathVisits      = "/visits"
	pathVisitsToday = "/visits/today"
	pathLiveUpdate  = "/location/update"
)

// routeCacheTTL keeps route reads cheap during a day of repeated map opens
// without showing stale stops for long.
const routeCacheTTL = 60 * time.Second

// liveUpdatesPerMinute caps the ephemeral position stream. Matches the
// backend's per-user rate limit, so the client never burns requests the
// server would reject.
const liveUpdatesPerMinute = 6

// ErrInvalidCoordinates rejects a fix before it reaches the network.
var ErrInvalidCoordinates = errors.New("tracking: invalid coordinates")

// ErrThrottled reports a live-location update dropped by the local rate
// limiter. Not a failure: the next allowed update carries newer data anyway.
var ErrThrottled = errors.New("tracking: live update throttled")

// ErrNoLocationSource reports a flow that needs a position on a Tracker
// built without a location source.
var ErrNoLocationSource = errors.New("tracking: no location source configured")

// VisitReceipt is re-exported for callers that only import tracking.
type VisitReceipt = models.VisitReceipt

// Tracker is the tracking model. Construct with New; safe for concurrent use.
type Tracker struct {
	client   *httpx.Client
	queue    httpx.Enqueuer
	source   *location.Source
	validate *validator.Validate
	limiter  *rate.Limiter

	stream streamHandle
}

// New creates a Tracker. queue receives visit submissions that fail with a
// persistent network error; source supplies positions for the check-in
// convenience flows and the continuous stream.
func New(client *httpx.Client, queue httpx.Enqueuer, source *location.Source) *Tracker {
	return &Tracker{
		client:   client,
		queue:    queue,
		source:   source,
		validate: validator.New(),
		limiter:  rate.NewLimiter(rate.Every(time.Minute/liveUpdatesPerMinute), 1),
	}
}

// RecordVisitPoint submits a durable, sequenced visit point. The server
// assigns the sequence number and computes the distance from the previous
// stop. When the network is persistently down the visit is queued and a
// nil receipt is returned with queued=true; the visit is durable either way.
func (t *Tracker) RecordVisitPoint(ctx context.Context, req models.VisitRequest) (receipt *VisitReceipt, queued bool, err error) {
	if !ValidCoordinates(req.Latitude, req.Longitude) {
		return nil, false, fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinates, req.Latitude, req.Longitude)
	}
	if !req.VisitType.Valid() {
		return nil, false, fmt.Errorf("tracking: unknown visit type %q", req.VisitType)
	}

	// Backend field limits; trim rather than reject.
	req.CustomerName = truncate(strings.TrimSpace(req.CustomerName), 255)
	req.Notes = truncate(strings.TrimSpace(req.Notes), 2000)

	if err := t.validate.Struct(req); err != nil {
		return nil, false, fmt.Errorf("tracking: invalid visit: %w", err)
	}

	resp, queued, err := t.client.DoOrEnqueue(ctx, httpx.Request{
		Method: http.MethodPost,
		Path:   pathVisits,
		Body:   req,
		// Visit submissions are distinct side effects; two rapid manual
		// stops must both reach the server.
		NoDedupe: true,
	}, t.queue)
	if err != nil {
		return nil, false, err
	}
	if queued {
		logging.Info().Str("visit_type", string(req.VisitType)).Msg("visit queued for sync")
		return nil, true, nil
	}

	var rec VisitReceipt
	if err := resp.JSON(&rec); err != nil {
		return nil, false, err
	}
	metrics.VisitsRecorded.Inc()
	logging.Info().
		Str("visit_type", string(req.VisitType)).
		Int("sequence", rec.SequenceNo).
		Float64("distance_km", rec.DistanceFromPrevKm).
		Msg("visit recorded")
	return &rec, false, nil
}

// UpdateLiveLocation submits an ephemeral presence update. Fire-and-forget
// semantics: rate-limited locally, never queued, never retried past the
// transport's own budget. Errors are returned for the caller to log and
// drop; there is nothing to recover, the next update supersedes this one.
func (t *Tracker) UpdateLiveLocation(ctx context.Context, lat, lon, accuracyM float64) error {
	if !ValidCoordinates(lat, lon) {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinates, lat, lon)
	}
	if !t.limiter.Allow() {
		metrics.LiveUpdatesThrottled.Inc()
		return ErrThrottled
	}

	_, err := t.client.Do(ctx, httpx.Request{
		Method: http.MethodPost,
		Path:   pathLiveUpdate,
		Body: models.LiveLocationUpdate{
			Latitude:  lat,
			Longitude: lon,
			AccuracyM: accuracyM,
		},
	})
	if err != nil {
		return err
	}
	metrics.LiveUpdatesSent.Inc()
	return nil
}

// GetTodayRoute fetches the caller's own route for today.
func (t *Tracker) GetTodayRoute(ctx context.Context) (*models.Route, error) {
	return t.fetchRoute(ctx, pathVisitsToday, nil)
}

// GetRoute fetches a user's route for a given day (admin view). The route
// derives exclusively from visit points; live-location samples are not an
// input.
func (t *Tracker) GetRoute(ctx context.Context, userID int64, date time.Time) (*models.Route, error) {
	path := fmt.Sprintf("/salesmen/%d/route", userID)
	return t.fetchRoute(ctx, path, map[string]string{
		"date": date.Format("2006-01-02"),
	})
}

func (t *Tracker) fetchRoute(ctx context.Context, path string, query map[string]string) (*models.Route, error) {
	resp, err := t.client.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Path:     path,
		Query:    query,
		CacheTTL: routeCacheTTL,
	})
	if err != nil {
		return nil, err
	}

	var route models.Route
	if err := resp.JSON(&route); err != nil {
		return nil, err
	}

	// Rebuild the polyline and totals from the visit list so the display
	// never depends on a server-side summary that may lag an active session.
	rebuilt := BuildRoute(route.Visits)
	route.Visits = rebuilt.Visits
	route.RoutePath = rebuilt.RoutePath
	if route.Summary.TotalVisits == 0 {
		route.Summary = rebuilt.Summary
	}
	return &route, nil
}

// CheckIn records an attendance visit at the current position and starts
// the continuous live-location stream. The position comes from the fast
// acquisition path and never blocks on GPS; with location unavailable the
// check-in proceeds without coordinates rejected client-side only when the
// provider returned a position that fails validation.
func (t *Tracker) CheckIn(ctx context.Context, notes string) (*VisitReceipt, bool, error) {
	if t.source == nil {
		return nil, false, ErrNoLocationSource
	}
	pos, err := t.source.GetPositionFast(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	if pos == nil {
		return nil, false, fmt.Errorf("tracking: no position available for check-in")
	}

	receipt, queued, err := t.RecordVisitPoint(ctx, models.VisitRequest{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		AccuracyM: pos.AccuracyM,
		VisitType: models.VisitAttendance,
		Notes:     notes,
	})
	if err != nil {
		return nil, false, err
	}

	if err := t.StartStream(ctx, nil); err != nil {
		logging.Warn().Err(err).Msg("check-in recorded but stream failed to start")
	}
	return receipt, queued, nil
}

// CheckOut records the closing attendance visit and stops the stream.
// Stream shutdown happens regardless of the visit outcome.
func (t *Tracker) CheckOut(ctx context.Context, notes string) (*VisitReceipt, bool, error) {
	if t.source == nil {
		return nil, false, ErrNoLocationSource
	}
	defer t.StopStream()

	pos, err := t.source.GetPositionFast(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	if pos == nil {
		return nil, false, fmt.Errorf("tracking: no position available for check-out")
	}

	return t.RecordVisitPoint(ctx, models.VisitRequest{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		AccuracyM: pos.AccuracyM,
		VisitType: models.VisitAttendance,
		Notes:     notes,
	})
}

// truncate limits s to max bytes without splitting the string mid-rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8StartByte(s[max]) {
		max--
	}
	return s[:max]
}

func utf8StartByte(b byte) bool {
	return b&0xC0 != 0x80
}
