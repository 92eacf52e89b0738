// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package models holds the wire DTOs exchanged with the ERP backend.
// JSON is decoded at the boundary; the transport itself stays
// payload-agnostic.
package models

import "time"

// VisitType classifies a durable visit point.
type VisitType string

const (
	VisitAttendance    VisitType = "attendance"
	VisitManual        VisitType = "manual"
	VisitJobCompletion VisitType = "job_completion"
	VisitCustomer      VisitType = "customer_visit"
)

// Valid reports whether v is a known visit type.
func (v VisitType) Valid() bool {
	switch v {
	case VisitAttendance, VisitManual, VisitJobCompletion, VisitCustomer:
		return true
	}
	return false
}

// VisitRequest is the POST /visits body. Coordinate tags check range
// only: zero is a legal value on one axis (equator, prime meridian), and
// the (0,0) null-island pair is rejected upstream before validation.
type VisitRequest struct {
	Latitude     float64   `json:"latitude" validate:"latitude"`
	Longitude    float64   `json:"longitude" validate:"longitude"`
	AccuracyM    float64   `json:"accuracy_m" validate:"gte=0"`
	VisitType    VisitType `json:"visit_type" validate:"required"`
	CustomerName string    `json:"customer_name,omitempty" validate:"max=255"`
	Notes        string    `json:"notes,omitempty" validate:"max=2000"`
}

// VisitReceipt is the POST /visits response.
type VisitReceipt struct {
	VisitID            int64   `json:"visit_id"`
	SequenceNo         int     `json:"sequence_no"`
	DistanceFromPrevKm float64 `json:"distance_from_prev_km"`
	Message            string  `json:"message"`
}

// LiveLocationUpdate is the POST /location/update body. Acknowledged only;
// it never contributes to route history.
type LiveLocationUpdate struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	AccuracyM float64 `json:"accuracy_m" validate:"gte=0"`
}

// RouteVisit is one sequenced visit point in a reconstructed route.
type RouteVisit struct {
	ID                 int64      `json:"id"`
	Sequence           int        `json:"sequence"`
	CustomerName       string     `json:"customer_name,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	Latitude           float64    `json:"lat"`
	Longitude          float64    `json:"lng"`
	AccuracyM          float64    `json:"accuracy"`
	Address            string     `json:"address,omitempty"`
	VisitType          VisitType  `json:"visit_type"`
	DistanceFromPrevKm float64    `json:"distance_km"`
	VisitedAt          *time.Time `json:"visited_at,omitempty"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	Status             string     `json:"status,omitempty"`
}

// RouteSummary carries per-day route totals.
type RouteSummary struct {
	TotalDistanceKm float64 `json:"total_distance_km"`
	TotalVisits     int     `json:"total_visits"`
	StartTime       string  `json:"start_time,omitempty"`
	EndTime         string  `json:"end_time,omitempty"`
}

// Route is the reconstructed day route for one user, derived exclusively
// from visit points ordered by sequence.
type Route struct {
	Date          string       `json:"date"`
	SessionStatus string       `json:"session_status,omitempty"`
	Summary       RouteSummary `json:"summary"`
	Visits        []RouteVisit `json:"visits"`
	// RoutePath is the polyline as [lat, lng] pairs in sequence order.
	RoutePath [][2]float64 `json:"route_path"`
}

// LiveLocationSample is the presence signal shown on the admin map.
// At most one current sample exists per user; each update overwrites the
// previous one.
type LiveLocationSample struct {
	UserID    int64     `json:"user_id"`
	FullName  string    `json:"full_name,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AccuracyM float64   `json:"accuracy_m"`
	UpdatedAt time.Time `json:"updated_at"`
	IsActive  bool      `json:"is_active"`
}
