// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package tracking

import (
	"math"
	"sort"

	"github.com/oryxerp/fieldsync/internal/models"
)

// earthRadiusKm is the mean Earth radius used for haversine distances.
const earthRadiusKm = 6371

// HaversineKm returns the great-circle distance between two points in
// kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1R := lat1 * math.Pi / 180
	lat2R := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1R)*math.Cos(lat2R)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// ValidCoordinates rejects obviously invalid GPS fixes: the (0,0) null
// island default and out-of-range values.
func ValidCoordinates(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	if lat < -90 || lat > 90 {
		return false
	}
	if lon < -180 || lon > 180 {
		return false
	}
	return true
}

// BuildRoute reconstructs a display route from visit points alone. The
// polyline and cumulative distance derive purely from the sequence-ordered
// set; live-location samples are never an input here. Routes are built
// from meaningful stops, not from a noisy continuous GPS trail.
//
// The server's distance_from_prev_km is the authority when present;
// distance is recomputed with haversine only for visits missing it.
func BuildRoute(visits []models.RouteVisit) models.Route {
	ordered := make([]models.RouteVisit, len(visits))
	copy(ordered, visits)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	route := models.Route{
		Visits:    ordered,
		RoutePath: make([][2]float64, 0, len(ordered)),
	}

	var total float64
	for i, v := range ordered {
		route.RoutePath = append(route.RoutePath, [2]float64{v.Latitude, v.Longitude})

		switch {
		case i == 0:
			// First stop contributes no leg distance.
		case v.DistanceFromPrevKm > 0:
			total += v.DistanceFromPrevKm
		default:
			prev := ordered[i-1]
			total += HaversineKm(prev.Latitude, prev.Longitude, v.Latitude, v.Longitude)
		}
	}

	route.Summary = models.RouteSummary{
		TotalDistanceKm: math.Round(total*100) / 100,
		TotalVisits:     len(ordered),
	}
	if len(ordered) > 0 {
		if first := ordered[0].VisitedAt; first != nil {
			route.Summary.StartTime = first.Format("15:04")
		}
		last := ordered[len(ordered)-1]
		switch {
		case last.EndTime != nil:
			route.Summary.EndTime = last.EndTime.Format("15:04")
		case last.VisitedAt != nil:
			route.Summary.EndTime = last.VisitedAt.Format("15:04")
		}
	}
	return route
}
