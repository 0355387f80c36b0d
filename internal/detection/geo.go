// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/models"
)

// floatEpsilon guards float comparisons; coordinates within this of
// (0, 0) are treated as unknown sentinels.
const floatEpsilon = 1e-7

// isUnknownLocation reports whether the coordinates are the unknown
// sentinel. Epsilon comparison avoids IEEE 754 equality surprises.
func isUnknownLocation(lat, lon float64) bool {
	return math.Abs(lat) < floatEpsilon && math.Abs(lon) < floatEpsilon
}

type lastLogin struct {
	ip  string
	lat float64
	lon float64
	at  time.Time
}

// GeoAnomalyDetector flags successful logins whose implied travel speed
// from the user's previous login location is implausible. The cached
// location always advances to the newest login, flagged or not, so one
// anomaly does not echo through every later comparison.
type GeoAnomalyDetector struct {
	cfg      config.GeoAnomalyConfig
	resolver GeoResolver

	mu   sync.Mutex
	last map[string]lastLogin
}

// NewGeoAnomalyDetector creates the impossible-travel detector.
func NewGeoAnomalyDetector(cfg config.GeoAnomalyConfig, resolver GeoResolver) *GeoAnomalyDetector {
	return &GeoAnomalyDetector{
		cfg:      cfg,
		resolver: resolver,
		last:     make(map[string]lastLogin),
	}
}

// Type returns the alert type this detector handles.
func (d *GeoAnomalyDetector) Type() AlertType {
	return AlertTypeGeoAnomaly
}

// Check compares a successful login's location against the user's
// previous one. Unknown locations, nearby moves, and long time gaps all
// pass; only a required speed above MaxSpeedKmH over at least
// MinDistanceKm within MaxGap is flagged.
func (d *GeoAnomalyDetector) Check(ctx context.Context, event *models.ActivityEvent) (*Alert, error) {
	if event.Action != models.ActionLoginAttempt || !event.LoginOK {
		return nil, nil
	}

	loc, err := d.resolver.Resolve(ctx, event.IP)
	if err != nil {
		return nil, fmt.Errorf("geolocation lookup for %s: %w", event.IP, err)
	}
	if loc == nil || isUnknownLocation(loc.Latitude, loc.Longitude) {
		return nil, nil
	}

	d.mu.Lock()
	prev, hasPrev := d.last[event.UserID]
	d.last[event.UserID] = lastLogin{
		ip:  event.IP,
		lat: loc.Latitude,
		lon: loc.Longitude,
		at:  event.Timestamp,
	}
	d.mu.Unlock()

	if !hasPrev {
		return nil, nil
	}

	gap := event.Timestamp.Sub(prev.at)
	if gap <= 0 || gap > d.cfg.MaxGap {
		return nil, nil
	}

	distanceKm := haversineDistance(prev.lat, prev.lon, loc.Latitude, loc.Longitude)
	if distanceKm < d.cfg.MinDistanceKm {
		return nil, nil
	}

	requiredSpeed := distanceKm / gap.Hours()
	if requiredSpeed <= d.cfg.MaxSpeedKmH {
		return nil, nil
	}

	details, _ := json.Marshal(GeoAnomalyDetails{
		FromIP:           prev.ip,
		FromLatitude:     prev.lat,
		FromLongitude:    prev.lon,
		FromTimestamp:    prev.at,
		ToIP:             event.IP,
		ToLatitude:       loc.Latitude,
		ToLongitude:      loc.Longitude,
		ToTimestamp:      event.Timestamp,
		DistanceKm:       distanceKm,
		TimeDeltaMins:    gap.Minutes(),
		RequiredSpeedKmH: requiredSpeed,
	})
	return &Alert{
		Type:     AlertTypeGeoAnomaly,
		UserID:   event.UserID,
		IP:       event.IP,
		Severity: SeverityCritical,
		Title:    "Impossible travel",
		Message: fmt.Sprintf("User %s logged in %0.f km apart within %0.f minutes (%.0f km/h required)",
			event.UserID, distanceKm, gap.Minutes(), requiredSpeed),
		Details:   details,
		CreatedAt: event.Timestamp,
	}, nil
}

// Sweep drops cached login locations older than MaxGap: past that age
// any travel is plausible, so the entry can never flag again.
func (d *GeoAnomalyDetector) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for userID, prev := range d.last {
		if now.Sub(prev.at) > d.cfg.MaxGap {
			delete(d.last, userID)
			removed++
		}
	}
	return removed
}

// haversineDistance calculates the great-circle distance in kilometers
// between two coordinate pairs.
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
