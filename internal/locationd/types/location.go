// Package types defines the core value types shared by the location
// daemon: position fixes, client requests, merged provider requests,
// caller identity, and power attribution.
package types

import (
	"math"
	"time"
)

const earthRadiusM = 6371000.0

// Location is a single position fix produced by a provider.
type Location struct {
	Provider  string    `json:"provider"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AccuracyM float64   `json:"accuracy_m"`
	Time      time.Time `json:"time"`
	Mock      bool      `json:"mock,omitempty"`
}

// IsComplete reports whether the fix carries everything downstream
// consumers rely on. Incomplete fixes are dropped at ingestion.
func (l *Location) IsComplete() bool {
	if l == nil {
		return false
	}
	if l.Provider == "" || l.Time.IsZero() {
		return false
	}
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
		return false
	}
	return l.AccuracyM > 0
}

// IsZeroCoordinate reports whether the fix sits exactly on (0, 0).
// Some drivers emit that as an uninitialized sentinel.
func (l *Location) IsZeroCoordinate() bool {
	return l.Latitude == 0 && l.Longitude == 0
}

// AgeAt returns how old the fix is relative to now.
func (l *Location) AgeAt(now time.Time) time.Duration {
	return now.Sub(l.Time)
}

// DistanceM returns the great-circle distance to other in meters.
func (l *Location) DistanceM(other *Location) float64 {
	lat1 := l.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := (other.Latitude - l.Latitude) * math.Pi / 180
	dLon := (other.Longitude - l.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Copy returns a defensive copy. Every delivery hands out a copy so no
// client ever observes a shared mutable instance.
func (l *Location) Copy() *Location {
	if l == nil {
		return nil
	}
	out := *l
	return &out
}
