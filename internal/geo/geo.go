// Package geo provides pure distance and attendance-window math.
package geo

import (
	"math"
	"time"

	"fieldops/internal/model"
)

// DefaultGeofenceRadiusM is used when a caller does not specify a radius.
const DefaultGeofenceRadiusM = 120.0

const earthRadiusM = 6371000.0

// DistanceMeters returns the great-circle (haversine) distance between two
// coordinates in meters.
func DistanceMeters(a, b model.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// WithinGeofence reports whether current is within radiusM meters of target.
// A radius <= 0 falls back to DefaultGeofenceRadiusM. Absent points are never
// inside any geofence.
func WithinGeofence(current, target *model.GeoPoint, radiusM float64) bool {
	if current == nil || target == nil {
		return false
	}
	if radiusM <= 0 {
		radiusM = DefaultGeofenceRadiusM
	}
	return DistanceMeters(*current, *target) <= radiusM
}

// WithinAttendanceWindow reports whether the instant falls inside at least
// one window. An empty window list means no restriction. Weekdays use
// 0=Sunday..6=Saturday; time bounds are inclusive.
func WithinAttendanceWindow(instant time.Time, windows []model.AttendanceWindow) bool {
	if len(windows) == 0 {
		return true
	}
	weekday := int(instant.Weekday())
	minute := instant.Hour()*60 + instant.Minute()
	for _, w := range windows {
		if !containsDay(w.Weekdays, weekday) {
			continue
		}
		if minute >= w.StartMin && minute <= w.EndMin {
			return true
		}
	}
	return false
}

func containsDay(days []int, d int) bool {
	for _, v := range days {
		if v == d {
			return true
		}
	}
	return false
}
