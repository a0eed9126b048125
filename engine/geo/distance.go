// Package geo provides great-circle distance math and a Nominatim-backed
// geocoder for resolving place names to coordinates.
package geo

import (
	"math"

	"github.com/tastegraph/gusto-engine/engine/domain"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the haversine distance in kilometres between two points.
func DistanceKm(a, b domain.Coordinates) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// CandidateDistanceKm returns the distance from the user to the candidate,
// or +Inf when the candidate has no known coordinates.
func CandidateDistanceKm(user domain.Coordinates, c *domain.Candidate) float64 {
	if c.Coordinates == nil {
		return math.Inf(1)
	}
	return DistanceKm(user, *c.Coordinates)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
