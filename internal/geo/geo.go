package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/example/emergency-dispatch/internal/models"
)

// DistanceKm returns the great-circle distance between two points in
// kilometers using the spherical-earth approximation. Out-of-range input
// yields NaN; callers treat NaN as incomparable and skip it when ranking.
func DistanceKm(a, b models.Coord) float64 {
	if !valid(a) || !valid(b) {
		return math.NaN()
	}
	const R = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}

func valid(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// ParseLatLng parses a combined "lat,lng" string. It returns ok=false on
// any malformed or out-of-range input; a bad location never escalates.
func ParseLatLng(s string) (models.Coord, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.Coord{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.Coord{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.Coord{}, false
	}
	c := models.Coord{Lat: lat, Lng: lng}
	if !valid(c) {
		return models.Coord{}, false
	}
	return c, true
}
