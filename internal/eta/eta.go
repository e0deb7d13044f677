package eta

import (
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
)

// Client is the interface the coordinator uses to estimate travel time
// from a pickup point to the matched hospital.
type Client interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// EstimateSeconds is the naive fallback: straight-line distance over a flat
// city speed. Good enough to set expectations on the driver dashboard.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h
	}
	return geo.DistanceKm(from, to) * 1000 / speedMps
}
