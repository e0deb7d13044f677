package match

import (
	"math"

	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
)

// NearestHospital scans hospitals in registry order and returns the one
// closest to origin. Hospitals without a parsed coordinate are skipped.
// Ties keep the first-encountered hospital; the scan never re-sorts, so the
// result is deterministic for a fixed registry snapshot. Returns nil when no
// hospital has a usable coordinate.
func NearestHospital(hospitals []models.Actor, origin models.Coord) *models.HospitalMatch {
	var best *models.HospitalMatch
	for _, h := range hospitals {
		if h.Coord == nil {
			continue
		}
		d := geo.DistanceKm(origin, *h.Coord)
		if math.IsNaN(d) {
			continue
		}
		if best == nil || d < best.DistanceKm {
			best = &models.HospitalMatch{
				ConnID:     h.ConnID,
				Name:       h.Name,
				Address:    h.Address,
				DistanceKm: d,
			}
		}
	}
	return best
}
