package fleet

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/green-route/internal/geo"
	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/numeric"
)

const (
	DefaultNearbyRadiusKm = 50.0
	DefaultNearbyLimit    = 10
	// minutes added to the ETA of a truck that is already on a route
	busyPenaltyMinutes = 30.0
	approachSpeedKmh   = 40.0
)

type NearbyQuery struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
	Limit     int
}

// NearbyTruck is a dispatch candidate. Cost ranks candidates: approach time
// plus a penalty for trucks that are not idle. Offline trucks are skipped.
type NearbyTruck struct {
	Truck      *models.TruckRecord `json:"truck"`
	DistanceKm float64             `json:"distanceKm"`
	ETAMinutes float64             `json:"etaMinutes"`
	Cost       float64             `json:"cost"`
}

// NearbyTrucks returns trucks within the radius, cheapest to dispatch first.
func (s *Service) NearbyTrucks(ctx context.Context, q NearbyQuery) ([]NearbyTruck, error) {
	if s.Locator == nil {
		return nil, ErrNoLocator
	}
	origin := models.Location{Latitude: q.Latitude, Longitude: q.Longitude}
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if q.RadiusKm <= 0 {
		q.RadiusKm = DefaultNearbyRadiusKm
	}
	if q.Limit <= 0 {
		q.Limit = DefaultNearbyLimit
	}

	cands, err := s.Locator.Nearby(ctx, q.Latitude, q.Longitude, q.RadiusKm, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("nearby trucks: %w", err)
	}
	out := make([]NearbyTruck, 0, len(cands))
	for _, t := range cands {
		if t.Status == models.TruckOffline {
			continue
		}
		dist := geo.Distance(t.CurrentLocation, origin)
		eta := dist / approachSpeedKmh * 60
		cost := eta
		if t.Status != models.TruckIdle {
			cost += busyPenaltyMinutes
		}
		out = append(out, NearbyTruck{
			Truck:      t,
			DistanceKm: numeric.Round(dist, 2),
			ETAMinutes: numeric.Round(eta, 1),
			Cost:       cost,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cost < out[j].Cost })
	return out, nil
}
