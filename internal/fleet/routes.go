package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/green-route/internal/emission"
	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/storage"
)

const DefaultReoptimizeReason = "Traffic conditions changed"

type RouteInput struct {
	TruckID     string       `json:"truckId"`
	Origin      models.Place `json:"origin"`
	Destination models.Place `json:"destination"`
}

// RoutePlan is a route together with the optimization that produced it.
type RoutePlan struct {
	Route        *models.RouteRecord   `json:"route"`
	Optimization models.OptimizedRoute `json:"optimization"`
}

func (in RouteInput) validate() error {
	if err := models.ValidateID("truck", in.TruckID); err != nil {
		return err
	}
	return errors.Join(in.Origin.Validate(), in.Destination.Validate())
}

// CreateRoute optimizes a new route for an existing truck and assigns it.
// The route is stored as planned; metrics carry the optimization and the
// savings expected against the baseline route.
func (s *Service) CreateRoute(ctx context.Context, in RouteInput) (*RoutePlan, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	truck, err := s.Store.LoadTruck(ctx, in.TruckID)
	if err != nil {
		return nil, err
	}

	opt, err := s.Optimizer.Optimize(ctx, in.Origin.Location, in.Destination.Location, true)
	if err != nil {
		return nil, fmt.Errorf("optimize route: %w", err)
	}

	congestion := 1 - opt.TrafficScore
	impact := 1 - opt.WeatherScore
	base := emission.DefaultBaseline()
	savings := emission.CalculateSavings(opt.Waypoints, congestion, impact, base)
	minutes := emission.TimeSavings(opt.TotalDistance, congestion, emission.BaselineDistance(opt.TotalDistance), base.Traffic)

	now := s.now()
	origin, dest := in.Origin, in.Destination
	if origin.Address == "" {
		origin.Address = "Origin"
	}
	if dest.Address == "" {
		dest.Address = "Destination"
	}
	route := &models.RouteRecord{
		RouteID:     s.newID("route"),
		TruckID:     in.TruckID,
		Origin:      origin,
		Destination: dest,
		Waypoints:   opt.Waypoints,
		Status:      models.RoutePlanned,
		Metrics: models.RouteMetrics{
			TotalDistance:     opt.TotalDistance,
			EstimatedDuration: opt.EstimatedDuration,
			FuelSaved:         savings.FuelSaved,
			CO2Reduced:        savings.CO2Reduced,
			TimeSaved:         float64(minutes),
		},
		TrafficData:    []models.TrafficSample{},
		Recalculations: []models.Recalculation{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.SaveRoute(ctx, route); err != nil {
		return nil, fmt.Errorf("create route: %w", err)
	}

	truck.Status = models.TruckActive
	truck.ActiveRouteID = route.RouteID
	truck.UpdatedAt = now
	if err := s.Store.SaveTruck(ctx, truck); err != nil {
		return nil, fmt.Errorf("assign route %s: %w", route.RouteID, err)
	}
	s.logger.Info("route created", "route_id", route.RouteID, "truck_id", truck.TruckID, "distance_km", opt.TotalDistance)
	return &RoutePlan{Route: route, Optimization: opt}, nil
}

func (s *Service) GetRoute(ctx context.Context, routeID string) (*models.RouteRecord, error) {
	if err := models.ValidateID("route", routeID); err != nil {
		return nil, err
	}
	return s.Store.LoadRoute(ctx, routeID)
}

type ReoptimizeInput struct {
	CurrentPosition     *models.Location `json:"currentPosition,omitempty"`
	Reason              string           `json:"reason,omitempty"`
	ExpectedFuelSavings float64          `json:"expectedFuelSavings,omitempty"`
	ExpectedTimeSavings float64          `json:"expectedTimeSavings,omitempty"`
}

// ReoptimizeRoute replaces the route's waypoints with a fresh optimization
// from the given position (the first waypoint by default) and records it.
// Tracked routes are refused: their session is the only waypoint writer.
func (s *Service) ReoptimizeRoute(ctx context.Context, routeID string, in ReoptimizeInput) (*RoutePlan, error) {
	if err := models.ValidateID("route", routeID); err != nil {
		return nil, err
	}
	var plan *RoutePlan
	err := s.exclusive(ctx, routeID, false, func(ctx context.Context) error {
		route, err := s.Store.LoadRoute(ctx, routeID)
		if err != nil {
			return err
		}
		opt, err := s.optimizeFrom(ctx, route, in.CurrentPosition)
		if err != nil {
			return err
		}

		reason := in.Reason
		if reason == "" {
			reason = DefaultReoptimizeReason
		}
		now := s.now()
		route.Recalculations = append(route.Recalculations, models.Recalculation{
			Timestamp:       now,
			Reason:          reason,
			NewRoute:        opt.Waypoints,
			ExpectedSavings: models.ExpectedSavings{Fuel: in.ExpectedFuelSavings, Time: in.ExpectedTimeSavings},
		})
		route.Waypoints = opt.Waypoints
		route.UpdatedAt = now
		if err := s.Store.SaveRoute(ctx, route); err != nil {
			return err
		}
		plan = &RoutePlan{Route: route, Optimization: opt}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reoptimize %s: %w", routeID, err)
	}
	return plan, nil
}

// PreviewOptimization computes a route from position to the destination
// without touching the stored route.
func (s *Service) PreviewOptimization(ctx context.Context, routeID string, position *models.Location) (models.OptimizedRoute, error) {
	route, err := s.GetRoute(ctx, routeID)
	if err != nil {
		return models.OptimizedRoute{}, err
	}
	return s.optimizeFrom(ctx, route, position)
}

func (s *Service) optimizeFrom(ctx context.Context, route *models.RouteRecord, position *models.Location) (models.OptimizedRoute, error) {
	var from models.Location
	switch {
	case position != nil:
		if err := position.Validate(); err != nil {
			return models.OptimizedRoute{}, err
		}
		from = *position
	case len(route.Waypoints) > 0:
		from = route.Waypoints[0]
	default:
		from = route.Origin.Location
	}
	opt, err := s.Optimizer.Optimize(ctx, from, route.Destination.Location, true)
	if err != nil {
		return models.OptimizedRoute{}, fmt.Errorf("optimize route %s: %w", route.RouteID, err)
	}
	return opt, nil
}

// SegmentTraffic is a live reading for one waypoint of a route.
type SegmentTraffic struct {
	models.TrafficReading
	Location models.Location `json:"location"`
}

func (s *Service) RouteTraffic(ctx context.Context, routeID string) ([]SegmentTraffic, error) {
	route, err := s.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	readings := s.Traffic.SegmentReadings(route.Waypoints)
	out := make([]SegmentTraffic, len(readings))
	for i, r := range readings {
		out[i] = SegmentTraffic{TrafficReading: r, Location: route.Waypoints[i]}
	}
	return out, nil
}

// MetricsPatch overrides route metrics on completion; nil fields are kept.
type MetricsPatch struct {
	TotalDistance     *float64 `json:"totalDistance,omitempty"`
	EstimatedDuration *float64 `json:"estimatedDuration,omitempty"`
	ActualDuration    *float64 `json:"actualDuration,omitempty"`
	FuelUsed          *float64 `json:"fuelUsed,omitempty"`
	FuelSaved         *float64 `json:"fuelSaved,omitempty"`
	CO2Emitted        *float64 `json:"co2Emitted,omitempty"`
	CO2Reduced        *float64 `json:"co2Reduced,omitempty"`
	TimeSaved         *float64 `json:"timeSaved,omitempty"`
}

func (p MetricsPatch) apply(m *models.RouteMetrics) {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&m.TotalDistance, p.TotalDistance)
	set(&m.EstimatedDuration, p.EstimatedDuration)
	set(&m.ActualDuration, p.ActualDuration)
	set(&m.FuelUsed, p.FuelUsed)
	set(&m.FuelSaved, p.FuelSaved)
	set(&m.CO2Emitted, p.CO2Emitted)
	set(&m.CO2Reduced, p.CO2Reduced)
	set(&m.TimeSaved, p.TimeSaved)
}

// CompleteRoute marks the route completed, merges metrics and frees the truck.
// A running tracking session is stopped first.
func (s *Service) CompleteRoute(ctx context.Context, routeID string, patch MetricsPatch) (*models.RouteRecord, error) {
	return s.finish(ctx, routeID, models.RouteCompleted, func(r *models.RouteRecord) { patch.apply(&r.Metrics) })
}

// CancelRoute marks the route cancelled and frees the truck.
func (s *Service) CancelRoute(ctx context.Context, routeID string) (*models.RouteRecord, error) {
	return s.finish(ctx, routeID, models.RouteCancelled, nil)
}

func (s *Service) finish(ctx context.Context, routeID string, status models.RouteStatus, mutate func(*models.RouteRecord)) (*models.RouteRecord, error) {
	if err := models.ValidateID("route", routeID); err != nil {
		return nil, err
	}
	var route *models.RouteRecord
	err := s.exclusive(ctx, routeID, true, func(ctx context.Context) error {
		var err error
		route, err = s.markFinished(ctx, routeID, status, mutate)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("route finished", "route_id", routeID, "status", status)
	return route, nil
}

func (s *Service) markFinished(ctx context.Context, routeID string, status models.RouteStatus, mutate func(*models.RouteRecord)) (*models.RouteRecord, error) {
	route, err := s.Store.LoadRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	route.Status = status
	route.UpdatedAt = now
	if status == models.RouteCompleted {
		route.CompletedAt = &now
	}
	if mutate != nil {
		mutate(route)
	}
	if err := s.Store.SaveRoute(ctx, route); err != nil {
		return nil, fmt.Errorf("%s route %s: %w", status, routeID, err)
	}

	truck, err := s.Store.LoadTruck(ctx, route.TruckID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return route, nil
	case err != nil:
		return nil, err
	}
	if truck.ActiveRouteID == routeID || truck.ActiveRouteID == "" {
		truck.Status = models.TruckIdle
		truck.ActiveRouteID = ""
		truck.UpdatedAt = now
		if err := s.Store.SaveTruck(ctx, truck); err != nil {
			return nil, fmt.Errorf("release truck %s: %w", truck.TruckID, err)
		}
	}
	return route, nil
}
