// Package optimizer generates alternative paths between two points, scores
// them against traffic, weather and predicted congestion, and decides when an
// in-progress route should be recalculated.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/example/green-route/internal/emission"
	"github.com/example/green-route/internal/geo"
	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/numeric"
	"github.com/example/green-route/internal/observability"
	"github.com/example/green-route/internal/traffic"
)

const (
	DefaultSegments        = 15
	DefaultDetourAmplitude = 0.01 // degrees latitude, independent of route length
	DefaultThreshold       = 0.30
	// zero traffic baselines are lifted to this before computing change
	MinBaselineTraffic = 0.01

	baseSpeedKmh    = 40.0
	typicalRouteKm  = 50.0
	alternativesCap = 3
)

type TrafficSource interface {
	AverageRouteTraffic(waypoints []models.Location) float64
}

type WeatherSource interface {
	AverageRouteImpact(waypoints []models.Location) float64
}

type Predictor interface {
	Predict(segmentID string) float64
}

// Service is safe for concurrent use once configured.
type Service struct {
	Traffic   TrafficSource
	Weather   WeatherSource
	Predictor Predictor // optional; without it predictions equal current traffic

	Segments        int
	DetourAmplitude float64
	Threshold       float64
}

func (s *Service) segments() int {
	if s.Segments <= 0 {
		return DefaultSegments
	}
	return s.Segments
}

func (s *Service) amplitude() float64 {
	if s.DetourAmplitude == 0 {
		return DefaultDetourAmplitude
	}
	return s.DetourAmplitude
}

func (s *Service) threshold() float64 {
	if s.Threshold <= 0 {
		return DefaultThreshold
	}
	return s.Threshold
}

// Alternatives returns the direct path followed by the northern and southern
// detours. Endpoints of every alternative are the exact origin and destination.
func (s *Service) Alternatives(origin, destination models.Location) [][]models.Location {
	direct := geo.Interpolate(origin, destination, s.segments())
	north := detour(direct, s.amplitude())
	south := detour(direct, -s.amplitude())
	return [][]models.Location{direct, north, south}
}

func detour(path []models.Location, amp float64) []models.Location {
	out := make([]models.Location, len(path))
	copy(out, path)
	for i := 1; i < len(out)-1; i++ {
		out[i].Latitude += math.Sin(float64(i)*0.5) * amp
	}
	return out
}

type scored struct {
	idx   int
	route models.OptimizedRoute
}

// Optimize scores every alternative concurrently and returns the one with the
// strictly highest overall score; ties keep the earliest alternative.
func (s *Service) Optimize(ctx context.Context, origin, destination models.Location, considerPredictions bool) (models.OptimizedRoute, error) {
	start := time.Now()
	alts := s.Alternatives(origin, destination)

	p := pool.NewWithResults[scored]().WithContext(ctx).WithMaxGoroutines(alternativesCap)
	for i, wps := range alts {
		i, wps := i, wps
		p.Go(func(ctx context.Context) (scored, error) {
			r, err := s.Score(ctx, wps, considerPredictions)
			return scored{idx: i, route: r}, err
		})
	}
	results, err := p.Wait()
	if err != nil {
		return models.OptimizedRoute{}, fmt.Errorf("optimize: %w", err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].idx < results[j].idx })

	best := results[0].route
	for _, r := range results[1:] {
		if r.route.OverallScore > best.OverallScore {
			best = r.route
		}
	}
	observability.OptimizationsTotal.Inc()
	observability.OptimizationLatency.Observe(time.Since(start).Seconds())
	return best, nil
}

// Score evaluates one path. It never fails on well-formed input; the only
// error is a cancelled context.
func (s *Service) Score(ctx context.Context, waypoints []models.Location, considerPredictions bool) (models.OptimizedRoute, error) {
	if err := ctx.Err(); err != nil {
		return models.OptimizedRoute{}, err
	}
	distance := geo.PathLength(waypoints)
	current := s.Traffic.AverageRouteTraffic(waypoints)

	predicted := current
	if considerPredictions && s.Predictor != nil {
		preds := make([]float64, len(waypoints))
		for i := range waypoints {
			preds[i] = s.Predictor.Predict(traffic.SegmentID(i))
		}
		predicted = numeric.Mean(preds)
	}
	// bias toward the worse estimate
	congestion := math.Max(current, predicted)
	weather := s.Weather.AverageRouteImpact(waypoints)

	fuel := emission.FuelConsumption(waypoints, congestion, weather, 0)
	co2 := emission.CO2(fuel)

	speed := math.Max(baseSpeedKmh*(1-congestion*0.5)*(1-weather*0.3), 1)
	duration := distance / speed * 60

	trafficScore := 1 - congestion
	weatherScore := 1 - weather
	distanceScore := 1 / (1 + distance/typicalRouteKm)
	predictionScore := trafficScore
	if considerPredictions {
		predictionScore = 1 - predicted
	}
	overall := 0.4*trafficScore + 0.2*weatherScore + 0.25*distanceScore + 0.15*predictionScore

	return models.OptimizedRoute{
		Waypoints:         waypoints,
		TotalDistance:     numeric.Round(distance, 2),
		EstimatedDuration: numeric.Round(duration, 0),
		FuelEstimate:      numeric.Round(fuel, 2),
		CO2Estimate:       numeric.Round(co2, 2),
		TrafficScore:      numeric.Round(trafficScore, 2),
		WeatherScore:      numeric.Round(weatherScore, 2),
		OverallScore:      numeric.Round(overall, 3),
	}, nil
}

// Decision is the outcome of a recalculation check. ChangePct is a ratio
// (0.3 means 30%).
type Decision struct {
	Trigger    bool    `json:"shouldRecalculate"`
	NewTraffic float64 `json:"newTraffic"`
	ChangePct  float64 `json:"changePct"`
}

// ShouldRecalculate compares fresh route traffic against previousTraffic and
// triggers on a relative change strictly above the threshold.
func (s *Service) ShouldRecalculate(waypoints []models.Location, previousTraffic float64) Decision {
	newTraffic := s.Traffic.AverageRouteTraffic(waypoints)
	base := math.Max(previousTraffic, MinBaselineTraffic)
	change := math.Abs(newTraffic-previousTraffic) / base
	return Decision{
		Trigger:    change > s.threshold(),
		NewTraffic: newTraffic,
		ChangePct:  change,
	}
}

// AlertDraft carries the user-facing part of a route-change alert.
type AlertDraft struct {
	Message     string  `json:"message"`
	FuelSavings float64 `json:"fuelSavings"`
	TimeSavings float64 `json:"timeSavings"`
}

// GenerateAlert never reports a negative saving; a worse new route is
// described as an efficiency adjustment.
func GenerateAlert(oldRoute, newRoute models.OptimizedRoute, reason string) AlertDraft {
	fuel := oldRoute.FuelEstimate - newRoute.FuelEstimate
	minutes := oldRoute.EstimatedDuration - newRoute.EstimatedDuration

	var msg string
	switch {
	case fuel > 0 && minutes > 0:
		msg = fmt.Sprintf("%s. Recommended route change will save %.1fL fuel and %d minutes.", reason, fuel, int(minutes))
	case fuel > 0:
		msg = fmt.Sprintf("%s. Recommended route change will save %.1fL fuel.", reason, fuel)
	default:
		msg = reason + ". Route adjusted for optimal efficiency."
	}
	return AlertDraft{
		Message:     msg,
		FuelSavings: numeric.Round(math.Max(0, fuel), 2),
		TimeSavings: math.Max(0, minutes),
	}
}
