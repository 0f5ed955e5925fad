package fleet

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/numeric"
	"github.com/example/green-route/internal/predict"
	"github.com/example/green-route/internal/storage"
	"github.com/example/green-route/internal/traffic"
)

const (
	DefaultPredictionSegments = 10
	MaxPredictionSegments     = 20
)

type FleetSummary struct {
	TotalRoutes      int     `json:"totalRoutes"`
	TotalDistance    float64 `json:"totalDistance"`
	TotalFuelSaved   float64 `json:"totalFuelSaved"`
	TotalCO2Reduced  float64 `json:"totalCO2Reduced"`
	TotalTimeSaved   float64 `json:"totalTimeSaved"`
	TruckCount       int     `json:"truckCount"`
	ActiveTrucks     int     `json:"activeTrucks"`
	AverageFuelSaved float64 `json:"averageFuelSaved"`
}

// FleetSummary totals the metrics of every completed route.
func (s *Service) FleetSummary(ctx context.Context) (FleetSummary, error) {
	routes, err := s.Store.ListRoutes(ctx, storage.RouteFilter{Status: models.RouteCompleted})
	if err != nil {
		return FleetSummary{}, fmt.Errorf("fleet summary: %w", err)
	}
	trucks, err := s.Store.ListTrucks(ctx)
	if err != nil {
		return FleetSummary{}, fmt.Errorf("fleet summary: %w", err)
	}

	var sum FleetSummary
	for _, r := range routes {
		sum.TotalRoutes++
		sum.TotalDistance += r.Metrics.TotalDistance
		sum.TotalFuelSaved += r.Metrics.FuelSaved
		sum.TotalCO2Reduced += r.Metrics.CO2Reduced
		sum.TotalTimeSaved += r.Metrics.TimeSaved
	}
	sum.TruckCount = len(trucks)
	for _, t := range trucks {
		if t.Status == models.TruckActive {
			sum.ActiveTrucks++
		}
	}
	if sum.TotalRoutes > 0 {
		sum.AverageFuelSaved = numeric.Round(sum.TotalFuelSaved/float64(sum.TotalRoutes), 2)
	}
	return sum, nil
}

type DailyEmissions struct {
	Date       string  `json:"date"` // YYYY-MM-DD, UTC
	FuelSaved  float64 `json:"fuelSaved"`
	CO2Reduced float64 `json:"co2Reduced"`
	Routes     int     `json:"routes"`
}

// PeriodDays maps "30d" to 30 and anything else to 7.
func PeriodDays(period string) int {
	if period == "30d" {
		return 30
	}
	return 7
}

// Emissions breaks down savings of completed routes created within the
// period by day, oldest first. An empty truckID covers the whole fleet.
func (s *Service) Emissions(ctx context.Context, period, truckID string) ([]DailyEmissions, error) {
	since := s.now().AddDate(0, 0, -PeriodDays(period))
	routes, err := s.Store.ListRoutes(ctx, storage.RouteFilter{
		TruckID: truckID,
		Status:  models.RouteCompleted,
		Since:   since,
	})
	if err != nil {
		return nil, fmt.Errorf("emissions: %w", err)
	}

	byDay := make(map[string]*DailyEmissions)
	for _, r := range routes {
		day := r.CreatedAt.UTC().Format(time.DateOnly)
		d, ok := byDay[day]
		if !ok {
			d = &DailyEmissions{Date: day}
			byDay[day] = d
		}
		d.FuelSaved += r.Metrics.FuelSaved
		d.CO2Reduced += r.Metrics.CO2Reduced
		d.Routes++
	}
	out := make([]DailyEmissions, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

type SegmentPrediction struct {
	SegmentID  string    `json:"segmentId"`
	Prediction float64   `json:"prediction"`
	Timestamp  time.Time `json:"timestamp"`
}

type PredictionReport struct {
	Predictions []SegmentPrediction `json:"predictions"`
	Model       predict.ModelInfo   `json:"model"`
}

// Predictions forecasts seg_0..seg_{n-1}; n defaults to 10 and is capped at 20.
func (s *Service) Predictions(n int) PredictionReport {
	if n <= 0 {
		n = DefaultPredictionSegments
	}
	n = min(n, MaxPredictionSegments)
	now := s.now()
	out := make([]SegmentPrediction, n)
	for i := range out {
		id := traffic.SegmentID(i)
		out[i] = SegmentPrediction{SegmentID: id, Prediction: s.Predictor.Predict(id), Timestamp: now}
	}
	return PredictionReport{Predictions: out, Model: s.Predictor.Info()}
}
