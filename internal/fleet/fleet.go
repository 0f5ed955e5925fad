// Package fleet is the application service behind the REST API: truck and
// route management, analytics over completed routes, and cache housekeeping.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/predict"
	"github.com/example/green-route/internal/storage"
	"github.com/example/green-route/internal/tracking"
)

const (
	DefaultFuelCapacity       = 300.0 // liters
	DefaultAverageConsumption = 0.3   // L/km
)

// DefaultTruckLocation is where new trucks are parked (New Delhi).
var DefaultTruckLocation = models.Location{Latitude: 28.6139, Longitude: 77.2090}

var (
	// ErrRouteTracked is returned when a change would race the tracking
	// session that owns the route's waypoints.
	ErrRouteTracked = errors.New("fleet: route is being tracked")
	ErrNoLocator    = errors.New("fleet: nearby search not supported by store")
	ErrInvalidInput = errors.New("fleet: invalid input")
)

type Store interface {
	storage.RouteStore
	storage.TruckStore
}

type Optimizer interface {
	Optimize(ctx context.Context, origin, destination models.Location, considerPredictions bool) (models.OptimizedRoute, error)
}

type TrafficReader interface {
	SegmentReadings(waypoints []models.Location) []models.TrafficReading
}

type Forecaster interface {
	Predict(segmentID string) float64
	Info() predict.ModelInfo
}

// Tracker is the view of the tracking controller the service needs. Route
// mutations run inside Exclusive so no session can start or tick meanwhile.
type Tracker interface {
	IsTracking(routeID string) bool
	Exclusive(ctx context.Context, routeID string, stopRunning bool, fn func(context.Context) error) error
}

type Deps struct {
	Store     Store
	Locator   storage.Locator // optional
	Optimizer Optimizer
	Traffic   TrafficReader
	Predictor Forecaster
	Tracker   Tracker // optional
}

type Service struct {
	Deps
	logger *slog.Logger
	now    func() time.Time
	newID  func(prefix string) string
}

func New(d Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Deps:   d,
		logger: logger,
		now:    time.Now,
		newID:  func(prefix string) string { return prefix + "_" + uuid.NewString() },
	}
}

// exclusive runs fn with routeID held away from tracking. Conflicts with a
// session or another writer come back as ErrRouteTracked.
func (s *Service) exclusive(ctx context.Context, routeID string, stopRunning bool, fn func(context.Context) error) error {
	if s.Tracker == nil {
		return fn(ctx)
	}
	err := s.Tracker.Exclusive(ctx, routeID, stopRunning, fn)
	if errors.Is(err, tracking.ErrAlreadyTracking) || errors.Is(err, tracking.ErrRouteBusy) {
		return fmt.Errorf("%w: %w", ErrRouteTracked, err)
	}
	return err
}

type TruckInput struct {
	RegistrationNumber string           `json:"registrationNumber"`
	DriverName         string           `json:"driverName"`
	FuelCapacity       float64          `json:"fuelCapacity"`
	AverageConsumption float64          `json:"averageConsumption"`
	Location           *models.Location `json:"currentLocation,omitempty"`
}

func (s *Service) CreateTruck(ctx context.Context, in TruckInput) (*models.TruckRecord, error) {
	loc := DefaultTruckLocation
	if in.Location != nil {
		if err := in.Location.Validate(); err != nil {
			return nil, err
		}
		loc = models.Location{Latitude: in.Location.Latitude, Longitude: in.Location.Longitude}
	}
	if in.FuelCapacity < 0 || in.AverageConsumption < 0 {
		return nil, fmt.Errorf("%w: negative fuel figures", ErrInvalidInput)
	}
	now := s.now()
	t := &models.TruckRecord{
		TruckID:            s.newID("truck"),
		RegistrationNumber: in.RegistrationNumber,
		DriverName:         in.DriverName,
		CurrentLocation:    loc.At(now),
		Status:             models.TruckIdle,
		FuelCapacity:       in.FuelCapacity,
		AverageConsumption: in.AverageConsumption,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if t.FuelCapacity == 0 {
		t.FuelCapacity = DefaultFuelCapacity
	}
	if t.AverageConsumption == 0 {
		t.AverageConsumption = DefaultAverageConsumption
	}
	if err := s.Store.SaveTruck(ctx, t); err != nil {
		return nil, fmt.Errorf("create truck: %w", err)
	}
	s.logger.Info("truck created", "truck_id", t.TruckID)
	return t, nil
}

func (s *Service) GetTruck(ctx context.Context, truckID string) (*models.TruckRecord, error) {
	if err := models.ValidateID("truck", truckID); err != nil {
		return nil, err
	}
	return s.Store.LoadTruck(ctx, truckID)
}

func (s *Service) ListTrucks(ctx context.Context) ([]*models.TruckRecord, error) {
	return s.Store.ListTrucks(ctx)
}

// TruckUpdate carries the mutable truck fields; nil means unchanged.
type TruckUpdate struct {
	Status             *models.TruckStatus `json:"status,omitempty"`
	DriverName         *string             `json:"driverName,omitempty"`
	RegistrationNumber *string             `json:"registrationNumber,omitempty"`
}

func (s *Service) UpdateTruck(ctx context.Context, truckID string, u TruckUpdate) (*models.TruckRecord, error) {
	t, err := s.GetTruck(ctx, truckID)
	if err != nil {
		return nil, err
	}
	if u.Status != nil {
		switch *u.Status {
		case models.TruckActive, models.TruckIdle, models.TruckOffline:
			t.Status = *u.Status
		default:
			return nil, fmt.Errorf("%w: unknown truck status %q", ErrInvalidInput, *u.Status)
		}
	}
	if u.DriverName != nil {
		t.DriverName = *u.DriverName
	}
	if u.RegistrationNumber != nil {
		t.RegistrationNumber = *u.RegistrationNumber
	}
	t.UpdatedAt = s.now()
	if err := s.Store.SaveTruck(ctx, t); err != nil {
		return nil, fmt.Errorf("update truck %s: %w", truckID, err)
	}
	return t, nil
}

func (s *Service) TruckLocation(ctx context.Context, truckID string) (models.Location, error) {
	t, err := s.GetTruck(ctx, truckID)
	if err != nil {
		return models.Location{}, err
	}
	return t.CurrentLocation, nil
}
