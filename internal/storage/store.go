package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/green-route/internal/models"
)

// ErrNotFound is wrapped by every backend when a route or truck is missing.
var ErrNotFound = errors.New("storage: not found")

// RouteFilter narrows ListRoutes. Zero fields match everything.
type RouteFilter struct {
	TruckID string
	Status  models.RouteStatus
	Since   time.Time // CreatedAt >= Since
	Limit   int
}

// Matches reports whether r passes the filter (Limit is ignored).
func (f RouteFilter) Matches(r *models.RouteRecord) bool {
	if f.TruckID != "" && r.TruckID != f.TruckID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

type RouteStore interface {
	LoadRoute(ctx context.Context, routeID string) (*models.RouteRecord, error)
	SaveRoute(ctx context.Context, r *models.RouteRecord) error
	ListRoutes(ctx context.Context, f RouteFilter) ([]*models.RouteRecord, error)
}

type TruckStore interface {
	LoadTruck(ctx context.Context, truckID string) (*models.TruckRecord, error)
	SaveTruck(ctx context.Context, t *models.TruckRecord) error
	ListTrucks(ctx context.Context) ([]*models.TruckRecord, error)
	UpdateTruckLocation(ctx context.Context, truckID string, loc models.Location) error
}

// Locator finds trucks around a point, nearest first.
type Locator interface {
	Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]*models.TruckRecord, error)
}

// Store is what a backend provides to the server process.
type Store interface {
	RouteStore
	TruckStore
	Close() error
}

func cloneTruck(t *models.TruckRecord) *models.TruckRecord {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
