package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/green-route/internal/geo"
	"github.com/example/green-route/internal/models"
)

// MemoryStore keeps routes and trucks in maps. Records are copied on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	routes map[string]*models.RouteRecord
	trucks map[string]*models.TruckRecord
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		routes: make(map[string]*models.RouteRecord),
		trucks: make(map[string]*models.TruckRecord),
		now:    time.Now,
	}
}

func (m *MemoryStore) LoadRoute(_ context.Context, routeID string) (*models.RouteRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[routeID]
	if !ok {
		return nil, fmt.Errorf("route %s: %w", routeID, ErrNotFound)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) SaveRoute(_ context.Context, r *models.RouteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[r.RouteID] = r.Clone()
	return nil
}

// ListRoutes returns matching routes newest first.
func (m *MemoryStore) ListRoutes(_ context.Context, f RouteFilter) ([]*models.RouteRecord, error) {
	m.mu.RLock()
	out := make([]*models.RouteRecord, 0, len(m.routes))
	for _, r := range m.routes {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RouteID < out[j].RouteID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) LoadTruck(_ context.Context, truckID string) (*models.TruckRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trucks[truckID]
	if !ok {
		return nil, fmt.Errorf("truck %s: %w", truckID, ErrNotFound)
	}
	return cloneTruck(t), nil
}

func (m *MemoryStore) SaveTruck(_ context.Context, t *models.TruckRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trucks[t.TruckID] = cloneTruck(t)
	return nil
}

func (m *MemoryStore) ListTrucks(_ context.Context) ([]*models.TruckRecord, error) {
	m.mu.RLock()
	out := make([]*models.TruckRecord, 0, len(m.trucks))
	for _, t := range m.trucks {
		out = append(out, cloneTruck(t))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TruckID < out[j].TruckID })
	return out, nil
}

// UpdateTruckLocation is last-writer-wins.
func (m *MemoryStore) UpdateTruckLocation(_ context.Context, truckID string, loc models.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trucks[truckID]
	if !ok {
		return fmt.Errorf("truck %s: %w", truckID, ErrNotFound)
	}
	t.CurrentLocation = loc
	t.UpdatedAt = m.now()
	return nil
}

// Nearby scans every truck; fine for the fleet sizes the memory backend serves.
func (m *MemoryStore) Nearby(_ context.Context, lat, lon, radiusKm float64, limit int) ([]*models.TruckRecord, error) {
	type hit struct {
		t *models.TruckRecord
		d float64
	}
	m.mu.RLock()
	hits := make([]hit, 0)
	for _, t := range m.trucks {
		d := geo.Haversine(lat, lon, t.CurrentLocation.Latitude, t.CurrentLocation.Longitude)
		if d <= radiusKm {
			hits = append(hits, hit{cloneTruck(t), d})
		}
	}
	m.mu.RUnlock()
	sort.Slice(hits, func(i, j int) bool { return hits[i].d < hits[j].d })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*models.TruckRecord, len(hits))
	for i, h := range hits {
		out[i] = h.t
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
