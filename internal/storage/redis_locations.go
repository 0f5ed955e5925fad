package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/green-route/internal/models"
)

const DefaultGeoKey = "trucks_geo"

// RedisLocations mirrors truck positions into a Redis GEO set so proximity
// queries do not hit the record store. All other calls pass through to the
// wrapped TruckStore.
type RedisLocations struct {
	TruckStore
	client *redis.Client
	key    string
}

func NewRedisLocations(next TruckStore, client *redis.Client, key string) *RedisLocations {
	if key == "" {
		key = DefaultGeoKey
	}
	return &RedisLocations{TruckStore: next, client: client, key: key}
}

func metaKey(id string) string { return "truck:meta:" + id }

func (r *RedisLocations) index(ctx context.Context, truckID string, status models.TruckStatus, loc models.Location) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Longitude, Latitude: loc.Latitude, Name: truckID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", truckID, err)
	}
	fields := map[string]interface{}{"updated": time.Now().UTC().Format(time.RFC3339)}
	if status != "" {
		fields["status"] = string(status)
	}
	if err := r.client.HSet(ctx, metaKey(truckID), fields).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", truckID, err)
	}
	return nil
}

func (r *RedisLocations) SaveTruck(ctx context.Context, t *models.TruckRecord) error {
	if err := r.TruckStore.SaveTruck(ctx, t); err != nil {
		return err
	}
	return r.index(ctx, t.TruckID, t.Status, t.CurrentLocation)
}

// UpdateTruckLocation writes the record first; the GEO entry only follows a
// successful write.
func (r *RedisLocations) UpdateTruckLocation(ctx context.Context, truckID string, loc models.Location) error {
	if err := r.TruckStore.UpdateTruckLocation(ctx, truckID, loc); err != nil {
		return err
	}
	return r.index(ctx, truckID, "", loc)
}

// Nearby resolves GEO hits back to records, skipping ids the store no longer has.
func (r *RedisLocations) Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]*models.TruckRecord, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: radiusKm, Unit: "km", WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}
	out := make([]*models.TruckRecord, 0, len(res))
	for _, g := range res {
		t, err := r.TruckStore.LoadTruck(ctx, g.Name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
