package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/green-route/internal/models"
)

func newRedisLocations(t *testing.T) (*RedisLocations, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mem := NewMemoryStore()
	return NewRedisLocations(mem, client, ""), mem, mr
}

func TestRedisLocationsIndexesOnSave(t *testing.T) {
	ctx := context.Background()
	rl, _, mr := newRedisLocations(t)

	require.NoError(t, rl.SaveTruck(ctx, &models.TruckRecord{
		TruckID:         "t1",
		Status:          models.TruckIdle,
		CurrentLocation: models.Location{Latitude: 28.6139, Longitude: 77.2090},
	}))
	assert.Equal(t, "idle", mr.HGet(metaKey("t1"), "status"))

	hits, err := rl.Nearby(ctx, 28.6139, 77.2090, 5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "t1", hits[0].TruckID)
}

func TestRedisLocationsNearbyOrderAndMove(t *testing.T) {
	ctx := context.Background()
	rl, mem, _ := newRedisLocations(t)

	require.NoError(t, rl.SaveTruck(ctx, &models.TruckRecord{TruckID: "a", CurrentLocation: models.Location{Latitude: 28.70, Longitude: 77.20}}))
	require.NoError(t, rl.SaveTruck(ctx, &models.TruckRecord{TruckID: "b", CurrentLocation: models.Location{Latitude: 28.62, Longitude: 77.21}}))

	hits, err := rl.Nearby(ctx, 28.6139, 77.2090, 50, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].TruckID)

	// moving a truck far away drops it from the radius
	require.NoError(t, rl.UpdateTruckLocation(ctx, "b", models.Location{Latitude: 19.07, Longitude: 72.87}))
	hits, err = rl.Nearby(ctx, 28.6139, 77.2090, 50, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].TruckID)

	moved, err := mem.LoadTruck(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 19.07, moved.CurrentLocation.Latitude)
}

func TestRedisLocationsUnknownTruckNotIndexed(t *testing.T) {
	ctx := context.Background()
	rl, _, mr := newRedisLocations(t)
	err := rl.UpdateTruckLocation(ctx, "ghost", models.Location{Latitude: 1, Longitude: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists(metaKey("ghost")))
}
