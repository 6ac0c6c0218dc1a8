// README: Driver availability registries backed by Redis GEO or memory.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"sharedride/internal/types"
)

const driverGeoKey = "dispatch:drivers"

// wholeEarthKm is half the equatorial circumference, so a search of this
// radius from any point covers the globe.
const wholeEarthKm = 20038.0

// Registry returns the drivers that should hear about a ride starting at origin,
// closest first.
type Registry interface {
	Available(ctx context.Context, origin types.Point) ([]types.ID, error)
}

// AvailabilityWriter is implemented by registries the API may update.
type AvailabilityWriter interface {
	SetAvailable(ctx context.Context, driverID types.ID, at types.Point) error
	SetUnavailable(ctx context.Context, driverID types.ID) error
}

// RedisRegistry keeps driver positions in a Redis GEO set. A radius <= 0 means
// every available driver is returned, closest first.
type RedisRegistry struct {
	redis    *redis.Client
	radiusKm float64
}

func NewRedisRegistry(rdb *redis.Client, radiusKm float64) *RedisRegistry {
	return &RedisRegistry{redis: rdb, radiusKm: radiusKm}
}

func (r *RedisRegistry) SetAvailable(ctx context.Context, driverID types.ID, at types.Point) error {
	if err := at.Validate(); err != nil {
		return err
	}
	return r.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: at.Lng,
		Latitude:  at.Lat,
	}).Err()
}

func (r *RedisRegistry) SetUnavailable(ctx context.Context, driverID types.ID) error {
	return r.redis.ZRem(ctx, driverGeoKey, string(driverID)).Err()
}

func (r *RedisRegistry) Available(ctx context.Context, origin types.Point) ([]types.ID, error) {
	results, err := r.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  origin.Lng,
		Latitude:   origin.Lat,
		Radius:     r.searchRadius(),
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("searching available drivers: %w", err)
	}
	ids := make([]types.ID, len(results))
	for i, name := range results {
		ids[i] = types.ID(name)
	}
	return ids, nil
}

func (r *RedisRegistry) searchRadius() float64 {
	if r.radiusKm <= 0 {
		return wholeEarthKm
	}
	return r.radiusKm
}

// MemoryRegistry keeps driver positions in process. A radius <= 0 means every
// available driver is returned regardless of distance.
type MemoryRegistry struct {
	mu       sync.RWMutex
	drivers  map[types.ID]types.Point
	radiusKm float64
}

func NewMemoryRegistry(radiusKm float64) *MemoryRegistry {
	return &MemoryRegistry{drivers: make(map[types.ID]types.Point), radiusKm: radiusKm}
}

func (m *MemoryRegistry) SetAvailable(_ context.Context, driverID types.ID, at types.Point) error {
	if err := at.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.drivers[driverID] = at
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) SetUnavailable(_ context.Context, driverID types.ID) error {
	m.mu.Lock()
	delete(m.drivers, driverID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) Available(_ context.Context, origin types.Point) ([]types.ID, error) {
	type candidate struct {
		id   types.ID
		dist float64
	}
	m.mu.RLock()
	found := make([]candidate, 0, len(m.drivers))
	for id, p := range m.drivers {
		d := origin.DistanceKm(p)
		if m.radiusKm > 0 && d > m.radiusKm {
			continue
		}
		found = append(found, candidate{id: id, dist: d})
	}
	m.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool {
		if found[i].dist == found[j].dist {
			return found[i].id < found[j].id
		}
		return found[i].dist < found[j].dist
	})
	ids := make([]types.ID, len(found))
	for i, c := range found {
		ids[i] = c.id
	}
	return ids, nil
}
