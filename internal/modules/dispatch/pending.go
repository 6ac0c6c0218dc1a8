// README: Pending offer bookkeeping: which drivers heard about a ride and which offers a driver still holds.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sharedride/internal/types"
)

const (
	notifiedKeyPrefix = "dispatch:ride:%s:notified"
	pendingKeyPrefix  = "dispatch:driver:%s:pending"
	// Notified sets outlive offers so cancellations still reach every driver told about a ride.
	notifiedTTL = 24 * time.Hour
)

type PendingStore interface {
	RecordOffers(ctx context.Context, rideID types.ID, drivers []types.ID, ttl time.Duration) error
	Notified(ctx context.Context, rideID types.ID) ([]types.ID, error)
	// Remove drops one driver's offer and leaves the ride's notified set alone.
	Remove(ctx context.Context, rideID, driverID types.ID) error
	// Clear deletes the notified set, withdraws every offer and returns who had been notified.
	Clear(ctx context.Context, rideID types.ID) ([]types.ID, error)
	PendingFor(ctx context.Context, driverID types.ID) ([]types.ID, error)
}

type RedisPendingStore struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisPendingStore(rdb *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{redis: rdb, now: time.Now}
}

func notifiedKey(rideID types.ID) string {
	return fmt.Sprintf(notifiedKeyPrefix, string(rideID))
}

func pendingKey(driverID types.ID) string {
	return fmt.Sprintf(pendingKeyPrefix, string(driverID))
}

func (s *RedisPendingStore) RecordOffers(ctx context.Context, rideID types.ID, drivers []types.ID, ttl time.Duration) error {
	if len(drivers) == 0 {
		return nil
	}
	expires := s.now().Add(ttl)
	members := make([]interface{}, len(drivers))
	for i, d := range drivers {
		members[i] = string(d)
	}

	pipe := s.redis.TxPipeline()
	pipe.SAdd(ctx, notifiedKey(rideID), members...)
	pipe.Expire(ctx, notifiedKey(rideID), notifiedTTL)
	for _, d := range drivers {
		pipe.ZAdd(ctx, pendingKey(d), redis.Z{Score: float64(expires.Unix()), Member: string(rideID)})
		pipe.Expire(ctx, pendingKey(d), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording offers: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Notified(ctx context.Context, rideID types.ID) ([]types.ID, error) {
	names, err := s.redis.SMembers(ctx, notifiedKey(rideID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading notified drivers: %w", err)
	}
	return sortedIDs(names), nil
}

func (s *RedisPendingStore) Remove(ctx context.Context, rideID, driverID types.ID) error {
	return s.redis.ZRem(ctx, pendingKey(driverID), string(rideID)).Err()
}

func (s *RedisPendingStore) Clear(ctx context.Context, rideID types.ID) ([]types.ID, error) {
	pipe := s.redis.TxPipeline()
	members := pipe.SMembers(ctx, notifiedKey(rideID))
	pipe.Del(ctx, notifiedKey(rideID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("clearing notified drivers: %w", err)
	}
	ids := sortedIDs(members.Val())
	if len(ids) == 0 {
		return ids, nil
	}

	pipe = s.redis.Pipeline()
	for _, d := range ids {
		pipe.ZRem(ctx, pendingKey(d), string(rideID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return ids, fmt.Errorf("withdrawing offers: %w", err)
	}
	return ids, nil
}

func (s *RedisPendingStore) PendingFor(ctx context.Context, driverID types.ID) ([]types.ID, error) {
	key := pendingKey(driverID)
	now := strconv.FormatInt(s.now().Unix(), 10)
	pipe := s.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+now)
	live := pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: now, Max: "+inf"})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("reading pending offers: %w", err)
	}
	ids := make([]types.ID, len(live.Val()))
	for i, name := range live.Val() {
		ids[i] = types.ID(name)
	}
	return ids, nil
}

type MemoryPendingStore struct {
	mu       sync.Mutex
	notified map[types.ID]map[types.ID]struct{}
	offers   map[types.ID]map[types.ID]time.Time
	now      func() time.Time
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		notified: make(map[types.ID]map[types.ID]struct{}),
		offers:   make(map[types.ID]map[types.ID]time.Time),
		now:      time.Now,
	}
}

func (m *MemoryPendingStore) RecordOffers(_ context.Context, rideID types.ID, drivers []types.ID, ttl time.Duration) error {
	if len(drivers) == 0 {
		return nil
	}
	expires := m.now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.notified[rideID]
	if !ok {
		set = make(map[types.ID]struct{})
		m.notified[rideID] = set
	}
	for _, d := range drivers {
		set[d] = struct{}{}
		held, ok := m.offers[d]
		if !ok {
			held = make(map[types.ID]time.Time)
			m.offers[d] = held
		}
		held[rideID] = expires
	}
	return nil
}

func (m *MemoryPendingStore) Notified(_ context.Context, rideID types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return setIDs(m.notified[rideID]), nil
}

func (m *MemoryPendingStore) Remove(_ context.Context, rideID, driverID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropOffer(driverID, rideID)
	return nil
}

func (m *MemoryPendingStore) Clear(_ context.Context, rideID types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := setIDs(m.notified[rideID])
	delete(m.notified, rideID)
	for _, d := range ids {
		m.dropOffer(d, rideID)
	}
	return ids, nil
}

func (m *MemoryPendingStore) PendingFor(_ context.Context, driverID types.ID) ([]types.ID, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	type offer struct {
		ride    types.ID
		expires time.Time
	}
	var live []offer
	for rideID, exp := range m.offers[driverID] {
		if exp.Before(now) {
			delete(m.offers[driverID], rideID)
			continue
		}
		live = append(live, offer{ride: rideID, expires: exp})
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].expires.Equal(live[j].expires) {
			return live[i].ride < live[j].ride
		}
		return live[i].expires.Before(live[j].expires)
	})
	ids := make([]types.ID, len(live))
	for i, o := range live {
		ids[i] = o.ride
	}
	return ids, nil
}

// dropOffer requires m.mu.
func (m *MemoryPendingStore) dropOffer(driverID, rideID types.ID) {
	held, ok := m.offers[driverID]
	if !ok {
		return
	}
	delete(held, rideID)
	if len(held) == 0 {
		delete(m.offers, driverID)
	}
}

func setIDs(set map[types.ID]struct{}) []types.ID {
	ids := make([]types.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedIDs(names []string) []types.ID {
	ids := make([]types.ID, len(names))
	for i, n := range names {
		ids[i] = types.ID(n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
