package dispatch

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sharedride/internal/config"
	"sharedride/internal/modules/geocrypt"
	"sharedride/internal/modules/pricing"
	"sharedride/internal/modules/ride"
	"sharedride/internal/types"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var (
	pickup  = ride.Location{Label: "Station", Point: types.Point{Lat: 25.0330, Lng: 121.5654}}
	dropoff = ride.Location{Label: "Airport", Point: types.Point{Lat: 25.0797, Lng: 121.2342}}
	nearby  = types.Point{Lat: 25.0340, Lng: 121.5660}
	faraway = types.Point{Lat: 24.1477, Lng: 120.6736}
)

// recordingNotifier keeps every notification it is asked to send.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) to(recipient types.ID) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.sent {
		if n.Recipient == recipient {
			out = append(out, n)
		}
	}
	return out
}

func (r *recordingNotifier) recipients(t EventType) []types.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ID
	for _, n := range r.sent {
		if n.Type == t {
			out = append(out, n.Recipient)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type failingRegistry struct{}

func (failingRegistry) Available(context.Context, types.Point) ([]types.ID, error) {
	return nil, errors.New("registry offline")
}

type fixture struct {
	coord    *ride.Coordinator
	registry *MemoryRegistry
	pending  *MemoryPendingStore
	notes    *recordingNotifier
	b        *Broadcaster
}

func newFixture(t *testing.T, cfg config.DispatchConfig) *fixture {
	t.Helper()
	codec, err := geocrypt.NewFromHex(testKey)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	coord := ride.NewCoordinator(ride.NewMemoryStore(), codec, pricing.NewCalculator())
	if cfg.RadiusKm == 0 {
		cfg.RadiusKm = 3
	}
	f := &fixture{
		coord:    coord,
		registry: NewMemoryRegistry(cfg.RadiusKm),
		pending:  NewMemoryPendingStore(),
		notes:    &recordingNotifier{},
	}
	f.b = NewBroadcaster(coord, f.registry, f.pending, f.notes, cfg, zerolog.Nop())
	return f
}

func (f *fixture) online(t *testing.T, at types.Point, ids ...types.ID) {
	t.Helper()
	for _, id := range ids {
		if err := f.registry.SetAvailable(context.Background(), id, at); err != nil {
			t.Fatalf("set available %s: %v", id, err)
		}
	}
}

func (f *fixture) request(t *testing.T, passengerID types.ID) *ride.Ride {
	t.Helper()
	r, err := f.coord.CreateRide(context.Background(), ride.CreateCommand{
		PassengerID: passengerID,
		Origin:      pickup,
		Destination: dropoff,
		RideClass:   pricing.ClassStandard,
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("RIDEHAIL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RIDEHAIL_TEST_REDIS_ADDR not set; skipping redis test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func assertIDs(t *testing.T, got []types.ID, want ...types.ID) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}
