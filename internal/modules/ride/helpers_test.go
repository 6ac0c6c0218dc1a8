package ride

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sharedride/internal/modules/geocrypt"
	"sharedride/internal/modules/pricing"
	"sharedride/internal/types"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var (
	origin = Location{Label: "Home", Point: types.Point{Lat: 0, Lng: 0}}
	dest   = Location{Label: "Office", Point: types.Point{Lat: 3, Lng: 4}}
)

func newTestCoordinator(t *testing.T, store Store, opts ...Option) *Coordinator {
	t.Helper()
	codec, err := geocrypt.NewFromHex(testKey)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return NewCoordinator(store, codec, pricing.NewCalculator(), opts...)
}

func mustCreateRide(t *testing.T, c *Coordinator, passengerID types.ID) *Ride {
	t.Helper()
	r, err := c.CreateRide(context.Background(), CreateCommand{
		PassengerID: passengerID,
		Origin:      origin,
		Destination: dest,
		RideClass:   pricing.ClassStandard,
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func assertStatus(t *testing.T, c *Coordinator, id types.ID, want Status) *Ride {
	t.Helper()
	r, err := c.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	if r.Status != want {
		t.Fatalf("status = %s, want %s", r.Status, want)
	}
	return r
}

// fakeClock is a settable clock for freshness tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// storeBackends returns every backend available to this test run. Memory is
// always present; Postgres and Mongo join when their env vars are set.
func storeBackends(t *testing.T) map[string]func(t *testing.T) Store {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
	}
	if os.Getenv("RIDEHAIL_TEST_DSN") != "" {
		backends["postgres"] = func(t *testing.T) Store { return setupPGStore(t) }
	}
	if os.Getenv("RIDEHAIL_TEST_MONGO_URI") != "" {
		backends["mongo"] = func(t *testing.T) Store { return setupMongoStore(t) }
	}
	return backends
}

func setupPGStore(t *testing.T) *PGStore {
	t.Helper()

	dsn := os.Getenv("RIDEHAIL_TEST_DSN")
	if dsn == "" {
		t.Skip("RIDEHAIL_TEST_DSN not set; skipping Postgres-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE payments, rides"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPGStore(db)
}

func setupMongoStore(t *testing.T) *MongoStore {
	t.Helper()

	uri := os.Getenv("RIDEHAIL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("RIDEHAIL_TEST_MONGO_URI not set; skipping Mongo-backed tests")
	}

	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database("sharedride_test")
	if err := db.Collection(collectionRides).Drop(ctx); err != nil {
		t.Fatalf("drop rides: %v", err)
	}
	s := NewMongoStore(db)
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return s
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
