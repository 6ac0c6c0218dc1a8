// README: Payment stores; Record is idempotent per ride.
package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sharedride/internal/types"
)

type Store interface {
	// Record inserts p unless the ride already has a payment. created reports
	// whether this call wrote the row.
	Record(ctx context.Context, p *Payment) (created bool, err error)
	FindByRide(ctx context.Context, rideID types.ID) (*Payment, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Record(ctx context.Context, p *Payment) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO payments (id, ride_id, passenger_id, amount, type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ride_id) DO NOTHING`,
		string(p.ID), string(p.RideID), string(p.PassengerID),
		p.Amount, p.Type, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) FindByRide(ctx context.Context, rideID types.ID) (*Payment, error) {
	var p Payment
	var id, rid, pid, status string
	err := s.db.QueryRow(ctx, `
		SELECT id, ride_id, passenger_id, amount, type, status, created_at
		FROM payments WHERE ride_id = $1`, string(rideID),
	).Scan(&id, &rid, &pid, &p.Amount, &p.Type, &status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ID, p.RideID, p.PassengerID, p.Status = types.ID(id), types.ID(rid), types.ID(pid), Status(status)
	return &p, nil
}

const collectionPayments = "payments"

type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection(collectionPayments)}
}

// EnsureIndexes creates the unique ride_id index Record relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ride_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *MongoStore) Record(ctx context.Context, p *Payment) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := s.col.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MongoStore) FindByRide(ctx context.Context, rideID types.ID) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var p Payment
	err := s.col.FindOne(ctx, bson.M{"ride_id": string(rideID)}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type MemoryStore struct {
	mu     sync.Mutex
	byRide map[types.ID]Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRide: make(map[types.ID]Payment)}
}

func (s *MemoryStore) Record(_ context.Context, p *Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byRide[p.RideID]; ok {
		return false, nil
	}
	s.byRide[p.RideID] = *p
	return true, nil
}

func (s *MemoryStore) FindByRide(_ context.Context, rideID types.ID) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byRide[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}
