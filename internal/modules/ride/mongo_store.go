// README: Ride store backed by MongoDB; ConditionalUpdate is a filtered FindOneAndUpdate.
package ride

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sharedride/internal/types"
)

const (
	collectionRides = "rides"
	mongoTimeout    = 10 * time.Second
)

type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection(collectionRides)}
}

func (s *MongoStore) Insert(ctx context.Context, r *Ride) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	doc := r.Clone()
	doc.Events = nonNilEvents(doc.Events)
	_, err := s.col.InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) FindByID(ctx context.Context, id types.ID) (*Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	var r Ride
	err := s.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *MongoStore) FindActive(ctx context.Context, f Filter) ([]*Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	filter := bson.M{}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if f.PassengerID != "" {
		filter["passenger_id"] = string(f.PassengerID)
	}
	if f.DriverID != "" {
		filter["driver_id"] = string(f.DriverID)
	}
	if !f.RequestedAfter.IsZero() {
		filter["requested_at"] = bson.M{"$gt": f.RequestedAfter}
	}

	opts := options.Find().SetSort(bson.D{{Key: "requested_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Ride
	for cur.Next(ctx) {
		var r Ride
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, cur.Err()
}

func (s *MongoStore) ConditionalUpdate(ctx context.Context, id types.ID, cond Condition, mut Mutation) (*Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	filter := bson.M{"_id": string(id)}
	if cond.Status != "" {
		filter["status"] = string(cond.Status)
	}
	if cond.DriverAbsent {
		filter["driver_id"] = nil
	}
	if cond.Version != nil {
		filter["version"] = *cond.Version
	}

	set := bson.M{}
	if mut.Status != "" {
		set["status"] = string(mut.Status)
	}
	if mut.DriverID != nil {
		set["driver_id"] = string(*mut.DriverID)
	}
	if mut.EndTime != nil {
		set["end_time"] = *mut.EndTime
	}
	update := bson.M{"$inc": bson.M{"version": 1}}
	if len(set) > 0 {
		update["$set"] = set
	}
	if mut.DriverID == nil && mut.ClearDriver {
		update["$unset"] = bson.M{"driver_id": ""}
	}
	if mut.Event.Type != "" {
		update["$push"] = bson.M{"events": mut.Event}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var r Ride
	err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPreconditionFailed
		}
		return nil, err
	}
	return &r, nil
}

// EnsureIndexes creates the indexes used by FindActive.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "requested_at", Value: -1}}},
		{Keys: bson.D{{Key: "passenger_id", Value: 1}}},
		{Keys: bson.D{{Key: "driver_id", Value: 1}}},
	}
	_, err := s.col.Indexes().CreateMany(ctx, indexes)
	return err
}
