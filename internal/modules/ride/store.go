// README: RideStore contract; adapters live in pg_store.go, mongo_store.go and memory_store.go.
package ride

import (
	"context"
	"time"

	"sharedride/internal/types"
)

// Store is the durable record of rides. ConditionalUpdate must evaluate the
// condition and apply the mutation as one atomic step in the backend.
type Store interface {
	Insert(ctx context.Context, r *Ride) error
	FindByID(ctx context.Context, id types.ID) (*Ride, error)
	FindActive(ctx context.Context, f Filter) ([]*Ride, error)
	// ConditionalUpdate returns ErrPreconditionFailed when the ride is missing
	// or the condition does not hold.
	ConditionalUpdate(ctx context.Context, id types.ID, cond Condition, mut Mutation) (*Ride, error)
}

type Filter struct {
	Statuses       []Status
	PassengerID    types.ID
	DriverID       types.ID
	RequestedAfter time.Time
	Limit          int
}

// Condition is the predicate half of a compare-and-set. Zero fields are not checked.
type Condition struct {
	Status       Status
	DriverAbsent bool
	Version      *int
}

// Mutation always appends Event and bumps Version.
type Mutation struct {
	Status      Status
	DriverID    *types.ID
	ClearDriver bool
	EndTime     *time.Time
	Event       Event
}

func (c Condition) Matches(r *Ride) bool {
	if c.Status != "" && r.Status != c.Status {
		return false
	}
	if c.DriverAbsent && r.DriverID != nil {
		return false
	}
	if c.Version != nil && r.Version != *c.Version {
		return false
	}
	return true
}

// Apply mutates r in place.
func (m Mutation) Apply(r *Ride) {
	if m.Status != "" {
		r.Status = m.Status
	}
	if m.DriverID != nil {
		d := *m.DriverID
		r.DriverID = &d
	} else if m.ClearDriver {
		r.DriverID = nil
	}
	if m.EndTime != nil {
		e := *m.EndTime
		r.EndTime = &e
	}
	if m.Event.Type != "" {
		r.Events = append(r.Events, m.Event)
	}
	r.Version++
}

func (f Filter) Matches(r *Ride) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PassengerID != "" && r.PassengerID != f.PassengerID {
		return false
	}
	if f.DriverID != "" && !r.HasDriver(f.DriverID) {
		return false
	}
	if !f.RequestedAfter.IsZero() && !r.RequestedAt.After(f.RequestedAfter) {
		return false
	}
	return true
}
