// README: Ride aggregate, status definitions and the transition graph.
package ride

import (
	"time"

	"sharedride/internal/modules/geocrypt"
	"sharedride/internal/modules/pricing"
	"sharedride/internal/types"
)

type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusMatched   Status = "MATCHED"
	StatusOngoing   Status = "ONGOING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Event types recorded in the ride log.
const (
	EventRequested       = "ride_requested"
	EventDriverAssigned  = "driver_assigned"
	EventStatusChanged   = "status_changed"
	EventPaymentRecorded = "payment_recorded"
	EventPaymentFailed   = "payment_failed"
)

// Place is the stored form of an endpoint; the point is always encrypted.
type Place struct {
	Label string        `json:"label" bson:"label"`
	Point geocrypt.Blob `json:"point" bson:"point"`
}

type Event struct {
	Type      string            `json:"type" bson:"type"`
	Timestamp time.Time         `json:"timestamp" bson:"timestamp"`
	Data      map[string]string `json:"data,omitempty" bson:"data,omitempty"`
}

type Ride struct {
	ID          types.ID          `json:"id" bson:"_id"`
	PassengerID types.ID          `json:"passenger_id" bson:"passenger_id"`
	DriverID    *types.ID         `json:"driver_id,omitempty" bson:"driver_id,omitempty"`
	Origin      Place             `json:"origin" bson:"origin"`
	Destination Place             `json:"destination" bson:"destination"`
	RideClass   pricing.RideClass `json:"ride_class" bson:"ride_class"`
	Fare        float64           `json:"fare" bson:"fare"`
	Status      Status            `json:"status" bson:"status"`
	Version     int               `json:"version" bson:"version"`
	RequestedAt time.Time         `json:"requested_at" bson:"requested_at"`
	EndTime     *time.Time        `json:"end_time,omitempty" bson:"end_time,omitempty"`
	Events      []Event           `json:"events" bson:"events"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (r *Ride) Clone() *Ride {
	cp := *r
	if r.DriverID != nil {
		d := *r.DriverID
		cp.DriverID = &d
	}
	if r.EndTime != nil {
		e := *r.EndTime
		cp.EndTime = &e
	}
	cp.Events = make([]Event, len(r.Events))
	for i, e := range r.Events {
		cp.Events[i] = e
		if e.Data != nil {
			cp.Events[i].Data = make(map[string]string, len(e.Data))
			for k, v := range e.Data {
				cp.Events[i].Data[k] = v
			}
		}
	}
	return &cp
}

func (r *Ride) HasDriver(id types.ID) bool {
	return r.DriverID != nil && *r.DriverID == id
}

// Location is a decrypted endpoint. It is never persisted.
type Location struct {
	Label string      `json:"label"`
	Point types.Point `json:"point"`
}

// View is a transient projection of a Ride with plaintext coordinates.
type View struct {
	ID          types.ID          `json:"id"`
	PassengerID types.ID          `json:"passenger_id"`
	DriverID    *types.ID         `json:"driver_id,omitempty"`
	Origin      Location          `json:"origin"`
	Destination Location          `json:"destination"`
	RideClass   pricing.RideClass `json:"ride_class"`
	Fare        float64           `json:"fare"`
	Status      Status            `json:"status"`
	RequestedAt time.Time         `json:"requested_at"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	Events      []Event           `json:"events"`
}

// AllowedTransitions is the ride state flow as code. MATCHED is reachable only
// through AssignDriver.
var AllowedTransitions = map[Status][]Status{
	StatusRequested: {StatusMatched, StatusCancelled},
	StatusMatched:   {StatusOngoing, StatusCancelled},
	StatusOngoing:   {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusRequested, StatusMatched, StatusOngoing, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}
