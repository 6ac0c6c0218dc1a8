// README: Typed dispatch notifications exchanged with drivers and passengers.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"sharedride/internal/modules/pricing"
	"sharedride/internal/types"
)

var (
	ErrNotAnnounceable = errors.New("only requested rides can be announced")
	ErrNoSubscriber    = errors.New("recipient has no subscriber")
	ErrSubscriberBusy  = errors.New("recipient subscribers are not keeping up")
)

type EventType string

const (
	EventNewRide       EventType = "newRide"
	EventRideWithdrawn EventType = "rideWithdrawn"
	EventRideMatched   EventType = "rideMatched"
	EventRideCancelled EventType = "rideCancelled"
)

// Withdrawal reasons.
const (
	ReasonMatched   = "matched"
	ReasonCancelled = "cancelled"
)

// Payload is implemented by the four event payloads below.
type Payload interface {
	Event() EventType
}

// NewRide carries labels, class and fare only; coordinates are not broadcast.
type NewRide struct {
	RideID      types.ID          `json:"rideId"`
	Origin      string            `json:"origin"`
	Destination string            `json:"destination"`
	RideClass   pricing.RideClass `json:"rideClass"`
	Fare        float64           `json:"fare"`
	RequestedAt time.Time         `json:"requestedAt"`
}

type RideWithdrawn struct {
	RideID types.ID `json:"rideId"`
	Reason string   `json:"reason"`
}

type RideMatched struct {
	RideID   types.ID `json:"rideId"`
	DriverID types.ID `json:"driverId"`
}

type RideCancelled struct {
	RideID types.ID `json:"rideId"`
}

func (NewRide) Event() EventType       { return EventNewRide }
func (RideWithdrawn) Event() EventType { return EventRideWithdrawn }
func (RideMatched) Event() EventType   { return EventRideMatched }
func (RideCancelled) Event() EventType { return EventRideCancelled }

type Notification struct {
	Recipient types.ID  `json:"recipient"`
	Type      EventType `json:"type"`
	Payload   Payload   `json:"payload"`
	SentAt    time.Time `json:"sentAt"`
}

func newNotification(recipient types.ID, p Payload) Notification {
	return Notification{Recipient: recipient, Type: p.Event(), Payload: p}
}

func (n *Notification) UnmarshalJSON(data []byte) error {
	var raw struct {
		Recipient types.ID        `json:"recipient"`
		Type      EventType       `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		SentAt    time.Time       `json:"sentAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var p Payload
	switch raw.Type {
	case EventNewRide:
		var v NewRide
		if err := json.Unmarshal(raw.Payload, &v); err != nil {
			return err
		}
		p = v
	case EventRideWithdrawn:
		var v RideWithdrawn
		if err := json.Unmarshal(raw.Payload, &v); err != nil {
			return err
		}
		p = v
	case EventRideMatched:
		var v RideMatched
		if err := json.Unmarshal(raw.Payload, &v); err != nil {
			return err
		}
		p = v
	case EventRideCancelled:
		var v RideCancelled
		if err := json.Unmarshal(raw.Payload, &v); err != nil {
			return err
		}
		p = v
	default:
		return fmt.Errorf("unknown notification type %q", raw.Type)
	}
	*n = Notification{Recipient: raw.Recipient, Type: raw.Type, Payload: p, SentAt: raw.SentAt}
	return nil
}

// Data flattens a notification into string pairs for push transports.
func (n Notification) Data() map[string]string {
	d := map[string]string{"type": string(n.Type)}
	switch p := n.Payload.(type) {
	case NewRide:
		d["ride_id"] = string(p.RideID)
		d["origin"] = p.Origin
		d["destination"] = p.Destination
		d["ride_class"] = string(p.RideClass)
		d["fare"] = strconv.FormatFloat(p.Fare, 'f', 2, 64)
	case RideWithdrawn:
		d["ride_id"] = string(p.RideID)
		d["reason"] = p.Reason
	case RideMatched:
		d["ride_id"] = string(p.RideID)
		d["driver_id"] = string(p.DriverID)
	case RideCancelled:
		d["ride_id"] = string(p.RideID)
	}
	return d
}
