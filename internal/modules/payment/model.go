// README: Payment record; one charge per completed ride.
package payment

import (
	"errors"
	"time"

	"sharedride/internal/types"
)

var (
	ErrInvalidAmount = errors.New("invalid payment amount")
	ErrNotFound      = errors.New("payment not found")
)

type Status string

const (
	StatusPaid Status = "paid"
)

const TypeRideFare = "ride_fare"

type Payment struct {
	ID          types.ID  `json:"id" bson:"_id"`
	RideID      types.ID  `json:"ride_id" bson:"ride_id"`
	PassengerID types.ID  `json:"passenger_id" bson:"passenger_id"`
	Amount      float64   `json:"amount" bson:"amount"`
	Type        string    `json:"type" bson:"type"`
	Status      Status    `json:"status" bson:"status"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}
