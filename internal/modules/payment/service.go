// README: Payment service; the "mark paid" step run when a ride completes.
package payment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"sharedride/internal/types"
)

type Service struct {
	store Store
	log   zerolog.Logger
}

func NewService(store Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log.With().Str("component", "payment").Logger()}
}

// Charge records the fare for a ride. Charging the same ride twice is a no-op.
func (s *Service) Charge(ctx context.Context, rideID, passengerID types.ID, amount float64) error {
	if rideID == "" || passengerID == "" {
		return fmt.Errorf("%w: ride and passenger are required", ErrInvalidAmount)
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	p := &Payment{
		ID:          types.NewID(),
		RideID:      rideID,
		PassengerID: passengerID,
		Amount:      math.Round(amount*100) / 100,
		Type:        TypeRideFare,
		Status:      StatusPaid,
		CreatedAt:   time.Now().UTC(),
	}
	created, err := s.store.Record(ctx, p)
	if err != nil {
		return fmt.Errorf("recording payment: %w", err)
	}
	if !created {
		s.log.Debug().Str("ride_id", string(rideID)).Msg("ride already charged")
		return nil
	}
	s.log.Info().Str("ride_id", string(rideID)).Float64("amount", p.Amount).Msg("ride charged")
	return nil
}

func (s *Service) ForRide(ctx context.Context, rideID types.ID) (*Payment, error) {
	return s.store.FindByRide(ctx, rideID)
}
