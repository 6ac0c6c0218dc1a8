// README: Dispatch broadcaster turns ride lifecycle outcomes into driver and passenger notifications.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sharedride/internal/config"
	"sharedride/internal/metrics"
	"sharedride/internal/modules/ride"
	"sharedride/internal/types"
)

// Coordinator is the slice of ride.Coordinator the broadcaster drives.
type Coordinator interface {
	AssignDriver(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error)
	Cancel(ctx context.Context, rideID, actorID types.ID) (*ride.Ride, error)
	DecryptedView(r *ride.Ride) (*ride.View, error)
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	ListOpen(ctx context.Context) ([]*ride.Ride, error)
}

type Broadcaster struct {
	rides    Coordinator
	registry Registry
	pending  PendingStore
	notifier Notifier
	cfg      config.DispatchConfig
	log      zerolog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewBroadcaster(rides Coordinator, registry Registry, pending PendingStore, notifier Notifier, cfg config.DispatchConfig, log zerolog.Logger) *Broadcaster {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 3 * time.Second
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = 2 * time.Minute
	}
	return &Broadcaster{
		rides:    rides,
		registry: registry,
		pending:  pending,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "dispatch").Logger(),
		now:      time.Now,
	}
}

// Announce offers a REQUESTED ride to the drivers the registry returns and
// reports who was notified. Delivery happens in the background.
func (b *Broadcaster) Announce(ctx context.Context, r *ride.Ride) ([]types.ID, error) {
	if r == nil || r.Status != ride.StatusRequested {
		return nil, ErrNotAnnounceable
	}
	view, err := b.rides.DecryptedView(r)
	if err != nil {
		return nil, fmt.Errorf("reading ride origin: %w", err)
	}
	drivers, err := b.registry.Available(ctx, view.Origin.Point)
	if err != nil {
		return nil, fmt.Errorf("querying availability: %w", err)
	}
	drivers = without(drivers, r.PassengerID)
	if b.cfg.MaxOffers > 0 && len(drivers) > b.cfg.MaxOffers {
		drivers = drivers[:b.cfg.MaxOffers]
	}
	if len(drivers) == 0 {
		b.log.Info().Str("ride_id", string(r.ID)).Msg("no drivers available")
		return drivers, nil
	}
	if err := b.pending.RecordOffers(ctx, r.ID, drivers, b.cfg.OfferTTL); err != nil {
		return nil, fmt.Errorf("recording offers: %w", err)
	}
	// The snapshot may predate an accept or cancel whose Clear already ran.
	// Offers recorded above are visible to any later Clear, so only the
	// current status decides whether newRide goes out.
	current, err := b.rides.Get(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("rereading ride: %w", err)
	}
	if current.Status != ride.StatusRequested {
		if _, err := b.pending.Clear(ctx, r.ID); err != nil {
			b.log.Error().Err(err).Str("ride_id", string(r.ID)).Msg("clearing stale offers")
		}
		b.log.Info().Str("ride_id", string(r.ID)).Str("status", string(current.Status)).Msg("ride left REQUESTED before announce")
		return nil, ErrNotAnnounceable
	}

	offer := newRidePayload(r)
	for _, d := range drivers {
		b.deliver(newNotification(d, offer))
	}
	b.log.Info().Str("ride_id", string(r.ID)).Int("drivers", len(drivers)).Msg("ride announced")
	return drivers, nil
}

// AnnounceAsync runs Announce in the background with its own deadline. Errors
// are logged; Wait covers it.
func (b *Broadcaster) AnnounceAsync(r *ride.Ride) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DeliveryTimeout)
		defer cancel()
		if _, err := b.Announce(ctx, r); err != nil && !errors.Is(err, ErrNotAnnounceable) {
			b.log.Error().Err(err).Str("ride_id", string(r.ID)).Msg("announce failed")
		}
	}()
}

// OnAccept assigns the ride to driverID. Losers are told the ride is gone and
// the passenger learns who won. Nothing is sent when assignment fails.
func (b *Broadcaster) OnAccept(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	r, err := b.rides.AssignDriver(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}

	notified, err := b.pending.Clear(ctx, rideID)
	if err != nil {
		b.log.Error().Err(err).Str("ride_id", string(rideID)).Msg("clearing offers")
	}
	withdrawn := RideWithdrawn{RideID: rideID, Reason: ReasonMatched}
	for _, d := range notified {
		if d == driverID {
			continue
		}
		b.deliver(newNotification(d, withdrawn))
	}
	b.deliver(newNotification(r.PassengerID, RideMatched{RideID: rideID, DriverID: driverID}))
	return r, nil
}

func (b *Broadcaster) OnReject(ctx context.Context, rideID, driverID types.ID) error {
	return b.dropOffer(ctx, rideID, driverID)
}

func (b *Broadcaster) OnTimeout(ctx context.Context, rideID, driverID types.ID) error {
	return b.dropOffer(ctx, rideID, driverID)
}

func (b *Broadcaster) dropOffer(ctx context.Context, rideID, driverID types.ID) error {
	if rideID == "" || driverID == "" {
		return fmt.Errorf("%w: ride id and driver id are required", ride.ErrValidation)
	}
	if err := b.pending.Remove(ctx, rideID, driverID); err != nil {
		return fmt.Errorf("%w: removing offer: %w", ride.ErrStorage, err)
	}
	return nil
}

// OnCancel cancels the ride and tells the passenger, the released driver and
// every notified driver, except whoever cancelled.
func (b *Broadcaster) OnCancel(ctx context.Context, rideID, actorID types.ID) (*ride.Ride, error) {
	r, err := b.rides.Cancel(ctx, rideID, actorID)
	if err != nil {
		return nil, err
	}

	notified, err := b.pending.Clear(ctx, rideID)
	if err != nil {
		b.log.Error().Err(err).Str("ride_id", string(rideID)).Msg("clearing offers")
	}
	recipients := []types.ID{r.PassengerID}
	if released := releasedDriver(r); released != "" {
		recipients = append(recipients, released)
	}
	recipients = append(recipients, notified...)

	msg := RideCancelled{RideID: rideID}
	seen := map[types.ID]bool{actorID: true}
	for _, id := range recipients {
		if seen[id] {
			continue
		}
		seen[id] = true
		b.deliver(newNotification(id, msg))
	}
	return r, nil
}

func (b *Broadcaster) Pending(ctx context.Context, driverID types.ID) ([]types.ID, error) {
	ids, err := b.pending.PendingFor(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("%w: pending offers: %w", ride.ErrStorage, err)
	}
	return ids, nil
}

// OpenRides lists fresh REQUESTED rides without their coordinates.
func (b *Broadcaster) OpenRides(ctx context.Context) ([]NewRide, error) {
	rides, err := b.rides.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]NewRide, len(rides))
	for i, r := range rides {
		out[i] = newRidePayload(r)
	}
	return out, nil
}

// Wait blocks until in-flight deliveries have finished.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

func (b *Broadcaster) deliver(n Notification) {
	n.SentAt = b.now().UTC()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DeliveryTimeout)
		defer cancel()

		err := b.notifier.Notify(ctx, n)
		switch {
		case err == nil:
			metrics.NotificationsTotal.WithLabelValues(string(n.Type), "sent").Inc()
		case errors.Is(err, ErrNoSubscriber):
			metrics.NotificationsTotal.WithLabelValues(string(n.Type), "offline").Inc()
			b.log.Debug().Str("recipient", string(n.Recipient)).Str("event", string(n.Type)).Msg("recipient offline")
		default:
			metrics.NotificationsTotal.WithLabelValues(string(n.Type), "failed").Inc()
			b.log.Warn().Err(err).Str("recipient", string(n.Recipient)).Str("event", string(n.Type)).Msg("notification failed")
		}
	}()
}

func newRidePayload(r *ride.Ride) NewRide {
	return NewRide{
		RideID:      r.ID,
		Origin:      r.Origin.Label,
		Destination: r.Destination.Label,
		RideClass:   r.RideClass,
		Fare:        r.Fare,
		RequestedAt: r.RequestedAt,
	}
}

// releasedDriver reads the driver a cancellation unassigned from the last event.
func releasedDriver(r *ride.Ride) types.ID {
	if len(r.Events) == 0 {
		return ""
	}
	last := r.Events[len(r.Events)-1]
	if last.Type != ride.EventStatusChanged {
		return ""
	}
	return types.ID(last.Data["driver_id"])
}

func without(ids []types.ID, drop types.ID) []types.ID {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
