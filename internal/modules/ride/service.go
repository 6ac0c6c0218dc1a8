// README: Ride lifecycle coordinator; owns the status graph and single-winner driver assignment.
package ride

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sharedride/internal/metrics"
	"sharedride/internal/modules/geocrypt"
	"sharedride/internal/modules/pricing"
	"sharedride/internal/types"
)

var (
	ErrValidation         = errors.New("invalid ride request")
	ErrConflict           = errors.New("ride state conflict")
	ErrAuthorization      = errors.New("actor not permitted for this ride")
	ErrNotFound           = errors.New("ride not found")
	ErrStorage            = errors.New("ride storage failure")
	ErrPreconditionFailed = errors.New("ride precondition not met")
)

// DefaultFreshnessWindow bounds how long a REQUESTED ride stays listed as open.
const DefaultFreshnessWindow = 10 * time.Minute

const maxLabelLen = 256

type LocationCodec interface {
	Encrypt(p types.Point) (geocrypt.Blob, error)
	Decrypt(b geocrypt.Blob) (types.Point, error)
}

type FareQuoter interface {
	Quote(class pricing.RideClass, origin, dest types.Point) float64
	Normalize(class pricing.RideClass) pricing.RideClass
}

// Charger marks a completed ride as paid.
type Charger interface {
	Charge(ctx context.Context, rideID, passengerID types.ID, amount float64) error
}

type Coordinator struct {
	store     Store
	codec     LocationCodec
	fares     FareQuoter
	charger   Charger
	log       zerolog.Logger
	now       func() time.Time
	freshness time.Duration
}

type Option func(*Coordinator)

func WithCharger(ch Charger) Option {
	return func(c *Coordinator) { c.charger = ch }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l.With().Str("component", "ride").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithFreshnessWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.freshness = d
		}
	}
}

func NewCoordinator(store Store, codec LocationCodec, fares FareQuoter, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		codec:     codec,
		fares:     fares,
		log:       zerolog.Nop(),
		now:       time.Now,
		freshness: DefaultFreshnessWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type CreateCommand struct {
	PassengerID types.ID
	Origin      Location
	Destination Location
	RideClass   pricing.RideClass
}

type TransitionCommand struct {
	RideID  types.ID
	Target  Status
	ActorID types.ID
}

// CreateRide quotes, encrypts and persists a new REQUESTED ride, in that order.
func (c *Coordinator) CreateRide(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	if cmd.PassengerID == "" {
		return nil, fmt.Errorf("%w: passenger id is required", ErrValidation)
	}
	originLabel, err := cleanLabel("origin", cmd.Origin.Label)
	if err != nil {
		return nil, err
	}
	destLabel, err := cleanLabel("destination", cmd.Destination.Label)
	if err != nil {
		return nil, err
	}
	if err := cmd.Origin.Point.Validate(); err != nil {
		return nil, fmt.Errorf("%w: origin: %v", ErrValidation, err)
	}
	if err := cmd.Destination.Point.Validate(); err != nil {
		return nil, fmt.Errorf("%w: destination: %v", ErrValidation, err)
	}

	class := c.fares.Normalize(cmd.RideClass)
	fare := c.fares.Quote(class, cmd.Origin.Point, cmd.Destination.Point)

	originBlob, err := c.encrypt("origin", cmd.Origin.Point)
	if err != nil {
		return nil, err
	}
	destBlob, err := c.encrypt("destination", cmd.Destination.Point)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	r := &Ride{
		ID:          types.NewID(),
		PassengerID: cmd.PassengerID,
		Origin:      Place{Label: originLabel, Point: originBlob},
		Destination: Place{Label: destLabel, Point: destBlob},
		RideClass:   class,
		Fare:        fare,
		Status:      StatusRequested,
		RequestedAt: now,
		Events: []Event{{
			Type:      EventRequested,
			Timestamp: now,
			Data: map[string]string{
				"passenger_id": string(cmd.PassengerID),
				"ride_class":   string(class),
			},
		}},
	}
	if err := c.store.Insert(ctx, r); err != nil {
		return nil, fmt.Errorf("%w: insert ride: %w", ErrStorage, err)
	}

	metrics.RidesCreatedTotal.WithLabelValues(string(class)).Inc()
	c.log.Info().
		Str("ride_id", string(r.ID)).
		Str("passenger_id", string(r.PassengerID)).
		Str("ride_class", string(class)).
		Float64("fare", fare).
		Msg("ride requested")
	return r, nil
}

// AssignDriver is a compare-and-set on (status=REQUESTED, no driver). Under
// concurrent calls for one ride exactly one caller wins; the rest get ErrConflict.
func (c *Coordinator) AssignDriver(ctx context.Context, rideID, driverID types.ID) (*Ride, error) {
	if rideID == "" || driverID == "" {
		return nil, fmt.Errorf("%w: ride id and driver id are required", ErrValidation)
	}
	now := c.now().UTC()
	r, err := c.store.ConditionalUpdate(ctx, rideID,
		Condition{Status: StatusRequested, DriverAbsent: true},
		Mutation{
			Status:   StatusMatched,
			DriverID: &driverID,
			Event: Event{
				Type:      EventDriverAssigned,
				Timestamp: now,
				Data: map[string]string{
					"driver_id": string(driverID),
					"from":      string(StatusRequested),
					"to":        string(StatusMatched),
				},
			},
		},
	)
	if errors.Is(err, ErrPreconditionFailed) {
		err = c.explainMiss(ctx, rideID)
		if errors.Is(err, ErrConflict) {
			metrics.AssignAttemptsTotal.WithLabelValues("conflict").Inc()
		} else {
			metrics.AssignAttemptsTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}
	if err != nil {
		metrics.AssignAttemptsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: assign driver: %w", ErrStorage, err)
	}

	metrics.AssignAttemptsTotal.WithLabelValues("won").Inc()
	metrics.TransitionsTotal.WithLabelValues(string(StatusMatched)).Inc()
	c.log.Info().Str("ride_id", string(rideID)).Str("driver_id", string(driverID)).Msg("driver assigned")
	return r, nil
}

// Transition moves a ride along the status graph on behalf of actorID.
// MATCHED cannot be requested here.
func (c *Coordinator) Transition(ctx context.Context, cmd TransitionCommand) (*Ride, error) {
	if cmd.RideID == "" || cmd.ActorID == "" {
		return nil, fmt.Errorf("%w: ride id and actor id are required", ErrValidation)
	}
	if _, ok := ParseStatus(string(cmd.Target)); !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, cmd.Target)
	}

	r, err := c.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if cmd.Target == StatusMatched {
		return nil, fmt.Errorf("%w: rides are matched through driver assignment", ErrConflict)
	}
	if !CanTransition(r.Status, cmd.Target) {
		return nil, fmt.Errorf("%w: cannot move from %s to %s", ErrConflict, r.Status, cmd.Target)
	}
	if err := authorize(r, cmd.Target, cmd.ActorID); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	version := r.Version
	data := map[string]string{
		"from":     string(r.Status),
		"to":       string(cmd.Target),
		"actor_id": string(cmd.ActorID),
	}
	mut := Mutation{Status: cmd.Target}
	switch cmd.Target {
	case StatusCompleted:
		mut.EndTime = &now
	case StatusCancelled:
		if r.DriverID != nil {
			mut.ClearDriver = true
			data["driver_id"] = string(*r.DriverID)
		}
	}
	mut.Event = Event{Type: EventStatusChanged, Timestamp: now, Data: data}

	updated, err := c.store.ConditionalUpdate(ctx, r.ID, Condition{Status: r.Status, Version: &version}, mut)
	if errors.Is(err, ErrPreconditionFailed) {
		return nil, c.explainMiss(ctx, r.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: transition: %w", ErrStorage, err)
	}

	metrics.TransitionsTotal.WithLabelValues(string(cmd.Target)).Inc()
	c.log.Info().
		Str("ride_id", string(r.ID)).
		Str("from", string(r.Status)).
		Str("to", string(cmd.Target)).
		Str("actor_id", string(cmd.ActorID)).
		Msg("ride transition")

	if cmd.Target == StatusCompleted {
		updated = c.settle(ctx, updated)
	}
	return updated, nil
}

func (c *Coordinator) Start(ctx context.Context, rideID, driverID types.ID) (*Ride, error) {
	return c.Transition(ctx, TransitionCommand{RideID: rideID, Target: StatusOngoing, ActorID: driverID})
}

func (c *Coordinator) Complete(ctx context.Context, rideID, driverID types.ID) (*Ride, error) {
	return c.Transition(ctx, TransitionCommand{RideID: rideID, Target: StatusCompleted, ActorID: driverID})
}

func (c *Coordinator) Cancel(ctx context.Context, rideID, actorID types.ID) (*Ride, error) {
	return c.Transition(ctx, TransitionCommand{RideID: rideID, Target: StatusCancelled, ActorID: actorID})
}

// DecryptedView returns a plaintext projection of r. r is not modified.
func (c *Coordinator) DecryptedView(r *Ride) (*View, error) {
	origin, err := c.codec.Decrypt(r.Origin.Point)
	if err != nil {
		return nil, fmt.Errorf("decrypting origin: %w", err)
	}
	dest, err := c.codec.Decrypt(r.Destination.Point)
	if err != nil {
		return nil, fmt.Errorf("decrypting destination: %w", err)
	}
	cp := r.Clone()
	return &View{
		ID:          cp.ID,
		PassengerID: cp.PassengerID,
		DriverID:    cp.DriverID,
		Origin:      Location{Label: cp.Origin.Label, Point: origin},
		Destination: Location{Label: cp.Destination.Label, Point: dest},
		RideClass:   cp.RideClass,
		Fare:        cp.Fare,
		Status:      cp.Status,
		RequestedAt: cp.RequestedAt,
		EndTime:     cp.EndTime,
		Events:      cp.Events,
	}, nil
}

func (c *Coordinator) Get(ctx context.Context, id types.ID) (*Ride, error) {
	r, err := c.store.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find ride: %w", ErrStorage, err)
	}
	return r, nil
}

// ListOpen returns REQUESTED rides inside the freshness window. Older rides stay
// REQUESTED and can still be assigned directly; they are only hidden here.
func (c *Coordinator) ListOpen(ctx context.Context) ([]*Ride, error) {
	rides, err := c.store.FindActive(ctx, Filter{
		Statuses:       []Status{StatusRequested},
		RequestedAfter: c.now().UTC().Add(-c.freshness),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list open rides: %w", ErrStorage, err)
	}
	return rides, nil
}

func (c *Coordinator) ListByPassenger(ctx context.Context, passengerID types.ID, limit int) ([]*Ride, error) {
	rides, err := c.store.FindActive(ctx, Filter{PassengerID: passengerID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%w: list passenger rides: %w", ErrStorage, err)
	}
	return rides, nil
}

func (c *Coordinator) FreshnessWindow() time.Duration {
	return c.freshness
}

func (c *Coordinator) settle(ctx context.Context, r *Ride) *Ride {
	if c.charger == nil {
		return r
	}
	ev := Event{Type: EventPaymentRecorded, Timestamp: c.now().UTC(), Data: map[string]string{
		"amount": fmt.Sprintf("%.2f", r.Fare),
	}}
	if err := c.charger.Charge(ctx, r.ID, r.PassengerID, r.Fare); err != nil {
		metrics.PaymentsTotal.WithLabelValues("failed").Inc()
		c.log.Error().Err(err).Str("ride_id", string(r.ID)).Msg("charge failed")
		ev.Type = EventPaymentFailed
		ev.Data["error"] = err.Error()
	} else {
		metrics.PaymentsTotal.WithLabelValues("recorded").Inc()
	}

	out, err := c.store.ConditionalUpdate(ctx, r.ID, Condition{Status: StatusCompleted}, Mutation{Event: ev})
	if err != nil {
		c.log.Warn().Err(err).Str("ride_id", string(r.ID)).Msg("recording payment event failed")
		return r
	}
	return out
}

func (c *Coordinator) encrypt(field string, p types.Point) (geocrypt.Blob, error) {
	b, err := c.codec.Encrypt(p)
	if errors.Is(err, types.ErrInvalidPoint) {
		return geocrypt.Blob{}, fmt.Errorf("%w: %s: %v", ErrValidation, field, err)
	}
	if err != nil {
		return geocrypt.Blob{}, fmt.Errorf("encrypting %s: %w", field, err)
	}
	return b, nil
}

// explainMiss turns a failed precondition into ErrNotFound or ErrConflict.
func (c *Coordinator) explainMiss(ctx context.Context, id types.ID) error {
	r, err := c.store.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: find ride: %w", ErrStorage, err)
	}
	if r.DriverID != nil {
		return fmt.Errorf("%w: ride is %s with a driver assigned", ErrConflict, r.Status)
	}
	return fmt.Errorf("%w: ride is %s", ErrConflict, r.Status)
}

func authorize(r *Ride, target Status, actor types.ID) error {
	switch target {
	case StatusOngoing, StatusCompleted:
		if !r.HasDriver(actor) {
			return fmt.Errorf("%w: only the assigned driver may move a ride to %s", ErrAuthorization, target)
		}
	case StatusCancelled:
		if actor != r.PassengerID && !r.HasDriver(actor) {
			return fmt.Errorf("%w: only the passenger or assigned driver may cancel", ErrAuthorization)
		}
	}
	return nil
}

func cleanLabel(field, label string) (string, error) {
	label = strings.TrimSpace(label)
	if len(label) > maxLabelLen {
		return "", fmt.Errorf("%w: %s label longer than %d bytes", ErrValidation, field, maxLabelLen)
	}
	return label, nil
}
