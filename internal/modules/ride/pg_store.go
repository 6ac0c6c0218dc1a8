// README: Ride store backed by PostgreSQL; ConditionalUpdate is a single guarded UPDATE.
package ride

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sharedride/internal/modules/geocrypt"
	"sharedride/internal/modules/pricing"
	"sharedride/internal/types"
)

const rideColumns = `id, passenger_id, driver_id,
	origin_label, origin_iv, origin_ciphertext,
	destination_label, destination_iv, destination_ciphertext,
	ride_class, fare, status, version, requested_at, end_time, events`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, r *Ride) error {
	events, err := json.Marshal(nonNilEvents(r.Events))
	if err != nil {
		return fmt.Errorf("encoding events: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO rides (`+rideColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::jsonb)`,
		string(r.ID),
		string(r.PassengerID),
		toStringPtr(r.DriverID),
		r.Origin.Label, r.Origin.Point.IV, r.Origin.Point.Ciphertext,
		r.Destination.Label, r.Destination.Point.IV, r.Destination.Point.Ciphertext,
		string(r.RideClass),
		r.Fare,
		string(r.Status),
		r.Version,
		r.RequestedAt,
		r.EndTime,
		string(events),
	)
	return err
}

func (s *PGStore) FindByID(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PGStore) FindActive(ctx context.Context, f Filter) ([]*Ride, error) {
	var where []string
	var args []any
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.PassengerID != "" {
		args = append(args, string(f.PassengerID))
		where = append(where, fmt.Sprintf("passenger_id = $%d", len(args)))
	}
	if f.DriverID != "" {
		args = append(args, string(f.DriverID))
		where = append(where, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	if !f.RequestedAfter.IsZero() {
		args = append(args, f.RequestedAfter)
		where = append(where, fmt.Sprintf("requested_at > $%d", len(args)))
	}

	q := `SELECT ` + rideColumns + ` FROM rides`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY requested_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) ConditionalUpdate(ctx context.Context, id types.ID, cond Condition, mut Mutation) (*Ride, error) {
	var args []any
	set := []string{"version = version + 1"}
	if mut.Event.Type != "" {
		event, err := json.Marshal([]Event{mut.Event})
		if err != nil {
			return nil, fmt.Errorf("encoding event: %w", err)
		}
		args = append(args, string(event))
		set = append(set, fmt.Sprintf("events = events || $%d::jsonb", len(args)))
	}
	if mut.Status != "" {
		args = append(args, string(mut.Status))
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if mut.DriverID != nil {
		args = append(args, string(*mut.DriverID))
		set = append(set, fmt.Sprintf("driver_id = $%d", len(args)))
	} else if mut.ClearDriver {
		set = append(set, "driver_id = NULL")
	}
	if mut.EndTime != nil {
		args = append(args, *mut.EndTime)
		set = append(set, fmt.Sprintf("end_time = $%d", len(args)))
	}

	args = append(args, string(id))
	where := []string{fmt.Sprintf("id = $%d", len(args))}
	if cond.Status != "" {
		args = append(args, string(cond.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if cond.DriverAbsent {
		where = append(where, "driver_id IS NULL")
	}
	if cond.Version != nil {
		args = append(args, *cond.Version)
		where = append(where, fmt.Sprintf("version = $%d", len(args)))
	}

	q := `UPDATE rides SET ` + strings.Join(set, ", ") +
		` WHERE ` + strings.Join(where, " AND ") +
		` RETURNING ` + rideColumns
	r, err := scanRide(s.db.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPreconditionFailed
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanRide(row pgx.Row) (*Ride, error) {
	var (
		r                    Ride
		id, passengerID      string
		driverID             *string
		rideClass, status    string
		events               []byte
		endTime              *time.Time
		origin, dest         Place
		originBlob, destBlob geocrypt.Blob
	)
	err := row.Scan(
		&id, &passengerID, &driverID,
		&origin.Label, &originBlob.IV, &originBlob.Ciphertext,
		&dest.Label, &destBlob.IV, &destBlob.Ciphertext,
		&rideClass, &r.Fare, &status, &r.Version, &r.RequestedAt, &endTime, &events,
	)
	if err != nil {
		return nil, err
	}
	r.ID = types.ID(id)
	r.PassengerID = types.ID(passengerID)
	if driverID != nil {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	origin.Point = originBlob
	dest.Point = destBlob
	r.Origin = origin
	r.Destination = dest
	r.RideClass = pricing.RideClass(rideClass)
	r.Status = Status(status)
	r.EndTime = endTime
	if err := json.Unmarshal(events, &r.Events); err != nil {
		return nil, fmt.Errorf("decoding events: %w", err)
	}
	return &r, nil
}

func nonNilEvents(e []Event) []Event {
	if e == nil {
		return []Event{}
	}
	return e
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
