// Package location provides Firebase-based driver availability queries
// and push notifications for dispatch.
package location

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"

	"sharedride/internal/types"
)

const (
	driverLocationsRef = "driver_locations"
	deviceTokensRef    = "device_tokens"
	statusOnline       = "online"
)

var (
	ErrNoDeviceToken = errors.New("no device token registered")
	ErrDisabled      = errors.New("firebase feature not enabled")
)

type Options struct {
	// RadiusKm bounds Available; <= 0 returns every online driver.
	RadiusKm  float64
	Database  bool
	Messaging bool
}

// FirebaseService reads driver locations from RTDB and sends FCM pushes.
// Mobile clients own the RTDB writes; this side only reads.
type FirebaseService struct {
	dbClient  *db.Client
	msgClient *messaging.Client
	radiusKm  float64
	log       zerolog.Logger
}

func NewFirebaseService(ctx context.Context, app *firebase.App, opts Options, log zerolog.Logger) (*FirebaseService, error) {
	s := &FirebaseService{radiusKm: opts.RadiusKm, log: log.With().Str("component", "firebase").Logger()}
	if opts.Database {
		c, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
		}
		s.dbClient = c
	}
	if opts.Messaging {
		c, err := app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
		}
		s.msgClient = c
	}
	return s, nil
}

// rtdbDriverEntry mirrors a driver entry under /driver_locations.
type rtdbDriverEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
}

// DriverLocation represents a driver's position with computed distance.
type DriverLocation struct {
	DriverID types.ID
	Position types.Point
	Distance float64 // km from the queried origin
}

func (s *FirebaseService) queryOnlineDrivers(ctx context.Context) (map[string]rtdbDriverEntry, error) {
	if s.dbClient == nil {
		return nil, ErrDisabled
	}
	var data map[string]rtdbDriverEntry
	ref := s.dbClient.NewRef(driverLocationsRef)
	if err := ref.OrderByChild("status").EqualTo(statusOnline).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("querying online drivers: %w", err)
	}
	return data, nil
}

// NearbyDrivers returns online drivers within radiusKm of origin, closest first.
func (s *FirebaseService) NearbyDrivers(ctx context.Context, origin types.Point, radiusKm float64) ([]DriverLocation, error) {
	data, err := s.queryOnlineDrivers(ctx)
	if err != nil {
		return nil, err
	}
	return nearestDrivers(data, origin, radiusKm), nil
}

func (s *FirebaseService) Available(ctx context.Context, origin types.Point) ([]types.ID, error) {
	found, err := s.NearbyDrivers(ctx, origin, s.radiusKm)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(found))
	for i, d := range found {
		ids[i] = d.DriverID
	}
	return ids, nil
}

func nearestDrivers(data map[string]rtdbDriverEntry, origin types.Point, radiusKm float64) []DriverLocation {
	var result []DriverLocation
	for driverID, entry := range data {
		if entry.Status != statusOnline {
			continue
		}
		p := types.Point{Lat: entry.Lat, Lng: entry.Lng}
		if p.Validate() != nil {
			continue
		}
		dist := origin.DistanceKm(p)
		if radiusKm > 0 && dist > radiusKm {
			continue
		}
		result = append(result, DriverLocation{DriverID: types.ID(driverID), Position: p, Distance: dist})
	}
	sortByDistance(result, func(d DriverLocation) float64 { return d.Distance })
	return result
}

// Push sends an FCM data message to the device registered for recipient
// under /device_tokens/{uid}.
func (s *FirebaseService) Push(ctx context.Context, recipient types.ID, data map[string]string, title, body string) error {
	if s.msgClient == nil || s.dbClient == nil {
		return ErrDisabled
	}
	var token string
	if err := s.dbClient.NewRef(deviceTokensRef+"/"+string(recipient)).Get(ctx, &token); err != nil {
		return fmt.Errorf("reading device token for %s: %w", recipient, err)
	}
	if token == "" {
		return fmt.Errorf("%w: %s", ErrNoDeviceToken, recipient)
	}

	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	messageID, err := s.msgClient.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to %s: %w", recipient, err)
	}
	s.log.Debug().Str("recipient", string(recipient)).Str("message_id", messageID).Msg("fcm sent")
	return nil
}

// sortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
