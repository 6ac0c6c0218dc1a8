// README: Notifier implementations: fan-out over several transports and an adapter for mobile push.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"sharedride/internal/types"
)

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Fanout delivers to every notifier and succeeds when at least one did.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	delivered := 0
	for _, nt := range f {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Pusher sends a data message to a device owned by recipient.
type Pusher interface {
	Push(ctx context.Context, recipient types.ID, data map[string]string, title, body string) error
}

type PushNotifier struct {
	pusher Pusher
}

func NewPushNotifier(p Pusher) *PushNotifier {
	return &PushNotifier{pusher: p}
}

func (p *PushNotifier) Notify(ctx context.Context, n Notification) error {
	title, body := pushText(n)
	return p.pusher.Push(ctx, n.Recipient, n.Data(), title, body)
}

func pushText(n Notification) (string, string) {
	switch v := n.Payload.(type) {
	case NewRide:
		return "New ride request", fmt.Sprintf("%s to %s, fare $%.2f", v.Origin, v.Destination, v.Fare)
	case RideWithdrawn:
		return "Ride no longer available", "Another driver took this ride."
	case RideMatched:
		return "Driver found", "A driver accepted your ride."
	case RideCancelled:
		return "Ride cancelled", "This ride was cancelled."
	}
	return "Ride update", string(n.Type)
}
