package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sharedride/internal/metrics"
)

func TestRelayForwardFillsRecipientFromChannel(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("d7")
	defer sub.Close()
	relay := NewRedisRelay(nil, hub, zerolog.Nop())

	n := newNotification("", RideWithdrawn{RideID: "r1", Reason: ReasonMatched})
	body, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	relay.forward(context.Background(), &redis.Message{Channel: notifyChannel("d7"), Payload: string(body)})

	select {
	case got := <-sub.C():
		if got.Recipient != "d7" || got.Type != EventRideWithdrawn {
			t.Fatalf("unexpected notification %+v", got)
		}
		p, ok := got.Payload.(RideWithdrawn)
		if !ok || p.RideID != "r1" || p.Reason != ReasonMatched {
			t.Fatalf("unexpected payload %#v", got.Payload)
		}
	default:
		t.Fatal("expected forwarded notification")
	}
}

func TestRelayForwardCountsLocalOutcome(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("d8")
	defer sub.Close()
	relay := NewRedisRelay(nil, hub, zerolog.Nop())

	event := string(EventRideCancelled)
	delivered := metrics.NotificationsTotal.WithLabelValues(event, "delivered")
	offline := metrics.NotificationsTotal.WithLabelValues(event, "offline")
	beforeDelivered, beforeOffline := testutil.ToFloat64(delivered), testutil.ToFloat64(offline)

	for _, recipient := range []string{"d8", "nobody-here"} {
		body, err := json.Marshal(newNotification("", RideCancelled{RideID: "r2"}))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		relay.forward(context.Background(), &redis.Message{Channel: notifyChannelPrefix + recipient, Payload: string(body)})
	}

	if got := testutil.ToFloat64(delivered) - beforeDelivered; got != 1 {
		t.Fatalf("delivered delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(offline) - beforeOffline; got != 1 {
		t.Fatalf("offline delta = %v, want 1", got)
	}
}

func TestRelayForwardDropsMalformed(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("d7")
	defer sub.Close()
	relay := NewRedisRelay(nil, hub, zerolog.Nop())

	relay.forward(context.Background(), &redis.Message{Channel: notifyChannel("d7"), Payload: "{not json"})

	select {
	case got := <-sub.C():
		t.Fatalf("expected nothing, got %+v", got)
	default:
	}
}

func TestRedisRelayRoundTrip(t *testing.T) {
	rdb := newTestRedis(t)
	hub := NewHub(8)
	sub := hub.Subscribe("relay-d1")
	defer sub.Close()
	relay := NewRedisRelay(rdb, hub, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	n := newNotification("relay-d1", RideMatched{RideID: "r9", DriverID: "relay-d1"})
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	// Publish until the pattern subscription is live.
	for {
		if err := relay.Notify(ctx, n); err != nil {
			t.Fatalf("notify: %v", err)
		}
		select {
		case got := <-sub.C():
			if got.Type != EventRideMatched {
				t.Fatalf("unexpected type %s", got.Type)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("run: %v", err)
			}
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("timed out waiting for relayed notification")
		}
	}
}
