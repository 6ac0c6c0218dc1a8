package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sharedride/internal/types"
)

func TestHubDeliversToEverySubscriber(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe("d1")
	b := h.Subscribe("d1")
	defer a.Close()
	defer b.Close()

	n := newNotification("d1", RideCancelled{RideID: "r1"})
	if err := h.Notify(context.Background(), n); err != nil {
		t.Fatalf("notify: %v", err)
	}
	for _, s := range []*Subscription{a, b} {
		select {
		case got := <-s.C():
			if got.Type != EventRideCancelled {
				t.Fatalf("type = %s", got.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive notification")
		}
	}
}

func TestHubNoSubscriber(t *testing.T) {
	h := NewHub(1)
	err := h.Notify(context.Background(), newNotification("nobody", RideCancelled{RideID: "r1"}))
	if !errors.Is(err, ErrNoSubscriber) {
		t.Fatalf("expected ErrNoSubscriber, got %v", err)
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe("d1")
	defer s.Close()

	ctx := context.Background()
	if err := h.Notify(ctx, newNotification("d1", RideCancelled{RideID: "r1"})); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	if err := h.Notify(ctx, newNotification("d1", RideCancelled{RideID: "r2"})); !errors.Is(err, ErrSubscriberBusy) {
		t.Fatalf("expected ErrSubscriberBusy, got %v", err)
	}
	got := <-s.C()
	if got.Payload.(RideCancelled).RideID != "r1" {
		t.Fatalf("kept %v, want r1", got.Payload)
	}
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe("d1")
	s.Close()
	s.Close()

	if _, ok := <-s.C(); ok {
		t.Fatal("channel should be closed")
	}
	if n := h.Subscribers("d1"); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
	if err := h.Notify(context.Background(), newNotification("d1", RideCancelled{RideID: "r1"})); !errors.Is(err, ErrNoSubscriber) {
		t.Fatalf("expected ErrNoSubscriber after close, got %v", err)
	}
}

func TestHubConcurrentSubscribeNotify(t *testing.T) {
	h := NewHub(64)
	start := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			s := h.Subscribe("d1")
			s.Close()
		}()
		go func() {
			defer wg.Done()
			<-start
			_ = h.Notify(context.Background(), newNotification("d1", RideCancelled{RideID: "r1"}))
		}()
	}
	close(start)
	wg.Wait()

	if n := h.Subscribers("d1"); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}

func TestFanoutSucceedsWhenAnyDelivers(t *testing.T) {
	ok := &recordingNotifier{}
	broken := &recordingNotifier{err: errors.New("push down")}
	n := newNotification("p1", RideMatched{RideID: "r1", DriverID: "d1"})

	if err := (Fanout{broken, ok}).Notify(context.Background(), n); err != nil {
		t.Fatalf("fanout: %v", err)
	}
	if len(ok.to("p1")) != 1 {
		t.Fatal("healthy notifier should have received the message")
	}
	if err := (Fanout{broken, broken}).Notify(context.Background(), n); err == nil {
		t.Fatal("expected error when every notifier fails")
	}
}

type pushCall struct {
	recipient string
	data      map[string]string
	title     string
}

type fakePusher struct {
	calls []pushCall
}

func (f *fakePusher) Push(_ context.Context, recipient types.ID, data map[string]string, title, _ string) error {
	f.calls = append(f.calls, pushCall{recipient: string(recipient), data: data, title: title})
	return nil
}

func TestPushNotifierFlattensPayload(t *testing.T) {
	p := &fakePusher{}
	n := newNotification("d1", RideWithdrawn{RideID: "r1", Reason: ReasonMatched})
	if err := NewPushNotifier(p).Notify(context.Background(), n); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(p.calls) != 1 {
		t.Fatalf("calls = %d", len(p.calls))
	}
	c := p.calls[0]
	if c.recipient != "d1" || c.data["type"] != "rideWithdrawn" || c.data["reason"] != "matched" || c.title == "" {
		t.Fatalf("push call = %+v", c)
	}
}
