package payment

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestCharge_RecordsOncePerRide(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), zerolog.Nop())

	if err := svc.Charge(ctx, "r1", "p1", 7.5); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if err := svc.Charge(ctx, "r1", "p1", 99); err != nil {
		t.Fatalf("repeat charge: %v", err)
	}
	p, err := svc.ForRide(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Amount != 7.5 || p.Status != StatusPaid || p.Type != TypeRideFare {
		t.Errorf("payment = %+v", p)
	}
}

func TestCharge_ConcurrentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, zerolog.Nop())

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = svc.Charge(ctx, "r1", "p1", 4.5)
		}()
	}
	close(start)
	wg.Wait()

	if len(store.byRide) != 1 {
		t.Fatalf("expected one payment, got %d", len(store.byRide))
	}
}

func TestCharge_Validation(t *testing.T) {
	svc := NewService(NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()
	for name, amt := range map[string]float64{"negative": -1, "nan": math.NaN()} {
		if err := svc.Charge(ctx, "r1", "p1", amt); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("%s: expected ErrInvalidAmount, got %v", name, err)
		}
	}
	if err := svc.Charge(ctx, "", "p1", 1); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("missing ride: got %v", err)
	}
	if _, err := svc.ForRide(ctx, "none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ForRide(none): got %v", err)
	}
}
