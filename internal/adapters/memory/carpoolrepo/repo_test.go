package carpoolrepo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/carpoolrepo"
)

func seedOffer(t *testing.T, r *Repo, id domain.TripOfferID, seats int) {
	t.Helper()
	err := r.CreateOffer(context.Background(), domain.TripOffer{
		ID:         id,
		OutingID:   "outing-1",
		DriverID:   "driver-1",
		SeatsTotal: seats,
		Status:     domain.TripOfferStatusActive,
		Version:    1,
	})
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
}

func TestRepo_SnapshotNeverExceedsSeatsDuringChurn(t *testing.T) {
	t.Parallel()

	r := NewRepo()
	seedOffer(t, r, "offer-1", 2)
	ctx := context.Background()

	var (
		readers   sync.WaitGroup
		writers   sync.WaitGroup
		stop      atomic.Bool
		violation atomic.Value
	)
	readers.Add(1)
	go func() {
		defer readers.Done()
		for !stop.Load() {
			s, err := r.CapacitySnapshot(ctx, "offer-1")
			if err != nil {
				violation.Store(err.Error())
				return
			}
			if s.ConfirmedCount < 0 || s.ConfirmedCount > s.SeatsTotal {
				violation.Store(fmt.Sprintf("snapshot %+v", s))
				return
			}
		}
	}()

	for w := 0; w < 8; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 50; i++ {
				p := domain.MemberID(fmt.Sprintf("p-%d-%d", w, i))
				b, err := r.ReserveSeat(ctx, carpoolrepo.Reservation{
					BookingID:   domain.BookingID(fmt.Sprintf("b-%d-%d", w, i)),
					TripOfferID: "offer-1",
					PassengerID: p,
				})
				if errors.Is(err, carpoolrepo.ErrTripFull) {
					continue
				}
				if err != nil {
					violation.Store(err.Error())
					return
				}
				if _, err := r.CancelBooking(ctx, b.ID, p, time.Time{}); err != nil {
					violation.Store(err.Error())
					return
				}
			}
		}(w)
	}
	writers.Wait()
	stop.Store(true)
	readers.Wait()

	if v := violation.Load(); v != nil {
		t.Fatalf("invariant violated: %v", v)
	}
	s, err := r.CapacitySnapshot(ctx, "offer-1")
	if err != nil {
		t.Fatalf("CapacitySnapshot: %v", err)
	}
	if s.ConfirmedCount != 0 {
		t.Fatalf("confirmedCount=%d, want 0 after every booking was cancelled", s.ConfirmedCount)
	}
}

func TestRepo_ReturnsCopies(t *testing.T) {
	t.Parallel()

	r := NewRepo()
	seedOffer(t, r, "offer-1", 2)
	ctx := context.Background()

	o, err := r.GetOffer(ctx, "offer-1")
	if err != nil {
		t.Fatalf("GetOffer: %v", err)
	}
	note := "mutated"
	o.Notes = &note
	o.SeatsTotal = 7

	got, _ := r.GetOffer(ctx, "offer-1")
	if got.Notes != nil || got.SeatsTotal != 2 {
		t.Fatalf("stored offer was mutated through a returned value: %#v", got)
	}
}

func TestRepo_WithdrawReleasesDriverSlot(t *testing.T) {
	t.Parallel()

	r := NewRepo()
	seedOffer(t, r, "offer-1", 2)
	ctx := context.Background()

	if _, _, err := r.WithdrawOffer(ctx, carpoolrepo.Withdrawal{TripOfferID: "offer-1", Reason: domain.WithdrawReasonOutingCancelled}); err != nil {
		t.Fatalf("WithdrawOffer: %v", err)
	}
	seedOffer(t, r, "offer-2", 3)

	o, _ := r.GetOffer(ctx, "offer-1")
	if o.WithdrawReason == nil || *o.WithdrawReason != domain.WithdrawReasonOutingCancelled {
		t.Fatalf("withdrawReason=%v, want OUTING_CANCELLED", o.WithdrawReason)
	}
}

func TestKeyedMutex_ForgetsReleasedKeys(t *testing.T) {
	t.Parallel()

	var k keyedMutex[string]
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	unlockA()
	unlockB()

	k.mu.Lock()
	n := len(k.locks)
	k.mu.Unlock()
	if n != 0 {
		t.Fatalf("locks=%d, want 0", n)
	}
}
