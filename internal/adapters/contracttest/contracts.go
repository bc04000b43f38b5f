package contracttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	carpoolrepoport "github.com/Overland-East-Bay/carpool-api/internal/ports/out/carpoolrepo"
	idempotencyport "github.com/Overland-East-Bay/carpool-api/internal/ports/out/idempotency"
)

type CleanupFunc = func()

type CarpoolRepoFactory func(t *testing.T) (carpoolrepoport.Repository, CleanupFunc)
type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)

func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	sc := idempotencyport.Scope{
		Key:    idempotencyport.Key("k-" + uuid.NewString()),
		Member: domain.MemberID("sub-1"),
		Route:  "POST /trip-offers/{offerId}/bookings",
	}
	if _, ok, err := store.Lookup(ctx, sc); err != nil || ok {
		t.Fatalf("Lookup(empty) ok=%v err=%v", ok, err)
	}

	rec := idempotencyport.Record{
		RequestHash: "hash-abc",
		StatusCode:  201,
		ContentType: "application/json",
		Body:        []byte(`{"booking":{}}`),
		CreatedAt:   time.Unix(123, 0).UTC(),
	}
	if err := store.Save(ctx, sc, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := store.Lookup(ctx, sc)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if got.RequestHash != "hash-abc" || string(got.Body) != `{"booking":{}}` || got.StatusCode != 201 || got.ContentType != "application/json" {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Overwrite semantics.
	rec2 := rec
	rec2.StatusCode = 200
	rec2.Body = []byte(`{}`)
	if err := store.Save(ctx, sc, rec2); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	got, ok, err = store.Lookup(ctx, sc)
	if err != nil || !ok || got.StatusCode != 200 || string(got.Body) != `{}` {
		t.Fatalf("expected overwritten record, got ok=%v err=%v rec=%+v", ok, err, got)
	}
}

type carpoolFixture struct {
	t    *testing.T
	ctx  context.Context
	repo carpoolrepoport.Repository
	now  time.Time
}

func (f *carpoolFixture) offer(outing domain.OutingID, driver domain.MemberID, seats int) domain.TripOffer {
	f.t.Helper()
	f.now = f.now.Add(time.Second)
	o := domain.TripOffer{
		ID:            domain.TripOfferID(uuid.NewString()),
		OutingID:      outing,
		DriverID:      driver,
		SeatsTotal:    seats,
		MeetingPoint:  "Trailhead lot",
		DepartureTime: time.Date(2030, 6, 1, 7, 0, 0, 0, time.UTC),
		Status:        domain.TripOfferStatusActive,
		Version:       1,
		CreatedAt:     f.now,
		UpdatedAt:     f.now,
	}
	if err := f.repo.CreateOffer(f.ctx, o); err != nil {
		f.t.Fatalf("CreateOffer: %v", err)
	}
	return o
}

func (f *carpoolFixture) reserve(offer domain.TripOfferID, passenger domain.MemberID) (domain.Booking, error) {
	f.now = f.now.Add(time.Second)
	return f.repo.ReserveSeat(f.ctx, carpoolrepoport.Reservation{
		BookingID:   domain.BookingID(uuid.NewString()),
		TripOfferID: offer,
		PassengerID: passenger,
		CreatedAt:   f.now,
	})
}

func (f *carpoolFixture) mustReserve(offer domain.TripOfferID, passenger domain.MemberID) domain.Booking {
	f.t.Helper()
	b, err := f.reserve(offer, passenger)
	if err != nil {
		f.t.Fatalf("ReserveSeat(%s,%s): %v", offer, passenger, err)
	}
	return b
}

func (f *carpoolFixture) snapshot(offer domain.TripOfferID) domain.CapacitySnapshot {
	f.t.Helper()
	s, err := f.repo.CapacitySnapshot(f.ctx, offer)
	if err != nil {
		f.t.Fatalf("CapacitySnapshot: %v", err)
	}
	return s
}

func newOutingID() domain.OutingID { return domain.OutingID(uuid.NewString()) }
func newMemberID() domain.MemberID { return domain.MemberID("sub|" + uuid.NewString()) }

// RunCarpoolRepo exercises the atomic steps every carpoolrepo.Repository must provide.
func RunCarpoolRepo(t *testing.T, newRepo CarpoolRepoFactory) {
	t.Helper()

	setup := func(t *testing.T) *carpoolFixture {
		t.Helper()
		repo, cleanup := newRepo(t)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		return &carpoolFixture{t: t, ctx: context.Background(), repo: repo, now: time.Unix(5000, 0).UTC()}
	}

	t.Run("CreateAndGetOffer", func(t *testing.T) {
		f := setup(t)
		outing, driver := newOutingID(), newMemberID()
		notes := "Bring chains"
		o := domain.TripOffer{
			ID:            domain.TripOfferID(uuid.NewString()),
			OutingID:      outing,
			DriverID:      driver,
			SeatsTotal:    3,
			MeetingPoint:  "Park & ride",
			Notes:         &notes,
			DepartureTime: time.Date(2030, 1, 2, 8, 30, 0, 0, time.UTC),
			Status:        domain.TripOfferStatusActive,
			Version:       1,
			CreatedAt:     f.now,
			UpdatedAt:     f.now,
		}
		if err := f.repo.CreateOffer(f.ctx, o); err != nil {
			t.Fatalf("CreateOffer: %v", err)
		}
		got, err := f.repo.GetOffer(f.ctx, o.ID)
		if err != nil {
			t.Fatalf("GetOffer: %v", err)
		}
		if got.OutingID != outing || got.DriverID != driver || got.SeatsTotal != 3 || got.ConfirmedCount != 0 {
			t.Fatalf("unexpected offer: %#v", got)
		}
		if got.Notes == nil || *got.Notes != notes || !got.DepartureTime.Equal(o.DepartureTime) || !got.IsActive() {
			t.Fatalf("unexpected offer fields: %#v", got)
		}
		if _, err := f.repo.GetOffer(f.ctx, domain.TripOfferID(uuid.NewString())); !errors.Is(err, carpoolrepoport.ErrOfferNotFound) {
			t.Fatalf("GetOffer(missing) err=%v, want ErrOfferNotFound", err)
		}

		// One active offer per (driver, outing).
		dup := o
		dup.ID = domain.TripOfferID(uuid.NewString())
		if err := f.repo.CreateOffer(f.ctx, dup); !errors.Is(err, carpoolrepoport.ErrDuplicateActiveOffer) {
			t.Fatalf("CreateOffer(dup) err=%v, want ErrDuplicateActiveOffer", err)
		}
		other := dup
		other.OutingID = newOutingID()
		if err := f.repo.CreateOffer(f.ctx, other); err != nil {
			t.Fatalf("CreateOffer(other outing): %v", err)
		}
	})

	t.Run("ReserveSeatEnforcesCapacityAndSelfBooking", func(t *testing.T) {
		f := setup(t)
		outing, driver := newOutingID(), newMemberID()
		o := f.offer(outing, driver, 2)

		if _, err := f.reserve(o.ID, driver); !errors.Is(err, carpoolrepoport.ErrSelfBooking) {
			t.Fatalf("ReserveSeat(driver) err=%v, want ErrSelfBooking", err)
		}
		b1 := f.mustReserve(o.ID, newMemberID())
		f.mustReserve(o.ID, newMemberID())
		if b1.Status != domain.BookingStatusConfirmed || b1.OutingID != outing || b1.TripOfferID != o.ID {
			t.Fatalf("unexpected booking: %#v", b1)
		}
		if _, err := f.reserve(o.ID, newMemberID()); !errors.Is(err, carpoolrepoport.ErrTripFull) {
			t.Fatalf("ReserveSeat(third) err=%v, want ErrTripFull", err)
		}
		if s := f.snapshot(o.ID); s.SeatsTotal != 2 || s.ConfirmedCount != 2 {
			t.Fatalf("snapshot=%+v, want {2 2}", s)
		}
		if _, err := f.reserve(domain.TripOfferID(uuid.NewString()), newMemberID()); !errors.Is(err, carpoolrepoport.ErrOfferNotFound) {
			t.Fatalf("ReserveSeat(missing offer) err=%v, want ErrOfferNotFound", err)
		}
	})

	t.Run("OneConfirmedBookingPerOuting", func(t *testing.T) {
		f := setup(t)
		outing := newOutingID()
		a := f.offer(outing, newMemberID(), 4)
		b := f.offer(outing, newMemberID(), 4)
		elsewhere := f.offer(newOutingID(), newMemberID(), 4)
		p := newMemberID()

		held := f.mustReserve(a.ID, p)
		if _, err := f.reserve(b.ID, p); !errors.Is(err, carpoolrepoport.ErrAlreadyBooked) {
			t.Fatalf("ReserveSeat(B) err=%v, want ErrAlreadyBooked", err)
		}
		if _, err := f.reserve(a.ID, p); !errors.Is(err, carpoolrepoport.ErrAlreadyBooked) {
			t.Fatalf("ReserveSeat(A again) err=%v, want ErrAlreadyBooked", err)
		}
		f.mustReserve(elsewhere.ID, p)

		got, err := f.repo.FindConfirmedBooking(f.ctx, outing, p)
		if err != nil || got.ID != held.ID {
			t.Fatalf("FindConfirmedBooking=%#v err=%v, want %s", got, err, held.ID)
		}
		if s := f.snapshot(b.ID); s.ConfirmedCount != 0 {
			t.Fatalf("snapshot(B)=%+v, want 0 confirmed", s)
		}
	})

	t.Run("CancelThenRebook", func(t *testing.T) {
		f := setup(t)
		outing := newOutingID()
		a := f.offer(outing, newMemberID(), 1)
		b := f.offer(outing, newMemberID(), 1)
		p := newMemberID()

		held := f.mustReserve(a.ID, p)
		if _, err := f.repo.CancelBooking(f.ctx, held.ID, newMemberID(), f.now); !errors.Is(err, carpoolrepoport.ErrNotOwner) {
			t.Fatalf("CancelBooking(stranger) err=%v, want ErrNotOwner", err)
		}
		cancelled, err := f.repo.CancelBooking(f.ctx, held.ID, p, f.now)
		if err != nil {
			t.Fatalf("CancelBooking: %v", err)
		}
		if cancelled.Status != domain.BookingStatusCancelled || cancelled.CancelReason == nil || *cancelled.CancelReason != domain.CancelReasonPassenger || cancelled.CancelledAt == nil {
			t.Fatalf("unexpected cancelled booking: %#v", cancelled)
		}
		if _, err := f.repo.CancelBooking(f.ctx, held.ID, p, f.now); !errors.Is(err, carpoolrepoport.ErrAlreadyCancelled) {
			t.Fatalf("CancelBooking(again) err=%v, want ErrAlreadyCancelled", err)
		}
		if _, err := f.repo.CancelBooking(f.ctx, domain.BookingID(uuid.NewString()), p, f.now); !errors.Is(err, carpoolrepoport.ErrBookingNotFound) {
			t.Fatalf("CancelBooking(missing) err=%v, want ErrBookingNotFound", err)
		}
		if s := f.snapshot(a.ID); s.ConfirmedCount != 0 {
			t.Fatalf("snapshot(A)=%+v, want 0 confirmed", s)
		}
		if _, err := f.repo.FindConfirmedBooking(f.ctx, outing, p); !errors.Is(err, carpoolrepoport.ErrBookingNotFound) {
			t.Fatalf("FindConfirmedBooking after cancel err=%v", err)
		}

		f.mustReserve(b.ID, p)

		// The released seat on A is claimable again.
		f.mustReserve(a.ID, newMemberID())
	})

	t.Run("UpdateOfferChecksOwnerVersionAndCapacity", func(t *testing.T) {
		f := setup(t)
		driver := newMemberID()
		o := f.offer(newOutingID(), driver, 3)
		f.mustReserve(o.ID, newMemberID())
		f.mustReserve(o.ID, newMemberID())

		u := carpoolrepoport.OfferUpdate{
			ID:              o.ID,
			DriverID:        driver,
			ExpectedVersion: o.Version,
			SeatsTotal:      1,
			MeetingPoint:    "New lot",
			DepartureTime:   o.DepartureTime.Add(time.Hour),
			UpdatedAt:       f.now,
		}
		if _, err := f.repo.UpdateOffer(f.ctx, u); !errors.Is(err, carpoolrepoport.ErrCapacityBelowBooked) {
			t.Fatalf("UpdateOffer(below booked) err=%v, want ErrCapacityBelowBooked", err)
		}

		stranger := u
		stranger.DriverID = newMemberID()
		stranger.SeatsTotal = 5
		if _, err := f.repo.UpdateOffer(f.ctx, stranger); !errors.Is(err, carpoolrepoport.ErrNotOwner) {
			t.Fatalf("UpdateOffer(stranger) err=%v, want ErrNotOwner", err)
		}

		u.SeatsTotal = 2
		got, err := f.repo.UpdateOffer(f.ctx, u)
		if err != nil {
			t.Fatalf("UpdateOffer: %v", err)
		}
		if got.SeatsTotal != 2 || got.MeetingPoint != "New lot" || got.Version != o.Version+1 || got.ConfirmedCount != 2 {
			t.Fatalf("unexpected updated offer: %#v", got)
		}

		// Stale version.
		if _, err := f.repo.UpdateOffer(f.ctx, u); !errors.Is(err, carpoolrepoport.ErrVersionConflict) {
			t.Fatalf("UpdateOffer(stale) err=%v, want ErrVersionConflict", err)
		}
		if _, err := f.reserve(o.ID, newMemberID()); !errors.Is(err, carpoolrepoport.ErrTripFull) {
			t.Fatalf("ReserveSeat after shrink err=%v, want ErrTripFull", err)
		}
	})

	t.Run("WithdrawOfferCascades", func(t *testing.T) {
		f := setup(t)
		outing, driver := newOutingID(), newMemberID()
		o := f.offer(outing, driver, 4)
		passengers := []domain.MemberID{newMemberID(), newMemberID(), newMemberID()}
		for _, p := range passengers {
			f.mustReserve(o.ID, p)
		}
		early, err := f.repo.ListBookingsByOffer(f.ctx, o.ID)
		if err != nil || len(early) != 3 {
			t.Fatalf("ListBookingsByOffer len=%d err=%v", len(early), err)
		}
		if _, err := f.repo.CancelBooking(f.ctx, early[0].ID, passengers[0], f.now); err != nil {
			t.Fatalf("CancelBooking: %v", err)
		}

		at := f.now.Add(time.Minute)
		withdrawn, cancelled, err := f.repo.WithdrawOffer(f.ctx, carpoolrepoport.Withdrawal{TripOfferID: o.ID, Reason: domain.WithdrawReasonDriver, At: at})
		if err != nil {
			t.Fatalf("WithdrawOffer: %v", err)
		}
		if withdrawn.Status != domain.TripOfferStatusWithdrawn || withdrawn.WithdrawReason == nil || *withdrawn.WithdrawReason != domain.WithdrawReasonDriver || withdrawn.WithdrawnAt == nil {
			t.Fatalf("unexpected withdrawn offer: %#v", withdrawn)
		}
		if withdrawn.ConfirmedCount != 0 {
			t.Fatalf("confirmedCount=%d, want 0", withdrawn.ConfirmedCount)
		}
		if len(cancelled) != 2 || cancelled[0].PassengerID != passengers[1] || cancelled[1].PassengerID != passengers[2] {
			t.Fatalf("unexpected cancelled set: %#v", cancelled)
		}
		for _, b := range cancelled {
			if b.Status != domain.BookingStatusCancelled || b.CancelReason == nil || *b.CancelReason != domain.CancelReasonTripWithdrawn {
				t.Fatalf("unexpected cascaded booking: %#v", b)
			}
		}

		all, err := f.repo.ListBookingsByOffer(f.ctx, o.ID)
		if err != nil {
			t.Fatalf("ListBookingsByOffer: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("history len=%d, want 3 (bookings are never erased)", len(all))
		}
		for _, b := range all {
			if b.Status != domain.BookingStatusCancelled {
				t.Fatalf("booking %s still %s after withdrawal", b.ID, b.Status)
			}
		}

		if _, _, err := f.repo.WithdrawOffer(f.ctx, carpoolrepoport.Withdrawal{TripOfferID: o.ID, Reason: domain.WithdrawReasonDriver, At: at}); !errors.Is(err, carpoolrepoport.ErrOfferNotActive) {
			t.Fatalf("WithdrawOffer(again) err=%v, want ErrOfferNotActive", err)
		}
		if _, err := f.reserve(o.ID, newMemberID()); !errors.Is(err, carpoolrepoport.ErrOfferNotActive) {
			t.Fatalf("ReserveSeat(withdrawn) err=%v, want ErrOfferNotActive", err)
		}
		if _, err := f.repo.UpdateOffer(f.ctx, carpoolrepoport.OfferUpdate{ID: o.ID, DriverID: driver, ExpectedVersion: withdrawn.Version, SeatsTotal: 4, MeetingPoint: "x", DepartureTime: at}); !errors.Is(err, carpoolrepoport.ErrOfferNotActive) {
			t.Fatalf("UpdateOffer(withdrawn) err=%v, want ErrOfferNotActive", err)
		}

		// Cascaded passengers are free to book elsewhere for the same outing.
		other := f.offer(outing, newMemberID(), 2)
		f.mustReserve(other.ID, passengers[1])

		// Driver may publish a fresh offer for the same outing.
		f.offer(outing, driver, 2)

		active, err := f.repo.ListOffersByOuting(f.ctx, outing, false)
		if err != nil {
			t.Fatalf("ListOffersByOuting: %v", err)
		}
		if len(active) != 2 {
			t.Fatalf("active offers=%d, want 2", len(active))
		}
		for _, a := range active {
			if a.ID == o.ID {
				t.Fatalf("withdrawn offer listed as active")
			}
		}
		everything, err := f.repo.ListOffersByOuting(f.ctx, outing, true)
		if err != nil || len(everything) != 3 {
			t.Fatalf("ListOffersByOuting(includeWithdrawn) len=%d err=%v", len(everything), err)
		}
	})

	t.Run("ListOrdering", func(t *testing.T) {
		f := setup(t)
		outing := newOutingID()
		late := f.offer(outing, newMemberID(), 3)
		early := f.offer(outing, newMemberID(), 3)
		if _, err := f.repo.UpdateOffer(f.ctx, carpoolrepoport.OfferUpdate{
			ID:              early.ID,
			DriverID:        early.DriverID,
			ExpectedVersion: early.Version,
			SeatsTotal:      3,
			MeetingPoint:    early.MeetingPoint,
			DepartureTime:   early.DepartureTime.Add(-time.Hour),
			UpdatedAt:       f.now,
		}); err != nil {
			t.Fatalf("UpdateOffer: %v", err)
		}
		offers, err := f.repo.ListOffersByOuting(f.ctx, outing, false)
		if err != nil {
			t.Fatalf("ListOffersByOuting: %v", err)
		}
		if len(offers) != 2 || offers[0].ID != early.ID || offers[1].ID != late.ID {
			t.Fatalf("order=%v, want [%s %s]", offers, early.ID, late.ID)
		}

		p1, p2, p3 := newMemberID(), newMemberID(), newMemberID()
		f.mustReserve(late.ID, p1)
		f.mustReserve(late.ID, p2)
		f.mustReserve(late.ID, p3)
		bs, err := f.repo.ListBookingsByOffer(f.ctx, late.ID)
		if err != nil {
			t.Fatalf("ListBookingsByOffer: %v", err)
		}
		if len(bs) != 3 || bs[0].PassengerID != p1 || bs[1].PassengerID != p2 || bs[2].PassengerID != p3 {
			t.Fatalf("booking order=%v, want first-come", bs)
		}
	})

	t.Run("LastSeatRace", func(t *testing.T) {
		f := setup(t)
		o := f.offer(newOutingID(), newMemberID(), 3)
		f.mustReserve(o.ID, newMemberID())
		f.mustReserve(o.ID, newMemberID())

		const racers = 10
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			wins  int
			fulls int
			other []error
			start = make(chan struct{})
		)
		for i := 0; i < racers; i++ {
			p := newMemberID()
			id := domain.BookingID(uuid.NewString())
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.repo.ReserveSeat(f.ctx, carpoolrepoport.Reservation{BookingID: id, TripOfferID: o.ID, PassengerID: p, CreatedAt: time.Unix(9000, 0).UTC()})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, carpoolrepoport.ErrTripFull):
					fulls++
				default:
					other = append(other, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if len(other) != 0 {
			t.Fatalf("unexpected errors: %v", other)
		}
		if wins != 1 || fulls != racers-1 {
			t.Fatalf("wins=%d fulls=%d, want 1/%d", wins, fulls, racers-1)
		}
		if s := f.snapshot(o.ID); s.ConfirmedCount != 3 {
			t.Fatalf("snapshot=%+v, want 3 confirmed", s)
		}
	})

	t.Run("SamePassengerRacesTwoTrips", func(t *testing.T) {
		f := setup(t)
		outing := newOutingID()
		a := f.offer(outing, newMemberID(), 2)
		b := f.offer(outing, newMemberID(), 2)
		p := newMemberID()

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for i, id := range []domain.TripOfferID{a.ID, b.ID} {
			wg.Add(1)
			go func(i int, offer domain.TripOfferID) {
				defer wg.Done()
				_, errs[i] = f.repo.ReserveSeat(f.ctx, carpoolrepoport.Reservation{
					BookingID:   domain.BookingID(uuid.NewString()),
					TripOfferID: offer,
					PassengerID: p,
					CreatedAt:   time.Unix(9100, 0).UTC(),
				})
			}(i, id)
		}
		wg.Wait()

		ok, already := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, carpoolrepoport.ErrAlreadyBooked):
				already++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if ok != 1 || already != 1 {
			t.Fatalf("ok=%d already=%d, want 1/1", ok, already)
		}
	})
}
