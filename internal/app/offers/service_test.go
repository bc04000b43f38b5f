package offers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	memcarpoolrepo "github.com/Overland-East-Bay/carpool-api/internal/adapters/memory/carpoolrepo"
	memclock "github.com/Overland-East-Bay/carpool-api/internal/adapters/memory/clock"
	memoutings "github.com/Overland-East-Bay/carpool-api/internal/adapters/memory/outings"
	"github.com/Overland-East-Bay/carpool-api/internal/app/apperr"
	"github.com/Overland-East-Bay/carpool-api/internal/app/bookings"
	"github.com/Overland-East-Bay/carpool-api/internal/app/cascade"
	"github.com/Overland-East-Bay/carpool-api/internal/app/offers"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

type harness struct {
	clk   *memclock.ManualClock
	repo  *memcarpoolrepo.Repo
	reg   *memoutings.Registry
	coord *bookings.Coordinator
	svc   *offers.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := memclock.NewManualClock(time.Date(2030, 2, 1, 10, 0, 0, 0, time.UTC))
	repo := memcarpoolrepo.NewRepo()
	reg := memoutings.NewRegistry(clk, false)
	reg.Upsert(memoutings.Outing{ID: "outing-1", StartsAt: clk.Now().Add(72 * time.Hour)})
	coord := bookings.NewCoordinator(repo, reg, clk)
	ctrl := cascade.NewController(coord, repo, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc := offers.NewService(repo, reg, ctrl, clk)
	return &harness{clk: clk, repo: repo, reg: reg, coord: coord, svc: svc}
}

func (h *harness) departure() time.Time { return h.clk.Now().Add(70 * time.Hour) }

func (h *harness) create(t *testing.T, driver domain.MemberID, seats int) domain.TripOffer {
	t.Helper()
	o, err := h.svc.CreateOffer(context.Background(), driver, "outing-1", offers.CreateOfferInput{
		SeatsTotal:    seats,
		MeetingPoint:  "North lot",
		DepartureTime: h.departure(),
	})
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	return o
}

func TestService_CreateOffer_NormalizesAndSetsFields(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.svc.SetNewOfferIDForTest(func() domain.TripOfferID { return "o1" })
	notes := "  bring snacks  "

	o, err := h.svc.CreateOffer(context.Background(), "d1", "outing-1", offers.CreateOfferInput{
		SeatsTotal:    3,
		MeetingPoint:  "  Park   and  ride ",
		DepartureTime: h.departure(),
		Notes:         &notes,
	})
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if o.ID != "o1" || o.MeetingPoint != "Park and ride" || o.Notes == nil || *o.Notes != "bring snacks" {
		t.Fatalf("offer=%+v", o)
	}
	if !o.IsActive() || o.ConfirmedCount != 0 || o.SeatsAvailable() != 3 || o.Version != 1 {
		t.Fatalf("offer state=%+v", o)
	}
	stored, err := h.svc.GetOffer(context.Background(), "o1")
	if err != nil || stored.DriverID != "d1" {
		t.Fatalf("GetOffer=%+v err=%v", stored, err)
	}
}

func TestService_CreateOffer_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	base := offers.CreateOfferInput{SeatsTotal: 2, MeetingPoint: "Lot", DepartureTime: h.departure()}

	for _, seats := range []int{0, 9, -1} {
		in := base
		in.SeatsTotal = seats
		if _, err := h.svc.CreateOffer(ctx, "d1", "outing-1", in); !errors.Is(err, apperr.ErrInvalidSeatsTotal) {
			t.Fatalf("seats=%d err=%v, want INVALID_SEATS_TOTAL", seats, err)
		}
	}

	in := base
	in.MeetingPoint = "   "
	if _, err := h.svc.CreateOffer(ctx, "d1", "outing-1", in); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("blank meetingPoint err=%v", err)
	}
	in = base
	in.MeetingPoint = strings.Repeat("x", offers.MaxMeetingPointLen+1)
	if _, err := h.svc.CreateOffer(ctx, "d1", "outing-1", in); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("long meetingPoint err=%v", err)
	}
	in = base
	in.DepartureTime = time.Time{}
	if _, err := h.svc.CreateOffer(ctx, "d1", "outing-1", in); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("missing departureTime err=%v", err)
	}

	list, _ := h.svc.ListOffersForOuting(ctx, "outing-1", true)
	if len(list) != 0 {
		t.Fatalf("validation failures stored offers: %v", list)
	}
}

func TestService_CreateOffer_OutingAndDuplicateChecks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	in := offers.CreateOfferInput{SeatsTotal: 2, MeetingPoint: "Lot", DepartureTime: h.departure()}

	if _, err := h.svc.CreateOffer(ctx, "d1", "nope", in); !errors.Is(err, apperr.ErrOutingNotFound) {
		t.Fatalf("unknown outing err=%v", err)
	}

	first := h.create(t, "d1", 2)
	if _, err := h.svc.CreateOffer(ctx, "d1", "outing-1", in); !errors.Is(err, apperr.ErrDuplicateOffer) {
		t.Fatalf("duplicate err=%v, want DUPLICATE_OFFER", err)
	}
	if _, err := h.svc.WithdrawOffer(ctx, "d1", first.ID); err != nil {
		t.Fatalf("WithdrawOffer: %v", err)
	}
	h.create(t, "d1", 4)

	h.reg.Upsert(memoutings.Outing{ID: "outing-2", StartsAt: h.clk.Now().Add(time.Hour), Cancelled: true})
	if _, err := h.svc.CreateOffer(ctx, "d2", "outing-2", in); !errors.Is(err, apperr.ErrOutingCancelled) {
		t.Fatalf("cancelled outing err=%v", err)
	}

	h.clk.Advance(72 * time.Hour)
	if _, err := h.svc.CreateOffer(ctx, "d3", "outing-1", in); !errors.Is(err, apperr.ErrOutingStarted) {
		t.Fatalf("started outing err=%v", err)
	}
}

func TestService_UpdateOffer_CapacityBelowBooked(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	o := h.create(t, "d1", 3)
	for _, p := range []domain.MemberID{"p1", "p2"} {
		if _, err := h.coord.BookSeat(ctx, p, o.ID); err != nil {
			t.Fatalf("BookSeat: %v", err)
		}
	}

	_, err := h.svc.UpdateOffer(ctx, "d1", o.ID, offers.UpdateOfferInput{SeatsTotal: offers.Some(1)})
	if !errors.Is(err, apperr.ErrCapacityBelowBooked) {
		t.Fatalf("err=%v, want CAPACITY_BELOW_BOOKED", err)
	}
	if e, ok := apperr.As(err); !ok || e.Details["confirmedCount"] != 2 {
		t.Fatalf("details=%v", e)
	}

	updated, err := h.svc.UpdateOffer(ctx, "d1", o.ID, offers.UpdateOfferInput{
		SeatsTotal:   offers.Some(2),
		MeetingPoint: offers.Some(" South   lot "),
		Notes:        offers.Some("chains required"),
	})
	if err != nil {
		t.Fatalf("UpdateOffer: %v", err)
	}
	if updated.SeatsTotal != 2 || updated.MeetingPoint != "South lot" || updated.Notes == nil || updated.Version != 2 {
		t.Fatalf("updated=%+v", updated)
	}

	cleared, err := h.svc.UpdateOffer(ctx, "d1", o.ID, offers.UpdateOfferInput{Notes: offers.Null[string]()})
	if err != nil || cleared.Notes != nil || cleared.SeatsTotal != 2 {
		t.Fatalf("clear notes=%+v err=%v", cleared, err)
	}
}

func TestService_UpdateOffer_Rejections(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	o := h.create(t, "d1", 3)

	if _, err := h.svc.UpdateOffer(ctx, "d2", o.ID, offers.UpdateOfferInput{SeatsTotal: offers.Some(4)}); !errors.Is(err, apperr.ErrNotOwner) {
		t.Fatalf("stranger err=%v", err)
	}
	if _, err := h.svc.UpdateOffer(ctx, "d1", "missing", offers.UpdateOfferInput{}); !errors.Is(err, apperr.ErrTripOfferNotFound) {
		t.Fatalf("missing err=%v", err)
	}
	if _, err := h.svc.UpdateOffer(ctx, "d1", o.ID, offers.UpdateOfferInput{SeatsTotal: offers.Some(9)}); !errors.Is(err, apperr.ErrInvalidSeatsTotal) {
		t.Fatalf("seats=9 err=%v", err)
	}
	if _, err := h.svc.UpdateOffer(ctx, "d1", o.ID, offers.UpdateOfferInput{MeetingPoint: offers.Null[string]()}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("null meetingPoint err=%v", err)
	}
	if _, err := h.svc.UpdateOffer(ctx, "d1", o.ID, offers.UpdateOfferInput{ExpectedVersion: offers.Some[int64](7)}); !errors.Is(err, apperr.ErrOfferConcurrentlyModified) {
		t.Fatalf("stale version err=%v", err)
	}

	if _, err := h.svc.WithdrawOffer(ctx, "d1", o.ID); err != nil {
		t.Fatalf("WithdrawOffer: %v", err)
	}
	if _, err := h.svc.UpdateOffer(ctx, "d1", o.ID, offers.UpdateOfferInput{SeatsTotal: offers.Some(4)}); !errors.Is(err, apperr.ErrOfferNotActive) {
		t.Fatalf("withdrawn err=%v", err)
	}
}

func TestService_UpdateOffer_AfterOutingStarted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	o := h.create(t, "d1", 3)
	h.clk.Advance(72 * time.Hour)
	if _, err := h.svc.UpdateOffer(context.Background(), "d1", o.ID, offers.UpdateOfferInput{SeatsTotal: offers.Some(4)}); !errors.Is(err, apperr.ErrOutingStarted) {
		t.Fatalf("err=%v, want OUTING_STARTED", err)
	}
}

func TestService_WithdrawOffer_CascadesBookings(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	o := h.create(t, "d1", 2)
	if _, err := h.coord.BookSeat(ctx, "p1", o.ID); err != nil {
		t.Fatalf("BookSeat: %v", err)
	}

	if _, err := h.svc.WithdrawOffer(ctx, "p1", o.ID); !errors.Is(err, apperr.ErrNotOwner) {
		t.Fatalf("passenger withdraw err=%v, want NOT_OWNER", err)
	}

	res, err := h.svc.WithdrawOffer(ctx, "d1", o.ID)
	if err != nil {
		t.Fatalf("WithdrawOffer: %v", err)
	}
	if res.Offer.Status != domain.TripOfferStatusWithdrawn || len(res.CancelledBookings) != 1 {
		t.Fatalf("result=%+v", res)
	}
	if res.CancelledBookings[0].CancelReason == nil || *res.CancelledBookings[0].CancelReason != domain.CancelReasonTripWithdrawn {
		t.Fatalf("cancel reason=%v", res.CancelledBookings[0].CancelReason)
	}
	snap, err := h.svc.CapacitySnapshot(ctx, o.ID)
	if err != nil || snap.ConfirmedCount != 0 {
		t.Fatalf("snapshot=%+v err=%v", snap, err)
	}

	if _, err := h.svc.WithdrawOffer(ctx, "d1", o.ID); !errors.Is(err, apperr.ErrOfferNotActive) {
		t.Fatalf("second withdraw err=%v", err)
	}
	if _, err := h.coord.BookSeat(ctx, "p2", o.ID); !errors.Is(err, apperr.ErrOfferNotActive) {
		t.Fatalf("book withdrawn err=%v", err)
	}

	active, _ := h.svc.ListOffersForOuting(ctx, "outing-1", false)
	all, _ := h.svc.ListOffersForOuting(ctx, "outing-1", true)
	if len(active) != 0 || len(all) != 1 {
		t.Fatalf("active=%d all=%d", len(active), len(all))
	}
}
