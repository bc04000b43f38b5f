// Package bookings owns seat reservations. It is the only writer of bookings and of an offer's
// confirmed count; both go through the repository's atomic steps.
package bookings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/carpool-api/internal/app/apperr"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/carpoolrepo"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/outings"
)

type Coordinator struct {
	repo    carpoolrepo.Repository
	outings outings.Registry
	clk     clock.Clock

	newBookingID func() domain.BookingID
}

func NewCoordinator(repo carpoolrepo.Repository, registry outings.Registry, clk clock.Clock) *Coordinator {
	return &Coordinator{
		repo:    repo,
		outings: registry,
		clk:     clk,
		newBookingID: func() domain.BookingID {
			return domain.BookingID(uuid.NewString())
		},
	}
}

// SetNewBookingIDForTest overrides booking ID generation for deterministic tests.
// It should not be used in production code.
func (c *Coordinator) SetNewBookingIDForTest(fn func() domain.BookingID) {
	if fn != nil {
		c.newBookingID = fn
	}
}

// BookSeat claims one seat on offerID for passenger.
//
// The offer read and the outing checks only produce early rejections; the decision itself is made by
// ReserveSeat, which re-checks status, ownership, the one-seat-per-outing rule and capacity atomically.
func (c *Coordinator) BookSeat(ctx context.Context, passenger domain.MemberID, offerID domain.TripOfferID) (domain.Booking, error) {
	offer, err := c.repo.GetOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, carpoolrepo.ErrOfferNotFound) {
			return domain.Booking{}, apperr.ErrTripOfferNotFound
		}
		return domain.Booking{}, fmt.Errorf("load trip offer: %w", err)
	}
	if !offer.IsActive() {
		return domain.Booking{}, apperr.ErrOfferNotActive
	}

	cancelled, err := c.outings.IsCancelled(ctx, offer.OutingID)
	if err != nil {
		return domain.Booking{}, mapOutingErr(err)
	}
	if cancelled {
		// The cascade is about to withdraw this offer, if it has not already.
		return domain.Booking{}, apperr.ErrOfferNotActive
	}
	started, err := c.outings.IsStarted(ctx, offer.OutingID)
	if err != nil {
		return domain.Booking{}, mapOutingErr(err)
	}
	if started {
		return domain.Booking{}, apperr.ErrOutingStarted
	}

	b, err := c.repo.ReserveSeat(ctx, carpoolrepo.Reservation{
		BookingID:   c.newBookingID(),
		TripOfferID: offerID,
		PassengerID: passenger,
		CreatedAt:   c.clk.Now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, carpoolrepo.ErrOfferNotFound):
			return domain.Booking{}, apperr.ErrTripOfferNotFound
		case errors.Is(err, carpoolrepo.ErrOfferNotActive):
			return domain.Booking{}, apperr.ErrOfferNotActive
		case errors.Is(err, carpoolrepo.ErrSelfBooking):
			return domain.Booking{}, apperr.ErrSelfBooking
		case errors.Is(err, carpoolrepo.ErrAlreadyBooked):
			return domain.Booking{}, apperr.ErrAlreadyBooked.WithDetails(map[string]any{"outingId": string(offer.OutingID)})
		case errors.Is(err, carpoolrepo.ErrTripFull):
			return domain.Booking{}, apperr.ErrTripFull.WithDetails(map[string]any{"seatsTotal": offer.SeatsTotal})
		}
		return domain.Booking{}, fmt.Errorf("reserve seat: %w", err)
	}
	return b, nil
}

// CancelBooking releases the requester's seat. Only the passenger who holds the booking may cancel it.
func (c *Coordinator) CancelBooking(ctx context.Context, requester domain.MemberID, id domain.BookingID) (domain.Booking, error) {
	b, err := c.repo.CancelBooking(ctx, id, requester, c.clk.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, carpoolrepo.ErrBookingNotFound):
			return domain.Booking{}, apperr.ErrBookingNotFound
		case errors.Is(err, carpoolrepo.ErrNotOwner):
			return domain.Booking{}, apperr.ErrNotOwner
		case errors.Is(err, carpoolrepo.ErrAlreadyCancelled):
			return domain.Booking{}, apperr.ErrAlreadyCancelled
		}
		return domain.Booking{}, fmt.Errorf("cancel booking: %w", err)
	}
	return b, nil
}

// ListBookings returns every booking of the offer, cancelled ones included, first-come first.
func (c *Coordinator) ListBookings(ctx context.Context, offerID domain.TripOfferID) ([]domain.Booking, error) {
	bs, err := c.repo.ListBookingsByOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, carpoolrepo.ErrOfferNotFound) {
			return nil, apperr.ErrTripOfferNotFound
		}
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bs, nil
}

func (c *Coordinator) MyBookingForOuting(ctx context.Context, passenger domain.MemberID, outingID domain.OutingID) (domain.Booking, error) {
	b, err := c.repo.FindConfirmedBooking(ctx, outingID, passenger)
	if err != nil {
		if errors.Is(err, carpoolrepo.ErrBookingNotFound) {
			return domain.Booking{}, apperr.ErrBookingNotFound
		}
		return domain.Booking{}, fmt.Errorf("find booking: %w", err)
	}
	return b, nil
}

// InvalidateOffer withdraws the offer and cancels all of its confirmed bookings in one repository step.
// It returns the withdrawn offer and the bookings it cancelled.
func (c *Coordinator) InvalidateOffer(ctx context.Context, offerID domain.TripOfferID, reason domain.WithdrawReason) (domain.TripOffer, []domain.Booking, error) {
	offer, cancelled, err := c.repo.WithdrawOffer(ctx, carpoolrepo.Withdrawal{
		TripOfferID: offerID,
		Reason:      reason,
		At:          c.clk.Now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, carpoolrepo.ErrOfferNotFound):
			return domain.TripOffer{}, nil, apperr.ErrTripOfferNotFound
		case errors.Is(err, carpoolrepo.ErrOfferNotActive):
			return domain.TripOffer{}, nil, apperr.ErrOfferNotActive
		}
		return domain.TripOffer{}, nil, fmt.Errorf("withdraw trip offer: %w", err)
	}
	return offer, cancelled, nil
}

func mapOutingErr(err error) error {
	if errors.Is(err, outings.ErrNotFound) {
		return apperr.ErrOutingNotFound
	}
	return fmt.Errorf("outing registry: %w", err)
}
