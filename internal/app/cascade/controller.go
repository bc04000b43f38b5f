// Package cascade propagates offer withdrawals and outing cancellations to the affected bookings.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Overland-East-Bay/carpool-api/internal/app/apperr"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

// Invalidator atomically withdraws an offer together with its confirmed bookings.
type Invalidator interface {
	InvalidateOffer(ctx context.Context, id domain.TripOfferID, reason domain.WithdrawReason) (domain.TripOffer, []domain.Booking, error)
}

type OfferLister interface {
	ListOffersByOuting(ctx context.Context, outingID domain.OutingID, includeWithdrawn bool) ([]domain.TripOffer, error)
}

// Emitter accepts events for delivery after the state change has committed. It must not block.
type Emitter interface {
	Emit(events ...domain.CascadeEvent)
}

type Controller struct {
	bookings Invalidator
	offers   OfferLister
	emit     Emitter
	log      *slog.Logger
}

func NewController(bookings Invalidator, offers OfferLister, emit Emitter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		bookings: bookings,
		offers:   offers,
		emit:     emit,
		log:      logger.With("component", "cascade"),
	}
}

// Withdrawal is the outcome of one offer invalidation.
type Withdrawal struct {
	Offer             domain.TripOffer
	CancelledBookings []domain.Booking
}

// OutingCancellation aggregates the offers withdrawn for one cancelled outing.
type OutingCancellation struct {
	OutingID          domain.OutingID
	WithdrawnOffers   []domain.TripOffer
	CancelledBookings []domain.Booking
}

// OnOfferWithdrawn invalidates the offer and its bookings, then emits one event per cancelled booking.
// Nothing is emitted when the invalidation fails.
func (c *Controller) OnOfferWithdrawn(ctx context.Context, id domain.TripOfferID, reason domain.WithdrawReason) (Withdrawal, error) {
	offer, cancelled, err := c.bookings.InvalidateOffer(ctx, id, reason)
	if err != nil {
		return Withdrawal{}, err
	}

	occurred := offer.UpdatedAt
	if offer.WithdrawnAt != nil {
		occurred = *offer.WithdrawnAt
	}
	evType := domain.CascadeEventTypeFor(reason)
	events := make([]domain.CascadeEvent, 0, len(cancelled))
	for _, b := range cancelled {
		events = append(events, domain.CascadeEvent{
			Type:        evType,
			PassengerID: b.PassengerID,
			TripOfferID: offer.ID,
			OutingID:    offer.OutingID,
			BookingID:   b.ID,
			OccurredAt:  occurred,
		})
	}
	if len(events) > 0 && c.emit != nil {
		c.emit.Emit(events...)
	}

	c.log.Info("trip offer withdrawn",
		"tripOfferId", string(offer.ID),
		"outingId", string(offer.OutingID),
		"reason", string(reason),
		"cancelledBookings", len(cancelled),
	)
	return Withdrawal{Offer: offer, CancelledBookings: cancelled}, nil
}

// OnOutingCancelled withdraws every active offer of the outing with reason OUTING_CANCELLED.
//
// Offers withdrawn concurrently by someone else are skipped, so repeating the call is a no-op.
// A storage failure stops the loop; offers already handled stay withdrawn and a retry picks up the rest.
func (c *Controller) OnOutingCancelled(ctx context.Context, outingID domain.OutingID) (OutingCancellation, error) {
	res := OutingCancellation{
		OutingID:          outingID,
		WithdrawnOffers:   make([]domain.TripOffer, 0),
		CancelledBookings: make([]domain.Booking, 0),
	}
	active, err := c.offers.ListOffersByOuting(ctx, outingID, false)
	if err != nil {
		return res, fmt.Errorf("list offers for outing: %w", err)
	}

	for _, o := range active {
		w, err := c.OnOfferWithdrawn(ctx, o.ID, domain.WithdrawReasonOutingCancelled)
		if err != nil {
			if errors.Is(err, apperr.ErrOfferNotActive) || errors.Is(err, apperr.ErrTripOfferNotFound) {
				continue
			}
			return res, fmt.Errorf("withdraw offer %s: %w", o.ID, err)
		}
		res.WithdrawnOffers = append(res.WithdrawnOffers, w.Offer)
		res.CancelledBookings = append(res.CancelledBookings, w.CancelledBookings...)
	}

	c.log.Info("outing cancellation cascaded",
		"outingId", string(outingID),
		"withdrawnOffers", len(res.WithdrawnOffers),
		"cancelledBookings", len(res.CancelledBookings),
	)
	return res, nil
}
