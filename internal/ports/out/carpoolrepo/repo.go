package carpoolrepo

import (
	"context"
	"time"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

// Reservation is the input of the atomic seat-claim step.
type Reservation struct {
	BookingID   domain.BookingID
	TripOfferID domain.TripOfferID
	PassengerID domain.MemberID
	CreatedAt   time.Time
}

// OfferUpdate carries the driver-mutable fields of an offer.
//
// ExpectedVersion must equal the stored version; the stored version is incremented on success.
type OfferUpdate struct {
	ID              domain.TripOfferID
	DriverID        domain.MemberID
	ExpectedVersion int64

	SeatsTotal    int
	MeetingPoint  string
	Notes         *string
	DepartureTime time.Time
	UpdatedAt     time.Time
}

// Withdrawal is the input of the cascade step that retires an offer.
type Withdrawal struct {
	TripOfferID domain.TripOfferID
	Reason      domain.WithdrawReason
	At          time.Time
}

// Repository persists trip offers and bookings.
//
// Every mutating method is a single atomic step. Implementations must guarantee that:
//   - ReserveSeat checks offer status, self-booking, the one-confirmed-booking-per-(outing,passenger) rule
//     and capacity, and increments the confirmed count, without any window for a concurrent claim
//     of the same seat;
//   - WithdrawOffer cancels every confirmed booking of the offer and flips the offer to WITHDRAWN so that no
//     reader can observe a partial result;
//   - locking is scoped to the offer (and, for ReserveSeat, the passenger); unrelated offers never serialize.
//
// Result ordering expectations:
//   - ListOffersByOuting: departure time ascending, then CreatedAt, then ID.
//   - ListBookingsByOffer: CreatedAt ascending, then ID.
type Repository interface {
	// CreateOffer stores a new ACTIVE offer. ErrDuplicateActiveOffer if the driver already has one for the outing.
	CreateOffer(ctx context.Context, o domain.TripOffer) error

	// UpdateOffer applies driver-mutable fields. Errors: ErrOfferNotFound, ErrNotOwner, ErrOfferNotActive,
	// ErrVersionConflict, ErrCapacityBelowBooked (checked against the live confirmed count).
	UpdateOffer(ctx context.Context, u OfferUpdate) (domain.TripOffer, error)

	GetOffer(ctx context.Context, id domain.TripOfferID) (domain.TripOffer, error)
	ListOffersByOuting(ctx context.Context, outingID domain.OutingID, includeWithdrawn bool) ([]domain.TripOffer, error)
	CapacitySnapshot(ctx context.Context, id domain.TripOfferID) (domain.CapacitySnapshot, error)

	// ReserveSeat creates a CONFIRMED booking. Errors: ErrOfferNotFound, ErrOfferNotActive, ErrSelfBooking,
	// ErrAlreadyBooked, ErrTripFull.
	ReserveSeat(ctx context.Context, r Reservation) (domain.Booking, error)

	// CancelBooking cancels a CONFIRMED booking held by passenger and releases its seat.
	// Errors: ErrBookingNotFound, ErrNotOwner, ErrAlreadyCancelled.
	CancelBooking(ctx context.Context, id domain.BookingID, passenger domain.MemberID, at time.Time) (domain.Booking, error)

	// WithdrawOffer retires an ACTIVE offer and returns it together with the bookings it cancelled.
	// Errors: ErrOfferNotFound, ErrOfferNotActive.
	WithdrawOffer(ctx context.Context, w Withdrawal) (domain.TripOffer, []domain.Booking, error)

	GetBooking(ctx context.Context, id domain.BookingID) (domain.Booking, error)
	ListBookingsByOffer(ctx context.Context, id domain.TripOfferID) ([]domain.Booking, error)

	// FindConfirmedBooking returns the passenger's CONFIRMED booking for the outing, or ErrBookingNotFound.
	FindConfirmedBooking(ctx context.Context, outingID domain.OutingID, passenger domain.MemberID) (domain.Booking, error)
}
