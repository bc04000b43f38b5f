package offers

import (
	"time"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

// Optional is a tri-state field used to distinguish:
// - unspecified (omitted)
// - specified as null
// - specified with a value
type Optional[T any] struct {
	specified bool
	isNull    bool
	value     T
}

func Unspecified[T any]() Optional[T] { return Optional[T]{} }
func Null[T any]() Optional[T]        { return Optional[T]{specified: true, isNull: true} }
func Some[T any](v T) Optional[T]     { return Optional[T]{specified: true, value: v} }

func (o Optional[T]) IsSpecified() bool { return o.specified }
func (o Optional[T]) IsNull() bool      { return o.specified && o.isNull }
func (o Optional[T]) Value() T          { return o.value }

const (
	MaxMeetingPointLen = 200
	MaxNotesLen        = 1000
)

type CreateOfferInput struct {
	SeatsTotal    int
	MeetingPoint  string
	DepartureTime time.Time
	Notes         *string
}

type UpdateOfferInput struct {
	// SeatsTotal, MeetingPoint and DepartureTime cannot be null.
	SeatsTotal    Optional[int]
	MeetingPoint  Optional[string]
	DepartureTime Optional[time.Time]
	// Null clears the notes.
	Notes Optional[string]

	// ExpectedVersion, when specified, must match the stored version.
	ExpectedVersion Optional[int64]
}

// WithdrawResult is the withdrawn offer and the bookings the withdrawal cancelled.
type WithdrawResult struct {
	Offer             domain.TripOffer
	CancelledBookings []domain.Booking
}
