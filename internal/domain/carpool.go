package domain

import "time"

const (
	MinSeatsTotal = 1
	MaxSeatsTotal = 8
)

type TripOfferStatus string

const (
	TripOfferStatusActive    TripOfferStatus = "ACTIVE"
	TripOfferStatusWithdrawn TripOfferStatus = "WITHDRAWN"
)

// WithdrawReason records why an offer left ACTIVE.
type WithdrawReason string

const (
	WithdrawReasonDriver          WithdrawReason = "DRIVER"
	WithdrawReasonOutingCancelled WithdrawReason = "OUTING_CANCELLED"
)

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

type CancelReason string

const (
	CancelReasonPassenger       CancelReason = "PASSENGER"
	CancelReasonTripWithdrawn   CancelReason = "TRIP_WITHDRAWN"
	CancelReasonOutingCancelled CancelReason = "OUTING_CANCELLED"
)

// CancelReasonFor maps an offer withdrawal reason to the reason recorded on the bookings it cancels.
func CancelReasonFor(r WithdrawReason) CancelReason {
	if r == WithdrawReasonOutingCancelled {
		return CancelReasonOutingCancelled
	}
	return CancelReasonTripWithdrawn
}

// TripOffer is a driver's published trip for one outing.
type TripOffer struct {
	ID       TripOfferID
	OutingID OutingID
	DriverID MemberID

	SeatsTotal     int
	ConfirmedCount int

	MeetingPoint  string
	Notes         *string
	DepartureTime time.Time

	Status         TripOfferStatus
	WithdrawReason *WithdrawReason

	Version int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	WithdrawnAt *time.Time
}

func (o TripOffer) IsActive() bool { return o.Status == TripOfferStatusActive }

// SeatsAvailable is informational only; it must never drive a booking decision.
func (o TripOffer) SeatsAvailable() int {
	if n := o.SeatsTotal - o.ConfirmedCount; n > 0 {
		return n
	}
	return 0
}

// Booking is a passenger's reservation of one seat on a trip offer.
type Booking struct {
	ID          BookingID
	TripOfferID TripOfferID
	OutingID    OutingID
	PassengerID MemberID

	Status       BookingStatus
	CancelReason *CancelReason

	CreatedAt   time.Time
	CancelledAt *time.Time
}

func (b Booking) IsConfirmed() bool { return b.Status == BookingStatusConfirmed }

// CapacitySnapshot is a point-in-time read of an offer's seat usage.
type CapacitySnapshot struct {
	SeatsTotal     int
	ConfirmedCount int
}

type CascadeEventType string

const (
	CascadeEventTripWithdrawn   CascadeEventType = "TRIP_WITHDRAWN"
	CascadeEventOutingCancelled CascadeEventType = "OUTING_CANCELLED"
)

// CascadeEvent tells the notification collaborator that a passenger lost their seat.
type CascadeEvent struct {
	Type        CascadeEventType `json:"eventType"`
	PassengerID MemberID         `json:"passengerId"`
	TripOfferID TripOfferID      `json:"tripOfferId"`
	OutingID    OutingID         `json:"outingId"`
	BookingID   BookingID        `json:"bookingId"`
	OccurredAt  time.Time        `json:"occurredAt"`
}

// CascadeEventTypeFor maps a withdrawal reason to the event type emitted for affected passengers.
func CascadeEventTypeFor(r WithdrawReason) CascadeEventType {
	if r == WithdrawReasonOutingCancelled {
		return CascadeEventOutingCancelled
	}
	return CascadeEventTripWithdrawn
}
