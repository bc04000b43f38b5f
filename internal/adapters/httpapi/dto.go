package httpapi

import (
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/Overland-East-Bay/carpool-api/internal/app/cascade"
	"github.com/Overland-East-Bay/carpool-api/internal/app/offers"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

type TripOffer struct {
	TripOfferID    string                    `json:"tripOfferId"`
	OutingID       string                    `json:"outingId"`
	DriverID       string                    `json:"driverId"`
	SeatsTotal     int                       `json:"seatsTotal"`
	ConfirmedCount int                       `json:"confirmedCount"`
	SeatsAvailable int                       `json:"seatsAvailable"`
	MeetingPoint   string                    `json:"meetingPoint"`
	Notes          nullable.Nullable[string] `json:"notes"`
	DepartureTime  time.Time                 `json:"departureTime"`
	Status         string                    `json:"status"`
	WithdrawReason nullable.Nullable[string] `json:"withdrawReason"`
	Version        int64                     `json:"version"`
	CreatedAt      time.Time                 `json:"createdAt"`
	UpdatedAt      time.Time                 `json:"updatedAt"`
}

type Booking struct {
	BookingID    string                       `json:"bookingId"`
	TripOfferID  string                       `json:"tripOfferId"`
	OutingID     string                       `json:"outingId"`
	PassengerID  string                       `json:"passengerId"`
	Status       string                       `json:"status"`
	CancelReason nullable.Nullable[string]    `json:"cancelReason"`
	CreatedAt    time.Time                    `json:"createdAt"`
	CancelledAt  nullable.Nullable[time.Time] `json:"cancelledAt"`
}

type TripOfferResponse struct {
	TripOffer TripOffer `json:"tripOffer"`
}

type TripOffersResponse struct {
	TripOffers []TripOffer `json:"tripOffers"`
}

type WithdrawTripOfferResponse struct {
	TripOffer         TripOffer `json:"tripOffer"`
	CancelledBookings []Booking `json:"cancelledBookings"`
}

type BookingResponse struct {
	Booking Booking `json:"booking"`
}

type BookingsResponse struct {
	Bookings []Booking `json:"bookings"`
}

type OutingCancellationResponse struct {
	OutingID          string      `json:"outingId"`
	WithdrawnOffers   []TripOffer `json:"withdrawnOffers"`
	CancelledBookings []Booking   `json:"cancelledBookings"`
}

// CreateTripOfferRequest is the POST body. Ranges are checked by the service so the error codes stay specific.
type CreateTripOfferRequest struct {
	SeatsTotal    *int       `json:"seatsTotal" validate:"required"`
	MeetingPoint  string     `json:"meetingPoint" validate:"required"`
	DepartureTime *time.Time `json:"departureTime" validate:"required"`
	Notes         *string    `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// UpdateTripOfferRequest is the PATCH body; omitted fields are left unchanged.
type UpdateTripOfferRequest struct {
	SeatsTotal      nullable.Nullable[int]       `json:"seatsTotal,omitempty"`
	MeetingPoint    nullable.Nullable[string]    `json:"meetingPoint,omitempty"`
	DepartureTime   nullable.Nullable[time.Time] `json:"departureTime,omitempty"`
	Notes           nullable.Nullable[string]    `json:"notes,omitempty"`
	ExpectedVersion nullable.Nullable[int64]     `json:"expectedVersion,omitempty"`
}

func (b CreateTripOfferRequest) toInput() offers.CreateOfferInput {
	in := offers.CreateOfferInput{
		MeetingPoint: b.MeetingPoint,
		Notes:        b.Notes,
	}
	if b.SeatsTotal != nil {
		in.SeatsTotal = *b.SeatsTotal
	}
	if b.DepartureTime != nil {
		in.DepartureTime = *b.DepartureTime
	}
	return in
}

func (b UpdateTripOfferRequest) toInput() offers.UpdateOfferInput {
	return offers.UpdateOfferInput{
		SeatsTotal:      optionalFromNullable(b.SeatsTotal),
		MeetingPoint:    optionalFromNullable(b.MeetingPoint),
		DepartureTime:   optionalFromNullable(b.DepartureTime),
		Notes:           optionalFromNullable(b.Notes),
		ExpectedVersion: optionalFromNullable(b.ExpectedVersion),
	}
}

func optionalFromNullable[T any](n nullable.Nullable[T]) offers.Optional[T] {
	if !n.IsSpecified() {
		return offers.Unspecified[T]()
	}
	if n.IsNull() {
		return offers.Null[T]()
	}
	v, err := n.Get()
	if err != nil {
		return offers.Unspecified[T]()
	}
	return offers.Some(v)
}

// nullableOf always yields a specified value so the field is encoded as either a value or null.
func nullableOf[T any](p *T) nullable.Nullable[T] {
	if p == nil {
		return nullable.NewNullNullable[T]()
	}
	return nullable.NewNullableWithValue(*p)
}

func nullableString[S ~string](p *S) nullable.Nullable[string] {
	if p == nil {
		return nullable.NewNullNullable[string]()
	}
	return nullable.NewNullableWithValue(string(*p))
}

func tripOfferFromDomain(o domain.TripOffer) TripOffer {
	return TripOffer{
		TripOfferID:    string(o.ID),
		OutingID:       string(o.OutingID),
		DriverID:       string(o.DriverID),
		SeatsTotal:     o.SeatsTotal,
		ConfirmedCount: o.ConfirmedCount,
		SeatsAvailable: o.SeatsAvailable(),
		MeetingPoint:   o.MeetingPoint,
		Notes:          nullableOf(o.Notes),
		DepartureTime:  o.DepartureTime.UTC(),
		Status:         string(o.Status),
		WithdrawReason: nullableString(o.WithdrawReason),
		Version:        o.Version,
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
	}
}

func tripOffersFromDomain(list []domain.TripOffer) []TripOffer {
	out := make([]TripOffer, 0, len(list))
	for _, o := range list {
		out = append(out, tripOfferFromDomain(o))
	}
	return out
}

func bookingFromDomain(b domain.Booking) Booking {
	var cancelledAt *time.Time
	if b.CancelledAt != nil {
		t := b.CancelledAt.UTC()
		cancelledAt = &t
	}
	return Booking{
		BookingID:    string(b.ID),
		TripOfferID:  string(b.TripOfferID),
		OutingID:     string(b.OutingID),
		PassengerID:  string(b.PassengerID),
		Status:       string(b.Status),
		CancelReason: nullableString(b.CancelReason),
		CreatedAt:    b.CreatedAt.UTC(),
		CancelledAt:  nullableOf(cancelledAt),
	}
}

func bookingsFromDomain(bs []domain.Booking) []Booking {
	out := make([]Booking, 0, len(bs))
	for _, b := range bs {
		out = append(out, bookingFromDomain(b))
	}
	return out
}

func outingCancellationFromDomain(c cascade.OutingCancellation) OutingCancellationResponse {
	return OutingCancellationResponse{
		OutingID:          string(c.OutingID),
		WithdrawnOffers:   tripOffersFromDomain(c.WithdrawnOffers),
		CancelledBookings: bookingsFromDomain(c.CancelledBookings),
	}
}
