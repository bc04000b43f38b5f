// Package apperr defines the application-layer error returned by the carpool services.
//
// Every rejection carries a stable Code that the HTTP adapter surfaces unchanged. The exported
// prototypes are shared values; use errors.Is to compare and WithDetails to attach context.
package apperr

import "errors"

type Kind int

const (
	KindInternal Kind = iota
	// KindValidation: bad input, rejected before touching shared state.
	KindValidation
	KindNotFound
	// KindAuthorization: caller is authenticated but may not act on the resource.
	KindAuthorization
	// KindConflict: the request lost a race or would violate an invariant.
	KindConflict
	// KindState: the entity no longer supports the requested transition.
	KindState
	KindUnauthenticated
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindState:
		return "state"
	case KindUnauthenticated:
		return "unauthenticated"
	default:
		return "internal"
	}
}

// Error is an application-layer error that can be mapped to an HTTP response.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithMessage returns a copy of e with a different message.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation builds a VALIDATION_ERROR with per-field details.
func Validation(message string, details map[string]any) *Error {
	return ErrValidation.WithMessage(message).WithDetails(details)
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

var (
	ErrValidation        = New(KindValidation, "VALIDATION_ERROR", "invalid request")
	ErrInvalidSeatsTotal = New(KindValidation, "INVALID_SEATS_TOTAL", "seatsTotal must be between 1 and 8")

	ErrTripOfferNotFound = New(KindNotFound, "TRIP_OFFER_NOT_FOUND", "trip offer not found")
	ErrBookingNotFound   = New(KindNotFound, "BOOKING_NOT_FOUND", "booking not found")
	ErrOutingNotFound    = New(KindNotFound, "OUTING_NOT_FOUND", "outing not found")

	ErrNotOwner = New(KindAuthorization, "NOT_OWNER", "only the owner may perform this action")

	ErrTripFull                  = New(KindConflict, "TRIP_FULL", "no seats left on this trip")
	ErrAlreadyBooked             = New(KindConflict, "ALREADY_BOOKED", "you already hold a seat for this outing")
	ErrDuplicateOffer            = New(KindConflict, "DUPLICATE_OFFER", "you already offer an active trip for this outing")
	ErrCapacityBelowBooked       = New(KindConflict, "CAPACITY_BELOW_BOOKED", "seatsTotal cannot be reduced below the confirmed bookings")
	ErrOfferConcurrentlyModified = New(KindConflict, "OFFER_CONCURRENTLY_MODIFIED", "trip offer was modified concurrently; retry")
	ErrIdempotencyKeyReuse       = New(KindConflict, "IDEMPOTENCY_KEY_REUSE", "idempotency key was used with a different request")

	ErrOfferNotActive     = New(KindState, "OFFER_NOT_ACTIVE", "trip offer is no longer active")
	ErrOutingStarted      = New(KindState, "OUTING_STARTED", "outing has already started")
	ErrOutingCancelled    = New(KindState, "OUTING_CANCELLED", "outing is cancelled")
	ErrOutingNotCancelled = New(KindState, "OUTING_NOT_CANCELLED", "outing is not cancelled")
	ErrSelfBooking        = New(KindState, "SELF_BOOKING", "drivers cannot book a seat on their own trip")
	ErrAlreadyCancelled   = New(KindState, "ALREADY_CANCELLED", "booking is already cancelled")

	ErrUnauthenticated = New(KindUnauthenticated, "UNAUTHORIZED", "missing or invalid bearer token")
)
