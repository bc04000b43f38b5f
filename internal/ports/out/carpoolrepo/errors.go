package carpoolrepo

import "errors"

var (
	ErrOfferNotFound   = errors.New("trip offer not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrAlreadyExists   = errors.New("record already exists")

	// ErrDuplicateActiveOffer indicates the driver already has an ACTIVE offer for the outing.
	ErrDuplicateActiveOffer = errors.New("driver already has an active offer for this outing")
	ErrOfferNotActive       = errors.New("trip offer is not active")
	ErrVersionConflict      = errors.New("trip offer was modified concurrently")
	ErrCapacityBelowBooked  = errors.New("seats total below confirmed bookings")

	ErrSelfBooking   = errors.New("driver cannot book own trip offer")
	ErrAlreadyBooked = errors.New("passenger already holds a confirmed booking for this outing")
	ErrTripFull      = errors.New("trip offer has no free seats")

	ErrNotOwner         = errors.New("requester does not own the record")
	ErrAlreadyCancelled = errors.New("booking already cancelled")
)
