package domain

// MemberID identifies a member. For this service it is the authenticated subject
// (JWT "sub"); its format is controlled by the IdP.
type MemberID string

// OutingID identifies the parent event in the host application's outing registry.
type OutingID string

// TripOfferID is an internal identifier for a trip offer record.
type TripOfferID string

// BookingID is an internal identifier for a booking record.
type BookingID string
