package idempotency

import (
	"context"
	"time"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

// Key is the caller-provided idempotency key (Idempotency-Key header).
type Key string

// Scope identifies one idempotent operation: key + caller + route template
// (e.g. "POST /trip-offers/{offerId}/bookings").
type Scope struct {
	Key    Key
	Member domain.MemberID
	Route  string
}

// Record is the stored outcome for a scope.
//
// RequestHash fingerprints the request (path params + canonical body); a retry with the same scope but a
// different hash is a key reuse and must be rejected.
type Record struct {
	RequestHash string
	StatusCode  int
	ContentType string
	Body        []byte
	CreatedAt   time.Time
}

// Store persists idempotency records for replaying successful responses on retries.
type Store interface {
	Lookup(ctx context.Context, s Scope) (Record, bool, error)
	Save(ctx context.Context, s Scope, rec Record) error
}
