package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Overland-East-Bay/carpool-api/internal/app/apperr"
	"github.com/Overland-East-Bay/carpool-api/internal/app/bookings"
	"github.com/Overland-East-Bay/carpool-api/internal/app/cascade"
	"github.com/Overland-East-Bay/carpool-api/internal/app/offers"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/idempotency"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/outings"
)

// Server holds the HTTP handlers for the carpool API.
type Server struct {
	Offers   *offers.Service
	Bookings *bookings.Coordinator
	Cascade  *cascade.Controller
	Outings  outings.Registry
	// Idem is optional; without it Idempotency-Key headers are ignored.
	Idem  idempotency.Store
	Clock clock.Clock

	log      *slog.Logger
	validate *validator.Validate
}

type ServerDeps struct {
	Offers   *offers.Service
	Bookings *bookings.Coordinator
	Cascade  *cascade.Controller
	Outings  outings.Registry
	Idem     idempotency.Store
	Clock    clock.Clock
	Logger   *slog.Logger
}

func NewServer(d ServerDeps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Offers:   d.Offers,
		Bookings: d.Bookings,
		Cascade:  d.Cascade,
		Outings:  d.Outings,
		Idem:     d.Idem,
		Clock:    d.Clock,
		log:      logger.With("component", "httpapi"),
		validate: newValidator(),
	}
}

// caller returns the authenticated member or writes 401.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (domain.MemberID, bool) {
	m, ok := MemberFromContext(r.Context())
	if !ok {
		s.writeAppError(w, r, apperr.ErrUnauthenticated)
		return "", false
	}
	return m, true
}
