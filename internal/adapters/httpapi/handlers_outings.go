package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Overland-East-Bay/carpool-api/internal/app/apperr"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/outings"
)

// ReportOutingCancelled lets the host application trigger the cascade after cancelling an outing.
// The registry stays the source of truth: the cascade only runs if it already reports the outing cancelled.
func (s *Server) ReportOutingCancelled(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(w, r); !ok {
		return
	}
	raw, err := pathParam(r, "outingId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	outingID := domain.OutingID(raw)

	cancelled, err := s.Outings.IsCancelled(r.Context(), outingID)
	if err != nil {
		if errors.Is(err, outings.ErrNotFound) {
			s.writeAppError(w, r, apperr.ErrOutingNotFound)
			return
		}
		s.writeAppError(w, r, fmt.Errorf("outing registry: %w", err))
		return
	}
	if !cancelled {
		s.writeAppError(w, r, apperr.ErrOutingNotCancelled)
		return
	}

	res, err := s.Cascade.OnOutingCancelled(r.Context(), outingID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outingCancellationFromDomain(res))
}
