package httpapi

import (
	"net/http"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

const routeBookSeat = "POST /trip-offers/{offerId}/bookings"

func (s *Server) BookSeat(w http.ResponseWriter, r *http.Request) {
	passenger, ok := s.caller(w, r)
	if !ok {
		return
	}
	offerID, err := pathParam(r, "offerId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.idempotent(w, r, passenger, routeBookSeat, []string{offerID}, nil, func() (int, any, error) {
		b, err := s.Bookings.BookSeat(r.Context(), passenger, domain.TripOfferID(offerID))
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, BookingResponse{Booking: bookingFromDomain(b)}, nil
	})
}

func (s *Server) ListBookingsForOffer(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(w, r); !ok {
		return
	}
	offerID, err := pathParam(r, "offerId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	bs, err := s.Bookings.ListBookings(r.Context(), domain.TripOfferID(offerID))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingsResponse{Bookings: bookingsFromDomain(bs)})
}

func (s *Server) CancelBooking(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.caller(w, r)
	if !ok {
		return
	}
	bookingID, err := pathParam(r, "bookingId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	b, err := s.Bookings.CancelBooking(r.Context(), requester, domain.BookingID(bookingID))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingResponse{Booking: bookingFromDomain(b)})
}

func (s *Server) GetMyBookingForOuting(w http.ResponseWriter, r *http.Request) {
	passenger, ok := s.caller(w, r)
	if !ok {
		return
	}
	outingID, err := pathParam(r, "outingId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	b, err := s.Bookings.MyBookingForOuting(r.Context(), passenger, domain.OutingID(outingID))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingResponse{Booking: bookingFromDomain(b)})
}
