package httpapi

import (
	"net/http"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

const routeCreateTripOffer = "POST /outings/{outingId}/trip-offers"

func (s *Server) CreateTripOffer(w http.ResponseWriter, r *http.Request) {
	driver, ok := s.caller(w, r)
	if !ok {
		return
	}
	outingID, err := pathParam(r, "outingId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var body CreateTripOfferRequest
	if err := s.decodeBody(r, &body); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.idempotent(w, r, driver, routeCreateTripOffer, []string{outingID}, body, func() (int, any, error) {
		o, err := s.Offers.CreateOffer(r.Context(), driver, domain.OutingID(outingID), body.toInput())
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, TripOfferResponse{TripOffer: tripOfferFromDomain(o)}, nil
	})
}

func (s *Server) ListTripOffersForOuting(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(w, r); !ok {
		return
	}
	outingID, err := pathParam(r, "outingId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	includeWithdrawn, err := boolQuery(r, "includeWithdrawn")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	list, err := s.Offers.ListOffersForOuting(r.Context(), domain.OutingID(outingID), includeWithdrawn)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TripOffersResponse{TripOffers: tripOffersFromDomain(list)})
}

func (s *Server) GetTripOffer(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(w, r); !ok {
		return
	}
	offerID, err := pathParam(r, "offerId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	o, err := s.Offers.GetOffer(r.Context(), domain.TripOfferID(offerID))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TripOfferResponse{TripOffer: tripOfferFromDomain(o)})
}

func (s *Server) UpdateTripOffer(w http.ResponseWriter, r *http.Request) {
	driver, ok := s.caller(w, r)
	if !ok {
		return
	}
	offerID, err := pathParam(r, "offerId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var body UpdateTripOfferRequest
	if err := s.decodeBody(r, &body); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	o, err := s.Offers.UpdateOffer(r.Context(), driver, domain.TripOfferID(offerID), body.toInput())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TripOfferResponse{TripOffer: tripOfferFromDomain(o)})
}

func (s *Server) WithdrawTripOffer(w http.ResponseWriter, r *http.Request) {
	driver, ok := s.caller(w, r)
	if !ok {
		return
	}
	offerID, err := pathParam(r, "offerId")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.Offers.WithdrawOffer(r.Context(), driver, domain.TripOfferID(offerID))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawTripOfferResponse{
		TripOffer:         tripOfferFromDomain(res.Offer),
		CancelledBookings: bookingsFromDomain(res.CancelledBookings),
	})
}
