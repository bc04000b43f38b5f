package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	// AuthMiddleware authenticates every route except /healthz. Required.
	AuthMiddleware func(http.Handler) http.Handler
	Logger         *slog.Logger
	// CORSAllowedOrigins enables CORS for browser clients when non-empty.
	CORSAllowedOrigins []string
}

// NewRouter wires middleware and routes onto s.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if len(opts.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", headerIdempotencyKey, "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id", headerReplayed},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Unauthenticated infra check.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		if opts.AuthMiddleware != nil {
			r.Use(opts.AuthMiddleware)
		}

		r.Route("/outings/{outingId}", func(r chi.Router) {
			r.Post("/trip-offers", s.CreateTripOffer)
			r.Get("/trip-offers", s.ListTripOffersForOuting)
			r.Get("/my-booking", s.GetMyBookingForOuting)
			r.Post("/cancellation", s.ReportOutingCancelled)
		})
		r.Route("/trip-offers/{offerId}", func(r chi.Router) {
			r.Get("/", s.GetTripOffer)
			r.Patch("/", s.UpdateTripOffer)
			r.Delete("/", s.WithdrawTripOffer)
			r.Post("/bookings", s.BookSeat)
			r.Get("/bookings", s.ListBookingsForOffer)
		})
		r.Post("/bookings/{bookingId}/cancel", s.CancelBooking)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	return r
}
