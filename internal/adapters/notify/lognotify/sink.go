// Package lognotify writes cascade events to the structured log. It is the default sink when no broker is configured.
package lognotify

import (
	"context"
	"log/slog"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

type Sink struct {
	log *slog.Logger
}

func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{log: logger.With("component", "notify")}
}

func (s *Sink) Publish(ctx context.Context, ev domain.CascadeEvent) error {
	s.log.InfoContext(ctx, "cascade event",
		"eventType", string(ev.Type),
		"passengerId", string(ev.PassengerID),
		"bookingId", string(ev.BookingID),
		"tripOfferId", string(ev.TripOfferID),
		"outingId", string(ev.OutingID),
		"occurredAt", ev.OccurredAt,
	)
	return nil
}
