package notifier

import (
	"context"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

// Sink delivers cascade events to the downstream notification pipeline (email/SMS dispatch lives elsewhere).
type Sink interface {
	Publish(ctx context.Context, ev domain.CascadeEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev domain.CascadeEvent) error

func (f SinkFunc) Publish(ctx context.Context, ev domain.CascadeEvent) error { return f(ctx, ev) }
