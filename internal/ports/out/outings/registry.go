package outings

import (
	"context"
	"errors"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

// ErrNotFound indicates the registry does not know the outing.
var ErrNotFound = errors.New("outing not found")

// Registry is the host application's view of outings. This service only reads it.
type Registry interface {
	IsStarted(ctx context.Context, id domain.OutingID) (bool, error)
	IsCancelled(ctx context.Context, id domain.OutingID) (bool, error)
}

// CancellationListener receives outing cancellations pushed by a registry.
type CancellationListener interface {
	OnOutingCancelled(ctx context.Context, id domain.OutingID) error
}

// CancellationListenerFunc adapts a function to CancellationListener.
type CancellationListenerFunc func(ctx context.Context, id domain.OutingID) error

func (f CancellationListenerFunc) OnOutingCancelled(ctx context.Context, id domain.OutingID) error {
	return f(ctx, id)
}
