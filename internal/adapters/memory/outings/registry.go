package outings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/outings"
)

// Outing is the registry's record of one outing.
type Outing struct {
	ID        domain.OutingID
	StartsAt  time.Time
	Cancelled bool
}

// Registry is an in-memory outings.Registry. It is safe for concurrent use.
//
// In permissive mode unknown outings are reported as upcoming and not cancelled; this is meant for local
// runs where no host application feeds the registry.
type Registry struct {
	clk        clock.Clock
	permissive bool

	mu       sync.RWMutex
	byID     map[domain.OutingID]Outing
	listener outings.CancellationListener
}

func NewRegistry(clk clock.Clock, permissive bool) *Registry {
	return &Registry{
		clk:        clk,
		permissive: permissive,
		byID:       make(map[domain.OutingID]Outing),
	}
}

// SetCancellationListener registers the receiver of Cancel notifications.
func (r *Registry) SetCancellationListener(l outings.CancellationListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

// Upsert records or replaces an outing.
func (r *Registry) Upsert(o Outing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[o.ID] = o
}

// Cancel marks the outing cancelled and forwards the event to the listener.
// The listener's error is returned so callers can retry the cascade.
func (r *Registry) Cancel(ctx context.Context, id domain.OutingID) error {
	r.mu.Lock()
	o, ok := r.byID[id]
	if !ok {
		if !r.permissive {
			r.mu.Unlock()
			return outings.ErrNotFound
		}
		o = Outing{ID: id, StartsAt: r.clk.Now().Add(24 * time.Hour)}
	}
	o.Cancelled = true
	r.byID[id] = o
	l := r.listener
	r.mu.Unlock()

	if l == nil {
		return nil
	}
	if err := l.OnOutingCancelled(ctx, id); err != nil {
		return fmt.Errorf("outing cancellation cascade: %w", err)
	}
	return nil
}

func (r *Registry) IsStarted(ctx context.Context, id domain.OutingID) (bool, error) {
	_ = ctx
	o, ok := r.get(id)
	if !ok {
		if r.permissive {
			return false, nil
		}
		return false, outings.ErrNotFound
	}
	return !r.clk.Now().Before(o.StartsAt), nil
}

func (r *Registry) IsCancelled(ctx context.Context, id domain.OutingID) (bool, error) {
	_ = ctx
	o, ok := r.get(id)
	if !ok {
		if r.permissive {
			return false, nil
		}
		return false, outings.ErrNotFound
	}
	return o.Cancelled, nil
}

func (r *Registry) get(id domain.OutingID) (Outing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	return o, ok
}
