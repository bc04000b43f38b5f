package outings

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/outings"
)

// Registry reads the outings table maintained by the host application.
type Registry struct {
	pool *pgxpool.Pool
	clk  clock.Clock
}

func NewRegistry(pool *pgxpool.Pool, clk clock.Clock) *Registry {
	return &Registry{pool: pool, clk: clk}
}

func (r *Registry) IsStarted(ctx context.Context, id domain.OutingID) (bool, error) {
	startsAt, _, err := r.load(ctx, id)
	if err != nil {
		return false, err
	}
	return !r.clk.Now().Before(startsAt), nil
}

func (r *Registry) IsCancelled(ctx context.Context, id domain.OutingID) (bool, error) {
	_, cancelledAt, err := r.load(ctx, id)
	if err != nil {
		return false, err
	}
	return cancelledAt != nil, nil
}

func (r *Registry) load(ctx context.Context, id domain.OutingID) (time.Time, *time.Time, error) {
	if r.pool == nil {
		return time.Time{}, nil, errors.New("nil postgres pool")
	}
	var (
		startsAt    time.Time
		cancelledAt *time.Time
	)
	err := r.pool.QueryRow(ctx, `SELECT starts_at, cancelled_at FROM outings WHERE id = $1`, string(id)).
		Scan(&startsAt, &cancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil, outings.ErrNotFound
		}
		return time.Time{}, nil, err
	}
	return startsAt.UTC(), cancelledAt, nil
}
