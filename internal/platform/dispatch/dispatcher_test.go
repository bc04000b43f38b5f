package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	memnotifier "github.com/Overland-East-Bay/carpool-api/internal/adapters/memory/notifier"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/notifier"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(id string) domain.CascadeEvent {
	return domain.CascadeEvent{Type: domain.CascadeEventTripWithdrawn, BookingID: domain.BookingID(id)}
}

func TestDispatcher_DeliversAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	sink := memnotifier.NewSink()
	d := New(sink, quietLogger(), Options{Workers: 2})
	d.Emit(event("b1"), event("b2"), event("b3"))

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(sink.Events()); got != 3 {
		t.Fatalf("delivered=%d, want 3", got)
	}
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	sink := memnotifier.NewSink()
	sink.FailNext(2, errors.New("broker unavailable"))
	d := New(sink, quietLogger(), Options{Workers: 1, MaxAttempts: 3, BaseBackoff: time.Millisecond})
	d.Emit(event("b1"))

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	evs := sink.Events()
	if len(evs) != 1 || evs[0].BookingID != "b1" {
		t.Fatalf("events=%v, want b1 delivered on the third attempt", evs)
	}
}

func TestDispatcher_DropsAfterLastAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	sink := notifier.SinkFunc(func(ctx context.Context, ev domain.CascadeEvent) error {
		calls.Add(1)
		return errors.New("permanent")
	})
	d := New(sink, quietLogger(), Options{Workers: 1, MaxAttempts: 2, BaseBackoff: time.Millisecond})
	d.Emit(event("b1"), event("b2"))

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("publish calls=%d, want 4 (2 events x 2 attempts)", got)
	}
}

func TestDispatcher_EmitAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	sink := memnotifier.NewSink()
	d := New(sink, quietLogger(), Options{})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	d.Emit(event("late"))
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := len(sink.Events()); got != 0 {
		t.Fatalf("delivered=%d, want 0", got)
	}
}

func TestDispatcher_CloseGivesUpOnDeadline(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	sink := notifier.SinkFunc(func(ctx context.Context, ev domain.CascadeEvent) error {
		select {
		case <-block:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	d := New(sink, quietLogger(), Options{Workers: 1, PublishTimeout: time.Minute})
	d.Emit(event("stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close err=%v, want DeadlineExceeded", err)
	}
	close(block)
}
