// Package dispatch hands cascade events to a notifier.Sink off the request path.
//
// Delivery is best effort: a full queue or an event that still fails after the last attempt is logged
// and dropped. Booking state never depends on it.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/notifier"
)

type Options struct {
	QueueSize      int
	Workers        int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	PublishTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
	return o
}

type Dispatcher struct {
	sink notifier.Sink
	log  *slog.Logger
	opts Options

	mu     sync.RWMutex
	closed bool
	queue  chan domain.CascadeEvent

	// stop aborts in-flight retries once Close gives up waiting.
	stopCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New starts opts.Workers goroutines draining the queue into sink.
func New(sink notifier.Sink, logger *slog.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	stopCtx, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		sink:    sink,
		log:     logger.With("component", "dispatch"),
		opts:    opts,
		queue:   make(chan domain.CascadeEvent, opts.QueueSize),
		stopCtx: stopCtx,
		stop:    stop,
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Emit enqueues events without blocking.
func (d *Dispatcher) Emit(events ...domain.CascadeEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, ev := range events {
		if d.closed {
			d.log.Warn("dropping cascade event after shutdown", eventAttrs(ev)...)
			continue
		}
		select {
		case d.queue <- ev:
		default:
			d.log.Warn("dispatch queue full; dropping cascade event", eventAttrs(ev)...)
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev domain.CascadeEvent) {
	backoff := d.opts.BaseBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(d.stopCtx, d.opts.PublishTimeout)
		err := d.sink.Publish(ctx, ev)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.opts.MaxAttempts || d.stopCtx.Err() != nil {
			d.log.Error("cascade event dropped", append(eventAttrs(ev), "attempts", attempt, "err", err)...)
			return
		}
		d.log.Warn("cascade event publish failed; retrying", append(eventAttrs(ev), "attempt", attempt, "err", err)...)

		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-d.stopCtx.Done():
			t.Stop()
		}
		backoff *= 2
		if backoff > d.opts.MaxBackoff {
			backoff = d.opts.MaxBackoff
		}
	}
}

func eventAttrs(ev domain.CascadeEvent) []any {
	return []any{
		"eventType", string(ev.Type),
		"bookingId", string(ev.BookingID),
		"tripOfferId", string(ev.TripOfferID),
		"outingId", string(ev.OutingID),
	}
}
