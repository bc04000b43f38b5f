package notifier

import (
	"context"
	"sync"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

// Sink records published events in memory. It is safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	events []domain.CascadeEvent
	failN  int
	err    error
}

func NewSink() *Sink { return &Sink{} }

// FailNext makes the next n Publish calls return err.
func (s *Sink) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failN = n
	s.err = err
}

func (s *Sink) Publish(ctx context.Context, ev domain.CascadeEvent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (s *Sink) Events() []domain.CascadeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CascadeEvent(nil), s.events...)
}
