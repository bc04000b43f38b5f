package idempotency

import (
	"context"
	"sync"

	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/idempotency"
)

// Store is an in-memory implementation of idempotency.Store.
// It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	m  map[idempotency.Scope]idempotency.Record
}

func NewStore() *Store {
	return &Store{
		m: make(map[idempotency.Scope]idempotency.Record),
	}
}

func (s *Store) Lookup(ctx context.Context, sc idempotency.Scope) (idempotency.Record, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.m[sc]
	if !ok {
		return idempotency.Record{}, false, nil
	}
	rec.Body = append([]byte(nil), rec.Body...)
	return rec, true, nil
}

func (s *Store) Save(ctx context.Context, sc idempotency.Scope, rec idempotency.Record) error {
	_ = ctx
	rec.Body = append([]byte(nil), rec.Body...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sc] = rec
	return nil
}
