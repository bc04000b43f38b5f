package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/idempotency"
)

func TestStore_SaveThenLookup_CopiesBody(t *testing.T) {
	t.Parallel()

	s := NewStore()
	sc := idempotency.Scope{
		Key:    "k1",
		Member: "m1",
		Route:  "POST /trip-offers/{offerId}/bookings",
	}
	body := []byte(`{"ok":true}`)
	rec := idempotency.Record{
		RequestHash: "abc123",
		StatusCode:  201,
		ContentType: "application/json",
		Body:        body,
		CreatedAt:   time.Unix(123, 0).UTC(),
	}

	if err := s.Save(context.Background(), sc, rec); err != nil {
		t.Fatalf("Save() err=%v", err)
	}
	body[0] = 'X'

	got, ok, err := s.Lookup(context.Background(), sc)
	if err != nil {
		t.Fatalf("Lookup() err=%v", err)
	}
	if !ok {
		t.Fatalf("Lookup() ok=false, want true")
	}
	if got.StatusCode != 201 || got.RequestHash != "abc123" || string(got.Body) != `{"ok":true}` {
		t.Fatalf("Lookup()=%+v", got)
	}

	other := sc
	other.Member = "m2"
	if _, ok, err := s.Lookup(context.Background(), other); err != nil || ok {
		t.Fatalf("Lookup(other member) ok=%v err=%v, want miss", ok, err)
	}
}
