package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Overland-East-Bay/carpool-api/internal/app/apperr"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/idempotency"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 255
)

// idempotent runs op once per (Idempotency-Key, caller, route).
//
// A retry with the same key and request replays the stored response; the same key with a different request
// is rejected with IDEMPOTENCY_KEY_REUSE. Only successful responses are recorded, so a rejected attempt
// is evaluated again on retry.
func (s *Server) idempotent(w http.ResponseWriter, r *http.Request, caller domain.MemberID, route string, pathValues []string, body any, op func() (int, any, error)) {
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" || s.Idem == nil {
		s.respond(w, r, op)
		return
	}
	if len(key) > maxIdempotencyKeyLen {
		s.writeAppError(w, r, apperr.Validation("invalid Idempotency-Key", map[string]any{headerIdempotencyKey: "too long"}))
		return
	}

	hash, err := requestHash(route, pathValues, body)
	if err != nil {
		s.writeAppError(w, r, fmt.Errorf("hash request: %w", err))
		return
	}
	scope := idempotency.Scope{Key: idempotency.Key(key), Member: caller, Route: route}

	rec, found, err := s.Idem.Lookup(r.Context(), scope)
	if err != nil {
		s.writeAppError(w, r, fmt.Errorf("idempotency lookup: %w", err))
		return
	}
	if found {
		if rec.RequestHash != hash {
			s.writeAppError(w, r, apperr.ErrIdempotencyKeyReuse)
			return
		}
		w.Header().Set("Content-Type", rec.ContentType)
		w.Header().Set(headerReplayed, "true")
		w.WriteHeader(rec.StatusCode)
		_, _ = w.Write(rec.Body)
		return
	}

	status, payload, err := op()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.writeAppError(w, r, fmt.Errorf("encode response: %w", err))
		return
	}
	raw = append(raw, '\n')
	if err := s.Idem.Save(r.Context(), scope, idempotency.Record{
		RequestHash: hash,
		StatusCode:  status,
		ContentType: "application/json",
		Body:        raw,
		CreatedAt:   s.now(),
	}); err != nil {
		// The operation already committed; a lost record only means a retry is not replayed.
		s.log.WarnContext(r.Context(), "idempotency save failed", "route", route, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, op func() (int, any, error)) {
	status, payload, err := op()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *Server) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
