package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Overland-East-Bay/carpool-api/internal/platform/auth/jwks_testutil"
	"github.com/Overland-East-Bay/carpool-api/internal/platform/auth/jwtverifier"
	"github.com/Overland-East-Bay/carpool-api/internal/platform/config"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestAuthAPI(t *testing.T) (*testAPI, func(sub string) string) {
	t.Helper()

	jwksSrv, setKeys := jwks_testutil.NewRotatingJWKSServer()
	t.Cleanup(jwksSrv.Close)

	kp, err := jwks_testutil.GenerateRSAKeypair("kid-1")
	if err != nil {
		t.Fatalf("GenerateRSAKeypair: %v", err)
	}
	setKeys([]jwks_testutil.Keypair{kp})

	cfg := config.JWTConfig{
		Issuer:              "test-iss",
		Audience:            "carpool-api",
		JWKSURL:             jwksSrv.URL,
		JWKSRefreshInterval: 10 * time.Minute,
		HTTPTimeout:         2 * time.Second,
	}
	now := time.Unix(1700000000, 0)
	v := jwtverifier.NewWithOptions(cfg, nil, fixedClock{t: now})

	mint := func(sub string) string {
		tok, err := jwks_testutil.MintRS256JWT(kp, cfg.Issuer, cfg.Audience, sub, now, 5*time.Minute, nil)
		if err != nil {
			t.Fatalf("MintRS256JWT: %v", err)
		}
		return tok
	}
	return newTestAPIWithAuth(t, NewAuthMiddleware(v)), mint
}

func TestAuthMiddleware_MissingHeader_401(t *testing.T) {
	t.Parallel()

	a, _ := newTestAuthAPI(t)
	er := expectError(t, a.do(t, http.MethodGet, "/outings/outing-1/trip-offers", "", ""), http.StatusUnauthorized, "UNAUTHORIZED")
	if rid, err := er.Error.RequestID.Get(); err != nil || rid == "" {
		t.Fatalf("expected requestId to be a non-empty string")
	}
}

func TestAuthMiddleware_MalformedOrInvalid_401(t *testing.T) {
	t.Parallel()

	a, _ := newTestAuthAPI(t)
	for _, authz := range []string{"Basic abc", "Bearer ", "Bearer not-a-jwt"} {
		rec := a.do(t, http.MethodGet, "/outings/outing-1/trip-offers", "", "", "Authorization", authz)
		expectError(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")
	}

	// X-Debug-Subject is ignored when JWT auth is in force.
	expectError(t, a.do(t, http.MethodGet, "/outings/outing-1/trip-offers", "member-1", ""), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestAuthMiddleware_ValidToken_SubjectBecomesCaller(t *testing.T) {
	t.Parallel()

	a, mint := newTestAuthAPI(t)
	rec := a.do(t, http.MethodPost, "/outings/outing-1/trip-offers", "", a.offerBody(2), "Authorization", "Bearer "+mint("driver-42"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp TripOfferResponse
	decode(t, rec, &resp)
	if resp.TripOffer.DriverID != "driver-42" {
		t.Fatalf("driverId=%q, want JWT subject", resp.TripOffer.DriverID)
	}

	rec = a.do(t, http.MethodDelete, "/trip-offers/"+resp.TripOffer.TripOfferID, "", "", "Authorization", "Bearer "+mint("someone-else"))
	expectError(t, rec, http.StatusForbidden, "NOT_OWNER")
}

func TestDevAuthMiddleware_DefaultSubject(t *testing.T) {
	t.Parallel()

	var seen string
	h := NewDevAuthMiddleware("dev-member")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, _ := MemberFromContext(r.Context())
		seen = string(m)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent || seen != "dev-member" {
		t.Fatalf("status=%d seen=%q", rec.Code, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Debug-Subject", "override")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "override" {
		t.Fatalf("seen=%q, want override", seen)
	}
}
