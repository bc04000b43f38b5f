package jwtverifier_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Overland-East-Bay/carpool-api/internal/platform/auth/jwks_testutil"
	"github.com/Overland-East-Bay/carpool-api/internal/platform/auth/jwtverifier"
	"github.com/Overland-East-Bay/carpool-api/internal/platform/config"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	srv     *httptest.Server
	setKeys func([]jwks_testutil.Keypair)
	kp      jwks_testutil.Keypair
	clk     *fakeClock
	cfg     config.JWTConfig
	v       *jwtverifier.Verifier
}

func newFixture(t *testing.T, mutate func(*config.JWTConfig)) *fixture {
	t.Helper()
	srv, setKeys := jwks_testutil.NewRotatingJWKSServer()
	t.Cleanup(srv.Close)

	kp, err := jwks_testutil.GenerateRSAKeypair("kid-1")
	if err != nil {
		t.Fatalf("GenerateRSAKeypair: %v", err)
	}
	setKeys([]jwks_testutil.Keypair{kp})

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg := config.JWTConfig{
		Issuer:              "test-iss",
		Audience:            "carpool-api",
		JWKSURL:             srv.URL,
		JWKSRefreshInterval: 10 * time.Minute,
		HTTPTimeout:         2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &fixture{
		srv:     srv,
		setKeys: setKeys,
		kp:      kp,
		clk:     clk,
		cfg:     cfg,
		v:       jwtverifier.NewWithOptions(cfg, nil, clk),
	}
}

func (f *fixture) mint(t *testing.T, kp jwks_testutil.Keypair, iss string, aud any, sub string, exp time.Duration, nbf *time.Duration) string {
	t.Helper()
	tok, err := jwks_testutil.MintRS256JWT(kp, iss, aud, sub, f.clk.Now(), exp, nbf)
	if err != nil {
		t.Fatalf("MintRS256JWT: %v", err)
	}
	return tok
}

func TestVerifier_Verify_ValidToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	sub, err := f.v.Verify(context.Background(), f.mint(t, f.kp, f.cfg.Issuer, f.cfg.Audience, "member-123", 5*time.Minute, nil))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "member-123" {
		t.Fatalf("sub mismatch: got %q", sub)
	}

	// aud may be an array.
	sub, err = f.v.Verify(context.Background(), f.mint(t, f.kp, f.cfg.Issuer, []string{"other", f.cfg.Audience}, "member-9", 5*time.Minute, nil))
	if err != nil || sub != "member-9" {
		t.Fatalf("aud array: sub=%q err=%v", sub, err)
	}
}

func TestVerifier_Verify_ExpiryAndLeeway(t *testing.T) {
	t.Parallel()

	strict := newFixture(t, nil)
	if _, err := strict.v.Verify(context.Background(), strict.mint(t, strict.kp, strict.cfg.Issuer, strict.cfg.Audience, "m", -1*time.Minute, nil)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	lenient := newFixture(t, func(c *config.JWTConfig) { c.ClockSkew = 2 * time.Minute })
	if _, err := lenient.v.Verify(context.Background(), lenient.mint(t, lenient.kp, lenient.cfg.Issuer, lenient.cfg.Audience, "m", -1*time.Minute, nil)); err != nil {
		t.Fatalf("expected token within leeway to verify: %v", err)
	}

	future := 10 * time.Minute
	if _, err := strict.v.Verify(context.Background(), strict.mint(t, strict.kp, strict.cfg.Issuer, strict.cfg.Audience, "m", time.Hour, &future)); err == nil {
		t.Fatalf("expected not-yet-valid token to be rejected")
	}
}

func TestVerifier_Verify_WrongIssuerOrAudience(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if _, err := f.v.Verify(context.Background(), f.mint(t, f.kp, "wrong-iss", f.cfg.Audience, "m", 5*time.Minute, nil)); err == nil {
		t.Fatalf("expected error for wrong iss")
	}
	if _, err := f.v.Verify(context.Background(), f.mint(t, f.kp, f.cfg.Issuer, "wrong-aud", "m", 5*time.Minute, nil)); err == nil {
		t.Fatalf("expected error for wrong aud")
	}
}

func TestVerifier_Verify_BadSignatureOrAlgorithm(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	// Signed with a different private key than the one in JWKS.
	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	forged := f.mint(t, jwks_testutil.Keypair{Kid: "kid-1", Private: other}, f.cfg.Issuer, f.cfg.Audience, "m", 5*time.Minute, nil)
	if _, err := f.v.Verify(context.Background(), forged); err == nil {
		t.Fatalf("expected error for foreign signature")
	}

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": f.cfg.Issuer,
		"aud": f.cfg.Audience,
		"sub": "m",
		"exp": f.clk.Now().Add(time.Minute).Unix(),
	})
	hs.Header["kid"] = "kid-1"
	hsToken, err := hs.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := f.v.Verify(context.Background(), hsToken); err == nil {
		t.Fatalf("expected HS256 token to be rejected")
	}

	if _, err := f.v.Verify(context.Background(), "not.a.jwt"); err == nil {
		t.Fatalf("expected garbage to be rejected")
	}
}

func TestVerifier_Verify_MissingSubjectOrKid(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if _, err := f.v.Verify(context.Background(), f.mint(t, f.kp, f.cfg.Issuer, f.cfg.Audience, "", 5*time.Minute, nil)); err == nil {
		t.Fatalf("expected error for empty sub")
	}

	noKid := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": f.cfg.Issuer,
		"aud": f.cfg.Audience,
		"sub": "m",
		"exp": f.clk.Now().Add(time.Minute).Unix(),
	})
	tok, err := noKid.SignedString(f.kp.Private)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := f.v.Verify(context.Background(), tok); err == nil {
		t.Fatalf("expected error for missing kid")
	}
}

func TestVerifier_Verify_JWKSRotation_OldKidRejected_NewKidAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *config.JWTConfig) { c.JWKSRefreshInterval = time.Second })
	k2, _ := jwks_testutil.GenerateRSAKeypair("kid-2")

	jwt1 := f.mint(t, f.kp, f.cfg.Issuer, f.cfg.Audience, "member-123", 5*time.Minute, nil)
	if _, err := f.v.Verify(context.Background(), jwt1); err != nil {
		t.Fatalf("expected jwt1 to verify: %v", err)
	}

	// Rotate: JWKS now only contains kid-2.
	f.setKeys([]jwks_testutil.Keypair{k2})
	f.clk.Advance(2 * time.Second) // force interval refresh on next Verify call.

	if _, err := f.v.Verify(context.Background(), jwt1); err == nil {
		t.Fatalf("expected jwt1 to be rejected after rotation")
	}

	sub, err := f.v.Verify(context.Background(), f.mint(t, k2, f.cfg.Issuer, f.cfg.Audience, "member-456", 5*time.Minute, nil))
	if err != nil {
		t.Fatalf("expected jwt2 to verify: %v", err)
	}
	if sub != "member-456" {
		t.Fatalf("sub mismatch: got %q", sub)
	}
}

func TestVerifier_Verify_UnknownKidRefreshIsRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *config.JWTConfig) { c.JWKSMinRefreshInterval = time.Minute })
	if _, err := f.v.Verify(context.Background(), f.mint(t, f.kp, f.cfg.Issuer, f.cfg.Audience, "m", 5*time.Minute, nil)); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	k2, _ := jwks_testutil.GenerateRSAKeypair("kid-2")
	f.setKeys([]jwks_testutil.Keypair{f.kp, k2})
	tok2 := f.mint(t, k2, f.cfg.Issuer, f.cfg.Audience, "m2", 5*time.Minute, nil)

	if _, err := f.v.Verify(context.Background(), tok2); err == nil {
		t.Fatalf("expected unknown kid to be rejected inside the min refresh interval")
	}
	f.clk.Advance(time.Minute)
	if _, err := f.v.Verify(context.Background(), tok2); err != nil {
		t.Fatalf("expected kid-2 to verify after the interval: %v", err)
	}
}
