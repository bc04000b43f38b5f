package config

import (
	"fmt"
	"time"
)

// JWTConfig configures JWT verification against a JWKS endpoint.
type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string

	ClockSkew              time.Duration
	JWKSRefreshInterval    time.Duration
	JWKSMinRefreshInterval time.Duration

	HTTPTimeout time.Duration
}

// LoadJWTConfigFromEnv reads the JWT_* variables. Issuer, audience and JWKS url are required.
func LoadJWTConfigFromEnv() (JWTConfig, error) {
	return loadJWT(osEnv{})
}

func loadJWT(env osEnv) (JWTConfig, error) {
	issuer := env.get("JWT_ISSUER")
	audience := env.get("JWT_AUDIENCE")
	jwksURL := env.get("JWT_JWKS_URL")
	if issuer == "" || audience == "" || jwksURL == "" {
		return JWTConfig{}, fmt.Errorf("missing required env vars: JWT_ISSUER, JWT_AUDIENCE, JWT_JWKS_URL")
	}

	cfg := JWTConfig{
		Issuer:   issuer,
		Audience: audience,
		JWKSURL:  jwksURL,
	}
	var err error
	if cfg.ClockSkew, err = env.duration("JWT_CLOCK_SKEW", 30*time.Second); err != nil {
		return JWTConfig{}, err
	}
	// Periodic refresh picks up key rotation even if an old key is still cached.
	if cfg.JWKSRefreshInterval, err = env.duration("JWT_JWKS_REFRESH_INTERVAL", 5*time.Minute); err != nil {
		return JWTConfig{}, err
	}
	// Bounds refresh frequency when a token presents an unknown kid.
	if cfg.JWKSMinRefreshInterval, err = env.duration("JWT_JWKS_MIN_REFRESH_INTERVAL", 10*time.Second); err != nil {
		return JWTConfig{}, err
	}
	if cfg.HTTPTimeout, err = env.duration("JWT_HTTP_TIMEOUT", 5*time.Second); err != nil {
		return JWTConfig{}, err
	}
	return cfg, nil
}
