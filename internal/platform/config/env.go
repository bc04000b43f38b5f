package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// osEnv reads trimmed process environment values with typed defaults.
type osEnv struct{}

func (osEnv) get(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func (e osEnv) duration(key string, def time.Duration) (time.Duration, error) {
	v := e.get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 30s): %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

func (e osEnv) integer(key string, def int) (int, error) {
	v := e.get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return n, nil
}

func (e osEnv) boolean(key string, def bool) (bool, error) {
	v := e.get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func (e osEnv) oneOf(key, def string, allowed ...string) (string, error) {
	v := strings.ToLower(e.get(key))
	if v == "" {
		return def, nil
	}
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s must be one of %s (got %q)", key, strings.Join(allowed, ", "), v)
}
