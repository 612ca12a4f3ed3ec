// Package testutil provides shared fixtures for package tests: a
// miniredis-backed store client and canonical configurations.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/byteness/throttle/config"
	"github.com/byteness/throttle/logging"
	"github.com/byteness/throttle/store"
)

// NewStore starts an in-process Redis and returns a store client connected
// to it. Both are cleaned up when the test finishes. The per-operation
// deadline is generous so slow CI machines do not trip the breaker.
func NewStore(t *testing.T) (*store.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := store.New(store.Options{
		Addr:      mr.Addr(),
		OpTimeout: 500 * time.Millisecond,
	}, logging.NewNopLogger())
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// BrokenStore returns a store client pointing at a closed address with a low
// failure threshold, for exercising fail-open behavior.
func BrokenStore(t *testing.T) *store.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := store.New(store.Options{
		Addr:             addr,
		OpTimeout:        50 * time.Millisecond,
		FailureThreshold: 2,
		CoolDown:         time.Minute,
	}, logging.NewNopLogger())
	t.Cleanup(func() { client.Close() })

	return client
}

// FixedClock returns a function that always returns the given time.
// Useful for testing time-dependent logic with deterministic values.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time {
		return t
	}
}

// TestConfig returns the canonical configuration used across package tests:
// the three standard tiers plus one user and credential per tier.
func TestConfig() *config.Config {
	return &config.Config{
		Tiers: map[string]config.TierConfig{
			"free":       {BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1},
			"pro":        {BaseLimit: 100, BurstLimit: 150, DegradedLimit: 100, WindowMinutes: 1},
			"enterprise": {BaseLimit: 1000, BurstLimit: 1000, DegradedLimit: 1000, WindowMinutes: 1},
		},
		Users: map[string]string{
			"alice": "free",
			"bob":   "pro",
			"carol": "enterprise",
		},
		APIKeys: map[string]string{
			"key-free-alice-001": "alice",
			"key-pro-bob-002":    "bob",
			"key-ent-carol-003":  "carol",
		},
		Store: config.StoreConfig{
			Host:           "localhost",
			Port:           6379,
			Timeout:        0.5,
			MaxConnections: 10,
		},
		Server: config.ServerConfig{
			Listen:       ":8080",
			HeaderName:   "X-API-Key",
			ExcludePaths: []string{"/health", "/docs"},
		},
		Abuse: config.AbuseConfig{
			MaxAttempts:          10,
			AttemptWindowSeconds: 300,
			BlockSeconds:         900,
		},
	}
}

// WriteConfigFile marshals cfg to a temporary YAML file and returns its path.
func WriteConfigFile(t *testing.T, cfg *config.Config) string {
	t.Helper()

	data, err := config.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "throttle.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
