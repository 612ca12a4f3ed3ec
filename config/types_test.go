package config

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/byteness/throttle/errors"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Tiers = map[string]TierConfig{
		"free": {BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1},
		"pro":  {BaseLimit: 100, BurstLimit: 150, DegradedLimit: 100, WindowMinutes: 1},
	}
	cfg.Users = map[string]string{"alice": "free", "bob": "pro"}
	cfg.APIKeys = map[string]string{
		"key-free-alice-001": "alice",
		"key-pro-bob-002":    "bob",
	}
	return cfg
}

func TestValidateAcceptsCanonicalConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantMsg string
	}{
		{
			name:    "no tiers",
			mutate:  func(cfg *Config) { cfg.Tiers = map[string]TierConfig{} },
			wantMsg: "at least one tier",
		},
		{
			name: "negative base limit",
			mutate: func(cfg *Config) {
				cfg.Tiers["free"] = TierConfig{BaseLimit: -1, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1}
			},
			wantMsg: "invalid tier",
		},
		{
			name: "degraded above base",
			mutate: func(cfg *Config) {
				cfg.Tiers["free"] = TierConfig{BaseLimit: 10, BurstLimit: 20, DegradedLimit: 11, WindowMinutes: 1}
			},
			wantMsg: "invalid tier",
		},
		{
			name: "base above burst",
			mutate: func(cfg *Config) {
				cfg.Tiers["free"] = TierConfig{BaseLimit: 30, BurstLimit: 20, DegradedLimit: 2, WindowMinutes: 1}
			},
			wantMsg: "invalid tier",
		},
		{
			name: "zero window",
			mutate: func(cfg *Config) {
				cfg.Tiers["free"] = TierConfig{BaseLimit: 10, BurstLimit: 20, DegradedLimit: 2}
			},
			wantMsg: "invalid tier",
		},
		{
			name:    "user with unknown tier",
			mutate:  func(cfg *Config) { cfg.Users["mallory"] = "platinum" },
			wantMsg: "unknown tier",
		},
		{
			name:    "key with unknown user",
			mutate:  func(cfg *Config) { cfg.APIKeys["key-orphan-000-wide"] = "nobody" },
			wantMsg: "unknown user",
		},
		{
			name:    "key too short",
			mutate:  func(cfg *Config) { cfg.APIKeys["short"] = "alice" },
			wantMsg: "invalid format",
		},
		{
			name:    "key with whitespace",
			mutate:  func(cfg *Config) { cfg.APIKeys["key with spaces 01"] = "alice" },
			wantMsg: "invalid format",
		},
		{
			name:    "store port out of range",
			mutate:  func(cfg *Config) { cfg.Store.Port = 70000 },
			wantMsg: "port",
		},
		{
			name:    "abuse threshold zero",
			mutate:  func(cfg *Config) { cfg.Abuse.MaxAttempts = 0 },
			wantMsg: "max_attempts",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.IsConfigInvalid(err) {
				t.Errorf("expected CONFIG_INVALID kind, got %v", errors.KindOf(err))
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestValidateNeverLeaksFullCredential(t *testing.T) {
	cfg := validConfig()
	secret := "key-super-secret-credential-material"
	cfg.APIKeys[secret] = "nobody"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if strings.Contains(err.Error(), secret) {
		t.Errorf("validation error leaks the full credential: %q", err.Error())
	}
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	want := Default()
	if diff := cmp.Diff(want.Store, cfg.Store); diff != "" {
		t.Errorf("store defaults mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Server, cfg.Server); diff != "" {
		t.Errorf("server defaults mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Abuse, cfg.Abuse); diff != "" {
		t.Errorf("abuse defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Host = "redis.internal"
	cfg.Store.Port = 6380
	cfg.applyDefaults()

	if cfg.Store.Host != "redis.internal" || cfg.Store.Port != 6380 {
		t.Errorf("explicit store address overwritten: %s", cfg.Store.Addr())
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := validConfig()
	dup := cfg.Clone()

	dup.Tiers["free"] = TierConfig{BaseLimit: 1, BurstLimit: 1, DegradedLimit: 1, WindowMinutes: 1}
	dup.Users["alice"] = "pro"
	dup.APIKeys["key-free-alice-001"] = "bob"
	dup.Server.ExcludePaths = append(dup.Server.ExcludePaths, "/metrics")

	if cfg.Tiers["free"].BaseLimit != 10 {
		t.Error("clone shares the tiers map")
	}
	if cfg.Users["alice"] != "free" {
		t.Error("clone shares the users map")
	}
	if cfg.APIKeys["key-free-alice-001"] != "alice" {
		t.Error("clone shares the api keys map")
	}
	if len(cfg.Server.ExcludePaths) == len(dup.Server.ExcludePaths) {
		t.Error("clone shares the exclude paths slice")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := validConfig()
	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "base_limit") {
		t.Errorf("marshal output missing tier fields:\n%s", data)
	}
}

func TestTierWindow(t *testing.T) {
	tier := TierConfig{BaseLimit: 1, BurstLimit: 1, DegradedLimit: 1, WindowMinutes: 2}
	if got := tier.WindowSeconds(); got != 120 {
		t.Errorf("WindowSeconds() = %d, want 120", got)
	}
}
