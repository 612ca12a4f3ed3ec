// Package config loads, validates, and publishes the throttle configuration.
// A loaded configuration is exposed as an immutable Snapshot replaced
// atomically on reload: readers observe either the prior or the new
// snapshot, never a blend.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/byteness/throttle/errors"
	"github.com/byteness/throttle/identity"
)

// TierConfig defines the quota class for a named tier.
// Invariant: 0 <= DegradedLimit <= BaseLimit <= BurstLimit.
type TierConfig struct {
	// BaseLimit is the steady-state requests-per-window quota.
	BaseLimit int `yaml:"base_limit"`

	// BurstLimit is the ceiling enforced while system health is NORMAL.
	BurstLimit int `yaml:"burst_limit"`

	// DegradedLimit is the reduced ceiling applied under DEGRADED health
	// to the sheddable (free) tier.
	DegradedLimit int `yaml:"degraded_limit"`

	// WindowMinutes is the sliding window length. Normalized to seconds
	// internally; see WindowSeconds.
	WindowMinutes int `yaml:"window_minutes"`
}

// Window returns the sliding window as a duration.
func (t TierConfig) Window() time.Duration {
	return time.Duration(t.WindowMinutes) * time.Minute
}

// WindowSeconds returns the sliding window length in seconds.
func (t TierConfig) WindowSeconds() int {
	return t.WindowMinutes * 60
}

func (t TierConfig) validate(name string) error {
	if t.BaseLimit < 0 || t.BurstLimit < 0 || t.DegradedLimit < 0 {
		return fmt.Errorf("tier %q: limits must be non-negative", name)
	}
	if t.DegradedLimit > t.BaseLimit {
		return fmt.Errorf("tier %q: degraded_limit %d exceeds base_limit %d", name, t.DegradedLimit, t.BaseLimit)
	}
	if t.BaseLimit > t.BurstLimit {
		return fmt.Errorf("tier %q: base_limit %d exceeds burst_limit %d", name, t.BaseLimit, t.BurstLimit)
	}
	if t.WindowMinutes <= 0 {
		return fmt.Errorf("tier %q: window_minutes must be positive, got %d", name, t.WindowMinutes)
	}
	return nil
}

// StoreConfig holds shared-store connection parameters.
type StoreConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password,omitempty"`

	// Timeout is the per-operation deadline in seconds (fractional).
	Timeout float64 `yaml:"timeout"`

	// MaxConnections bounds the connection pool.
	MaxConnections int `yaml:"max_connections"`
}

// Addr returns the host:port address of the store.
func (s StoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TimeoutDuration returns the per-operation deadline as a duration.
func (s StoreConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout * float64(time.Second))
}

func (s StoreConfig) validate() error {
	if s.Host == "" {
		return fmt.Errorf("store: host must not be empty")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("store: port %d out of range", s.Port)
	}
	if s.DB < 0 {
		return fmt.Errorf("store: db must be non-negative, got %d", s.DB)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("store: timeout must be positive, got %v", s.Timeout)
	}
	if s.MaxConnections <= 0 {
		return fmt.Errorf("store: max_connections must be positive, got %d", s.MaxConnections)
	}
	return nil
}

// ServerConfig holds the HTTP surface parameters.
type ServerConfig struct {
	// Listen is the address the server binds to.
	Listen string `yaml:"listen"`

	// HeaderName is the request header carrying the credential.
	HeaderName string `yaml:"header_name"`

	// ExcludePaths pass through the middleware without a decision.
	ExcludePaths []string `yaml:"exclude_paths"`

	// AdminKey guards the /admin routes. Usually supplied via ADMIN_KEY
	// rather than the file; a generated key is logged when both are empty.
	AdminKey string `yaml:"admin_key,omitempty"`
}

// AbuseConfig holds the abuse-suppression thresholds.
type AbuseConfig struct {
	// MaxAttempts is the invalid-credential count that triggers a block.
	MaxAttempts int `yaml:"max_attempts"`

	// AttemptWindowSeconds is the rolling window for counting attempts.
	AttemptWindowSeconds int `yaml:"attempt_window_seconds"`

	// BlockSeconds is how long a blocked address stays blocked.
	BlockSeconds int `yaml:"block_seconds"`
}

// AttemptWindow returns the attempt window as a duration.
func (a AbuseConfig) AttemptWindow() time.Duration {
	return time.Duration(a.AttemptWindowSeconds) * time.Second
}

// BlockDuration returns the block duration as a duration.
func (a AbuseConfig) BlockDuration() time.Duration {
	return time.Duration(a.BlockSeconds) * time.Second
}

func (a AbuseConfig) validate() error {
	if a.MaxAttempts <= 0 {
		return fmt.Errorf("abuse: max_attempts must be positive, got %d", a.MaxAttempts)
	}
	if a.AttemptWindowSeconds <= 0 {
		return fmt.Errorf("abuse: attempt_window_seconds must be positive, got %d", a.AttemptWindowSeconds)
	}
	if a.BlockSeconds <= 0 {
		return fmt.Errorf("abuse: block_seconds must be positive, got %d", a.BlockSeconds)
	}
	return nil
}

// Config is the complete throttle configuration as loaded from the file.
type Config struct {
	Tiers   map[string]TierConfig `yaml:"tiers"`
	Users   map[string]string     `yaml:"users"`
	APIKeys map[string]string     `yaml:"api_keys"`
	Store   StoreConfig           `yaml:"store"`
	Server  ServerConfig          `yaml:"server"`
	Abuse   AbuseConfig           `yaml:"abuse"`
}

// Default returns a configuration with the standard connection, server, and
// abuse parameters and no tiers, users, or credentials.
func Default() *Config {
	return &Config{
		Tiers:   map[string]TierConfig{},
		Users:   map[string]string{},
		APIKeys: map[string]string{},
		Store: StoreConfig{
			Host:           "localhost",
			Port:           6379,
			Timeout:        0.005,
			MaxConnections: 50,
		},
		Server: ServerConfig{
			Listen:       ":8080",
			HeaderName:   "X-API-Key",
			ExcludePaths: []string{"/health", "/docs"},
		},
		Abuse: AbuseConfig{
			MaxAttempts:          10,
			AttemptWindowSeconds: 300,
			BlockSeconds:         900,
		},
	}
}

// applyDefaults fills zero-valued connection, server, and abuse parameters
// so a minimal file only has to declare tiers, users, and keys.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Tiers == nil {
		c.Tiers = map[string]TierConfig{}
	}
	if c.Users == nil {
		c.Users = map[string]string{}
	}
	if c.APIKeys == nil {
		c.APIKeys = map[string]string{}
	}
	if c.Store.Host == "" {
		c.Store.Host = def.Store.Host
	}
	if c.Store.Port == 0 {
		c.Store.Port = def.Store.Port
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = def.Store.Timeout
	}
	if c.Store.MaxConnections == 0 {
		c.Store.MaxConnections = def.Store.MaxConnections
	}
	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Server.HeaderName == "" {
		c.Server.HeaderName = def.Server.HeaderName
	}
	if c.Server.ExcludePaths == nil {
		c.Server.ExcludePaths = append([]string(nil), def.Server.ExcludePaths...)
	}
	if c.Abuse.MaxAttempts == 0 {
		c.Abuse.MaxAttempts = def.Abuse.MaxAttempts
	}
	if c.Abuse.AttemptWindowSeconds == 0 {
		c.Abuse.AttemptWindowSeconds = def.Abuse.AttemptWindowSeconds
	}
	if c.Abuse.BlockSeconds == 0 {
		c.Abuse.BlockSeconds = def.Abuse.BlockSeconds
	}
}

// Validate checks the whole configuration: tier invariants, resolvable tier
// references, and credential formats. All failures carry KindConfigInvalid.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return errors.New(errors.KindConfigInvalid, "at least one tier is required")
	}
	for name, tier := range c.Tiers {
		if name == "" {
			return errors.New(errors.KindConfigInvalid, "tier name must not be empty")
		}
		if err := tier.validate(name); err != nil {
			return errors.Wrap(errors.KindConfigInvalid, "invalid tier", err)
		}
	}

	for userID, tier := range c.Users {
		if userID == "" {
			return errors.New(errors.KindConfigInvalid, "user id must not be empty")
		}
		if _, ok := c.Tiers[tier]; !ok {
			return errors.Newf(errors.KindConfigInvalid, "user %q references unknown tier %q", userID, tier)
		}
	}

	for credential, userID := range c.APIKeys {
		if !identity.ValidFormat(credential) {
			return errors.Newf(errors.KindConfigInvalid, "api key %q... has invalid format", safePrefix(credential))
		}
		if _, ok := c.Users[userID]; !ok {
			return errors.Newf(errors.KindConfigInvalid, "api key %q... references unknown user %q", safePrefix(credential), userID)
		}
	}

	if err := c.Store.validate(); err != nil {
		return errors.Wrap(errors.KindConfigInvalid, "invalid store config", err)
	}
	if err := c.Abuse.validate(); err != nil {
		return errors.Wrap(errors.KindConfigInvalid, "invalid abuse config", err)
	}
	return nil
}

// Clone returns a deep copy, used for copy-on-write admin mutations.
func (c *Config) Clone() *Config {
	dup := *c
	dup.Tiers = make(map[string]TierConfig, len(c.Tiers))
	for k, v := range c.Tiers {
		dup.Tiers[k] = v
	}
	dup.Users = make(map[string]string, len(c.Users))
	for k, v := range c.Users {
		dup.Users[k] = v
	}
	dup.APIKeys = make(map[string]string, len(c.APIKeys))
	for k, v := range c.APIKeys {
		dup.APIKeys[k] = v
	}
	dup.Server.ExcludePaths = append([]string(nil), c.Server.ExcludePaths...)
	return &dup
}

// Marshal serializes a configuration to YAML for write-back.
func Marshal(c *Config) ([]byte, error) {
	return yaml.Marshal(c)
}

// safePrefix truncates a credential for error messages; full credentials
// never appear in errors or logs.
func safePrefix(credential string) string {
	if len(credential) > 8 {
		return credential[:8]
	}
	return credential
}
