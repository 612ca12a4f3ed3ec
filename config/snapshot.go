package config

import (
	"time"

	"github.com/byteness/throttle/ratelimit"
)

// Snapshot is an immutable view of one loaded configuration. Snapshots are
// shared read-only across request handlers and replaced as a whole by the
// Manager; never mutate one.
type Snapshot struct {
	cfg      *Config
	loadedAt time.Time

	// hasFree records whether a tier literally named "free" exists; when it
	// does not, the sheddable tier is the one whose degraded limit is
	// distinct from its base limit.
	hasFree bool
}

func newSnapshot(cfg *Config) *Snapshot {
	_, hasFree := cfg.Tiers["free"]
	return &Snapshot{cfg: cfg, loadedAt: time.Now(), hasFree: hasFree}
}

// LoadedAt returns when this snapshot was published.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// UserForCredential implements identity.Directory.
func (s *Snapshot) UserForCredential(credential string) (string, bool) {
	userID, ok := s.cfg.APIKeys[credential]
	return userID, ok
}

// TierForUser implements identity.Directory.
func (s *Snapshot) TierForUser(userID string) (string, bool) {
	tier, ok := s.cfg.Users[userID]
	return tier, ok
}

// TierConfig returns the configuration of the named tier.
func (s *Snapshot) TierConfig(name string) (TierConfig, bool) {
	t, ok := s.cfg.Tiers[name]
	return t, ok
}

// Limits returns the pre-classified limit record for the named tier, ready
// for effective-limit selection by health state.
func (s *Snapshot) Limits(name string) (ratelimit.TierLimits, bool) {
	t, ok := s.cfg.Tiers[name]
	if !ok {
		return ratelimit.TierLimits{}, false
	}
	sheddable := name == "free" || (!s.hasFree && t.DegradedLimit < t.BaseLimit)
	return ratelimit.TierLimits{
		Name:      name,
		Base:      t.BaseLimit,
		Burst:     t.BurstLimit,
		Degraded:  t.DegradedLimit,
		Window:    t.Window(),
		Sheddable: sheddable,
	}, true
}

// Store returns the shared-store connection parameters.
func (s *Snapshot) Store() StoreConfig {
	return s.cfg.Store
}

// Server returns the HTTP surface parameters.
func (s *Snapshot) Server() ServerConfig {
	srv := s.cfg.Server
	srv.ExcludePaths = append([]string(nil), srv.ExcludePaths...)
	return srv
}

// Abuse returns the abuse-suppression thresholds.
func (s *Snapshot) Abuse() AbuseConfig {
	return s.cfg.Abuse
}

// Counts returns the number of tiers, users, and credentials in the
// snapshot, for the status endpoint.
func (s *Snapshot) Counts() (tiers, users, keys int) {
	return len(s.cfg.Tiers), len(s.cfg.Users), len(s.cfg.APIKeys)
}
