package ratelimit

import (
	"time"

	"github.com/byteness/throttle/health"
)

// TierLimits is the pre-classified limit record for one tier, built by the
// configuration snapshot so the hot path selects a limit without string
// branching.
type TierLimits struct {
	// Name is the tier name, for headers and logs.
	Name string

	// Base is the steady-state quota; Burst the NORMAL-state ceiling;
	// Degraded the shed ceiling for the sheddable tier.
	Base     int
	Burst    int
	Degraded int

	// Window is the sliding window length.
	Window time.Duration

	// Sheddable marks the lowest-priority tier: the one reduced to its
	// degraded limit when system health is DEGRADED. Paid tiers fall back
	// to their base quota instead, never below.
	Sheddable bool
}

// Effective returns the limit to enforce under the given health state.
// NORMAL maximizes utilization by permitting the burst ceiling for every
// tier; DEGRADED sheds the lowest tier to its degraded limit and holds paid
// tiers at base.
func (t TierLimits) Effective(h health.Status) int {
	if h == health.StatusDegraded {
		if t.Sheddable {
			return t.Degraded
		}
		return t.Base
	}
	return t.Burst
}
