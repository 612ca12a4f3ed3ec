// Package ratelimit implements sliding-window-log admission counting and
// effective-limit selection. The distributed backend executes the
// trim-count-insert-expire sequence as one atomic server-side script so
// concurrent instances cannot race a check-then-act window; a memory
// backend with the same contract serves single-node and test use.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Limiter decides admission for one key against a limit over a sliding
// window. Implementations must be safe for concurrent use.
type Limiter interface {
	// Check counts the request against the key's window. When admission is
	// granted the event is recorded atomically with the decision.
	Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Result provides the rate limit decision and the header values derived
// from it.
type Result struct {
	// Allowed indicates if the request was permitted.
	Allowed bool

	// Limit is the limit that was enforced.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAt is when the oldest surviving event leaves the window.
	ResetAt time.Time
}

// RetryAfter returns how long a rejected caller should wait, at least one
// second per the Retry-After header contract.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}

// Key derives the shared-store bucket key for a user and window. Keeping
// the window length in the key means a tier reconfiguration starts counting
// in a fresh bucket instead of misreading the old one.
func Key(userID string, window time.Duration) string {
	return fmt.Sprintf("rl:%s:%d", userID, int(window.Seconds()))
}
