// Package abuse tracks repeated invalid-credential attempts per source
// address and blocks addresses that cross the threshold. State lives in the
// shared store so a block applies fleet-wide; store failures never deny
// legitimate traffic.
package abuse

import (
	"context"
	"time"

	"github.com/byteness/throttle/config"
	"github.com/byteness/throttle/logging"
	"github.com/byteness/throttle/store"
)

// Policy holds the suppression thresholds.
type Policy struct {
	// MaxAttempts is the invalid-attempt count at which an address is
	// blocked.
	MaxAttempts int

	// AttemptWindow is the TTL of the attempt counter. The counter
	// expires, not slides: attempts spaced wider than the window never
	// accumulate.
	AttemptWindow time.Duration

	// BlockDuration is how long a blocked address stays blocked.
	BlockDuration time.Duration
}

// PolicyFrom builds a Policy from the loaded abuse configuration.
func PolicyFrom(cfg config.AbuseConfig) Policy {
	return Policy{
		MaxAttempts:   cfg.MaxAttempts,
		AttemptWindow: cfg.AttemptWindow(),
		BlockDuration: cfg.BlockDuration(),
	}
}

// Suppressor records invalid-credential attempts and answers whether an
// address is currently blocked.
type Suppressor struct {
	store  *store.Client
	policy Policy
	logger logging.Logger
}

// NewSuppressor creates a suppressor with the given policy.
func NewSuppressor(st *store.Client, policy Policy, logger logging.Logger) *Suppressor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Suppressor{store: st, policy: policy, logger: logger}
}

// attemptKey and blockKey derive the per-address store keys.
func attemptKey(addr string) string { return "attempts:" + addr }
func blockKey(addr string) string   { return "blocked:" + addr }

// CheckBlocked reports whether addr is currently blocked and, if so, how
// long the block has left for the Retry-After header. A store failure
// reports not blocked: suppression is an abuse control, not an
// availability control, and must not lock out legitimate traffic when the
// store is down.
func (s *Suppressor) CheckBlocked(ctx context.Context, addr string) (bool, time.Duration) {
	if addr == "" {
		return false, 0
	}
	ttl, err := s.store.TTL(ctx, blockKey(addr))
	if err != nil {
		s.logger.LogEvent(logging.EventLogEntry{
			Timestamp: logging.Now(),
			EventType: "abuse_check_failed",
			Component: "abuse",
			Message:   "assuming not blocked: " + err.Error(),
		})
		return false, 0
	}
	if ttl <= 0 {
		return false, 0
	}
	return true, ttl
}

// RecordInvalid counts one invalid-credential attempt from addr and blocks
// the address when the count reaches the threshold. Returns true when this
// attempt triggered a block. Store failures are logged and swallowed.
func (s *Suppressor) RecordInvalid(ctx context.Context, addr, requestID string) bool {
	if addr == "" {
		return false
	}

	count, err := s.store.IncrWithExpiry(ctx, attemptKey(addr), s.policy.AttemptWindow)
	if err != nil {
		s.logger.LogEvent(logging.EventLogEntry{
			Timestamp: logging.Now(),
			EventType: "abuse_record_failed",
			Component: "abuse",
			Message:   err.Error(),
		})
		return false
	}

	if count < int64(s.policy.MaxAttempts) {
		return false
	}

	if err := s.store.Set(ctx, blockKey(addr), "1", s.policy.BlockDuration); err != nil {
		s.logger.LogEvent(logging.EventLogEntry{
			Timestamp: logging.Now(),
			EventType: "abuse_block_failed",
			Component: "abuse",
			Message:   err.Error(),
		})
		return false
	}

	s.logger.LogSecurity(logging.SecurityLogEntry{
		Timestamp:  logging.Now(),
		EventType:  "address_blocked",
		RequestID:  requestID,
		SourceAddr: addr,
		Attempts:   count,
		Blocked:    true,
	})
	return true
}

// Unblock removes the block and attempt counter for addr. Admin surface.
func (s *Suppressor) Unblock(ctx context.Context, addr string) error {
	if err := s.store.Delete(ctx, blockKey(addr)); err != nil {
		return err
	}
	return s.store.Delete(ctx, attemptKey(addr))
}
