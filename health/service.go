// Package health owns the global NORMAL/DEGRADED health state. The record
// lives in the shared store; each instance caches it for a short TTL, so a
// write converges across the fleet within twice the cache TTL. When the
// store cannot be read the service reports NORMAL: a degraded signal is only
// honored when observable, and an unreachable store already fails the rate
// path open.
package health

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/byteness/throttle/errors"
	"github.com/byteness/throttle/logging"
	"github.com/byteness/throttle/store"
)

// Key is the well-known shared-store key holding the health record.
const Key = "health:system"

// DefaultCacheTTL is the in-process cache lifetime for health reads.
const DefaultCacheTTL = 2 * time.Second

// Status is the system health state.
type Status string

const (
	// StatusNormal permits burst ceilings for all tiers.
	StatusNormal Status = "NORMAL"
	// StatusDegraded sheds load from the lowest tier.
	StatusDegraded Status = "DEGRADED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusNormal || s == StatusDegraded
}

func (s Status) String() string {
	return string(s)
}

// Record is the stored health state with its metadata.
type Record struct {
	Status    Status    `json:"status"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	// ExpiresAt is when the status auto-reverts to NORMAL; zero when the
	// record has no expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Service reads and writes the health record with an in-process TTL cache.
// Safe for concurrent use; at most one refresh is in flight per instance.
type Service struct {
	store    *store.Client
	logger   logging.Logger
	cacheTTL time.Duration
	now      func() time.Time

	sf singleflight.Group

	mu        sync.Mutex
	cached    Status
	fetchedAt time.Time
}

// NewService creates a health service with the default 2 s cache TTL.
func NewService(st *store.Client, logger logging.Logger) *Service {
	return NewServiceWithCacheTTL(st, logger, DefaultCacheTTL)
}

// NewServiceWithCacheTTL creates a health service with a custom cache TTL.
// Useful for tests that cannot wait out the default.
func NewServiceWithCacheTTL(st *store.Client, logger logging.Logger, cacheTTL time.Duration) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		store:    st,
		logger:   logger,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Get returns the current health status. Reads within the cache TTL return
// the cached value; a cache miss refreshes from the store with a
// single-flight guard. Store failures return NORMAL and record a
// degraded-observability event.
func (s *Service) Get(ctx context.Context) Status {
	s.mu.Lock()
	if s.now().Sub(s.fetchedAt) < s.cacheTTL && s.cached != "" {
		status := s.cached
		s.mu.Unlock()
		return status
	}
	s.mu.Unlock()

	v, _, _ := s.sf.Do("refresh", func() (any, error) {
		status := s.fetch(ctx)
		s.mu.Lock()
		s.cached = status
		s.fetchedAt = s.now()
		s.mu.Unlock()
		return status, nil
	})
	return v.(Status)
}

// fetch reads the record from the store, defaulting to NORMAL when the key
// is absent, expired, or unreadable.
func (s *Service) fetch(ctx context.Context) Status {
	fields, err := s.store.HGetAll(ctx, Key)
	if err != nil {
		s.logger.LogEvent(logging.EventLogEntry{
			Timestamp: logging.Now(),
			EventType: "health_read_failed",
			Component: "health",
			Message:   "assuming NORMAL: " + err.Error(),
		})
		return StatusNormal
	}

	status := Status(fields["status"])
	if !status.Valid() {
		return StatusNormal
	}
	return status
}

// GetRecord returns the full health record for the admin surface. Unlike
// Get it bypasses the cache and surfaces store errors.
func (s *Service) GetRecord(ctx context.Context) (Record, error) {
	fields, err := s.store.HGetAll(ctx, Key)
	if err != nil {
		return Record{}, err
	}
	if len(fields) == 0 {
		return Record{Status: StatusNormal}, nil
	}

	rec := Record{
		Status:    Status(fields["status"]),
		UpdatedBy: fields["updated_by"],
		Reason:    fields["reason"],
	}
	if !rec.Status.Valid() {
		rec.Status = StatusNormal
	}
	if v, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = time.Unix(v, 0).UTC()
	}
	if ttl, err := s.store.TTL(ctx, Key); err == nil && ttl > 0 {
		rec.ExpiresAt = s.now().Add(ttl).UTC()
	}
	return rec, nil
}

// Set writes the health record. A positive ttl makes the status revert to
// NORMAL when it elapses. The local cache is invalidated so this instance
// observes the write immediately; other instances converge within their own
// cache TTL.
func (s *Service) Set(ctx context.Context, status Status, updatedBy, reason string, ttl time.Duration) (Record, error) {
	if !status.Valid() {
		return Record{}, errors.Newf(errors.KindConfigInvalid, "invalid health status %q", status)
	}

	now := s.now().UTC()
	fields := map[string]string{
		"status":     string(status),
		"updated_at": strconv.FormatInt(now.Unix(), 10),
	}
	if updatedBy != "" {
		fields["updated_by"] = updatedBy
	}
	if reason != "" {
		fields["reason"] = reason
	}

	if err := s.store.HSetWithTTL(ctx, Key, fields, ttl); err != nil {
		return Record{}, err
	}

	s.Invalidate()
	s.logger.LogEvent(logging.EventLogEntry{
		Timestamp: logging.Now(),
		EventType: "health_changed",
		Component: "health",
		Message:   "system health set to " + string(status),
		Detail: map[string]string{
			"updated_by": updatedBy,
			"reason":     reason,
		},
	})

	rec := Record{Status: status, UpdatedBy: updatedBy, Reason: reason, UpdatedAt: now}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}
	return rec, nil
}

// Invalidate drops the local cache so the next Get refreshes from the store.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = ""
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}
