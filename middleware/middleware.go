// Package middleware wires the admission decision into the HTTP request
// path: credential extraction, abuse check, identity resolution, health
// lookup, effective-limit selection, and the sliding-window check, in that
// order. Everything after the allowlist runs per request, so each step is a
// snapshot read or a single store round-trip.
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/byteness/throttle/abuse"
	"github.com/byteness/throttle/config"
	"github.com/byteness/throttle/errors"
	"github.com/byteness/throttle/health"
	"github.com/byteness/throttle/identity"
	"github.com/byteness/throttle/logging"
	"github.com/byteness/throttle/ratelimit"
)

// Response headers set by the admission decision.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderDegraded  = "X-RateLimit-Degraded"
	HeaderRequestID = "X-Request-ID"
)

// RateLimiter is the admission middleware. Construct with New and mount in
// front of the protected routes.
type RateLimiter struct {
	manager    *config.Manager
	limiter    ratelimit.Limiter
	health     *health.Service
	suppressor *abuse.Suppressor
	logger     logging.Logger

	now func() time.Time
}

// New creates the admission middleware.
func New(manager *config.Manager, limiter ratelimit.Limiter, hs *health.Service, sup *abuse.Suppressor, logger logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RateLimiter{
		manager:    manager,
		limiter:    limiter,
		health:     hs,
		suppressor: sup,
		logger:     logger,
		now:        time.Now,
	}
}

// Handler wraps next with the admission decision.
func (m *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := m.manager.Snapshot()
		server := snap.Server()

		for _, p := range server.ExcludePaths {
			if r.URL.Path == p {
				next.ServeHTTP(w, r)
				return
			}
		}

		start := m.now()
		requestID := identity.NewRequestID()
		w.Header().Set(HeaderRequestID, requestID)

		entry := logging.DecisionLogEntry{
			Timestamp: logging.Now(),
			RequestID: requestID,
			Method:    r.Method,
			Path:      r.URL.Path,
		}

		addr := sourceAddr(r)
		if blocked, retryAfter := m.suppressor.CheckBlocked(r.Context(), addr); blocked {
			entry.Code = string(errors.KindBlocked)
			m.finish(w, &entry, start)
			writeError(w, http.StatusTooManyRequests, errors.KindBlocked,
				"source address temporarily blocked", map[string]any{
					"retry_after": int(retryAfter.Seconds()),
				}, retryAfter)
			return
		}

		credential := r.Header.Get(server.HeaderName)
		id, err := identity.Resolve(snap, credential)
		if err != nil {
			m.rejectCredential(w, r, &entry, start, addr, credential, requestID, err)
			return
		}
		entry.UserID = id.UserID
		entry.Tier = id.Tier

		limits, ok := snap.Limits(id.Tier)
		if !ok {
			// Validation guarantees every user's tier exists; treat a miss as
			// a snapshot consistency failure, not a client error.
			entry.Code = string(errors.KindInternal)
			m.finish(w, &entry, start)
			writeError(w, http.StatusInternalServerError, errors.KindInternal,
				"tier not configured", nil, 0)
			return
		}

		status := m.health.Get(r.Context())
		entry.Health = string(status)
		limit := limits.Effective(status)

		key := ratelimit.Key(id.UserID, limits.Window)
		res, err := m.limiter.Check(r.Context(), key, limit, limits.Window)
		if err != nil {
			if errors.IsStoreUnavailable(err) {
				// Enforcement is unavailable; admit rather than punish the
				// caller for a backend outage.
				entry.Allowed = true
				entry.Degraded = true
				entry.Limit = limit
				m.finish(w, &entry, start)
				w.Header().Set(HeaderDegraded, "true")
				next.ServeHTTP(w, r)
				return
			}
			entry.Code = string(errors.KindOf(err))
			m.finish(w, &entry, start)
			writeError(w, http.StatusInternalServerError, errors.KindInternal,
				"rate limit check failed", nil, 0)
			return
		}

		setLimitHeaders(w, res)
		entry.Allowed = res.Allowed
		entry.Limit = res.Limit
		entry.Remaining = res.Remaining
		entry.ResetAt = res.ResetAt.Unix()

		if !res.Allowed {
			entry.Code = string(errors.KindLimitExceeded)
			m.finish(w, &entry, start)
			writeError(w, http.StatusTooManyRequests, errors.KindLimitExceeded,
				"rate limit exceeded", map[string]any{
					"tier":  id.Tier,
					"limit": res.Limit,
				}, res.RetryAfter(m.now()))
			return
		}

		m.finish(w, &entry, start)
		next.ServeHTTP(w, r)
	})
}

// rejectCredential handles the invalid-credential path: count the attempt
// against the source address and answer 401. A block triggered by this
// attempt applies to the next request, not this one.
func (m *RateLimiter) rejectCredential(w http.ResponseWriter, r *http.Request, entry *logging.DecisionLogEntry, start time.Time, addr, credential, requestID string, err error) {
	m.suppressor.RecordInvalid(r.Context(), addr, requestID)
	m.logger.LogSecurity(logging.SecurityLogEntry{
		Timestamp:        logging.Now(),
		EventType:        "invalid_credential",
		RequestID:        requestID,
		SourceAddr:       addr,
		CredentialPrefix: logging.CredentialPrefix(credential),
		Code:             string(errors.KindOf(err)),
	})

	entry.Code = string(errors.KindOf(err))
	m.finish(w, entry, start)
	writeError(w, http.StatusUnauthorized, errors.KindInvalidCredential,
		"invalid or missing credential", nil, 0)
}

// finish stamps the decision latency and emits the log entry. Call before
// writing the response so the entry reflects the decision, not the handler.
func (m *RateLimiter) finish(w http.ResponseWriter, entry *logging.DecisionLogEntry, start time.Time) {
	entry.DurationUS = m.now().Sub(start).Microseconds()
	m.logger.LogDecision(*entry)
}

// setLimitHeaders writes the quota headers for both allowed and rejected
// responses.
func setLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	h := w.Header()
	h.Set(HeaderLimit, strconv.Itoa(res.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// writeError emits the JSON error body. A positive retryAfter also sets the
// Retry-After header, rounded up to at least one second.
func writeError(w http.ResponseWriter, status int, kind errors.Kind, message string, detail map[string]any, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]any{
		"error":   string(kind),
		"message": message,
	}
	for k, v := range detail {
		body[k] = v
	}
	json.NewEncoder(w).Encode(body)
}

// sourceAddr returns the client address without the port. The suppressor
// keys on the address alone so an abuser cannot reset their counter by
// reconnecting from a new source port.
func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
