package logging

import "time"

// DecisionLogEntry captures all context for a rate-limit decision.
type DecisionLogEntry struct {
	Timestamp  string `json:"timestamp"`             // RFC3339 UTC
	RequestID  string `json:"request_id"`            // 8-char hex request identifier
	Method     string `json:"method"`                // HTTP method
	Path       string `json:"path"`                  // Request path
	UserID     string `json:"user_id,omitempty"`     // Resolved user (empty if unresolved)
	Tier       string `json:"tier,omitempty"`        // Resolved tier
	Health     string `json:"health,omitempty"`      // Health state used for the decision
	Allowed    bool   `json:"allowed"`               // Final admission decision
	Limit      int    `json:"limit,omitempty"`       // Effective limit enforced
	Remaining  int    `json:"remaining"`             // Remaining quota after the decision
	ResetAt    int64  `json:"reset_at,omitempty"`    // Unix seconds when the window resets
	Code       string `json:"code,omitempty"`        // Error code on rejection
	Degraded   bool   `json:"degraded,omitempty"`    // True when enforcement failed open
	DurationUS int64  `json:"duration_us,omitempty"` // Decision latency in microseconds
}

// SecurityLogEntry captures invalid-credential attempts and address blocks.
// The full credential is never logged; only a short prefix for correlation.
type SecurityLogEntry struct {
	Timestamp        string `json:"timestamp"`
	EventType        string `json:"event_type"` // e.g. "invalid_credential", "address_blocked"
	RequestID        string `json:"request_id,omitempty"`
	SourceAddr       string `json:"source_addr"`
	CredentialPrefix string `json:"credential_prefix,omitempty"` // First 8 chars at most
	Code             string `json:"code,omitempty"`
	Attempts         int64  `json:"attempts,omitempty"` // Invalid attempts within the window
	Blocked          bool   `json:"blocked,omitempty"`  // True when this event triggered a block
}

// EventLogEntry captures operational events: health changes, config reloads,
// and circuit breaker transitions.
type EventLogEntry struct {
	Timestamp string            `json:"timestamp"`
	EventType string            `json:"event_type"` // e.g. "health_changed", "config_reloaded"
	Component string            `json:"component"`  // Originating component name
	Message   string            `json:"message"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Timestamp returns the canonical log timestamp for now.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// CredentialPrefix returns at most the first 8 characters of a credential,
// safe to include in security logs.
func CredentialPrefix(credential string) string {
	if len(credential) > 8 {
		return credential[:8]
	}
	return credential
}
