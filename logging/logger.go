// Package logging provides structured logging for rate-limit decisions,
// security events, and operational events. It defines a Logger interface and
// implementations for JSON Lines output and no-op logging.
package logging

import (
	"encoding/json"
	"io"
	"sync"
)

// Logger defines the interface for logging rate-limit decisions,
// security events, and operational events.
type Logger interface {
	// LogDecision logs a rate-limit decision.
	LogDecision(entry DecisionLogEntry)

	// LogSecurity logs an abuse or invalid-credential event.
	LogSecurity(entry SecurityLogEntry)

	// LogEvent logs an operational event.
	LogEvent(entry EventLogEntry)
}

// JSONLogger implements Logger with JSON Lines output.
// Each entry is written as a single line of JSON suitable for log aggregation.
// Safe for concurrent use.
type JSONLogger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewJSONLogger creates a new JSONLogger that writes to the given writer.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{writer: w}
}

// LogDecision writes the decision entry as a single line of JSON.
func (l *JSONLogger) LogDecision(entry DecisionLogEntry) {
	l.write(entry)
}

// LogSecurity writes the security entry as a single line of JSON.
func (l *JSONLogger) LogSecurity(entry SecurityLogEntry) {
	l.write(entry)
}

// LogEvent writes the event entry as a single line of JSON.
func (l *JSONLogger) LogEvent(entry EventLogEntry) {
	l.write(entry)
}

func (l *JSONLogger) write(entry any) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Write(data)
	l.writer.Write([]byte("\n"))
}

// NopLogger implements Logger but discards all entries.
// Useful for testing or when logging is disabled.
type NopLogger struct{}

// NewNopLogger creates a new NopLogger that discards all entries.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// LogDecision discards the entry.
func (l *NopLogger) LogDecision(entry DecisionLogEntry) {}

// LogSecurity discards the entry.
func (l *NopLogger) LogSecurity(entry SecurityLogEntry) {}

// LogEvent discards the entry.
func (l *NopLogger) LogEvent(entry EventLogEntry) {}
