package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter implements Limiter with an in-process sliding window log.
// It offers the same contract as RedisLimiter for single-node deployments
// and tests, but decisions are not shared across instances.
// Safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	// cleanupInterval controls how often idle buckets are removed.
	cleanupInterval time.Duration

	// done signals the cleanup goroutine to stop.
	done chan struct{}
	// wg waits for the cleanup goroutine to finish.
	wg sync.WaitGroup

	now func() time.Time
}

// bucket holds event timestamps for a single key, plus the window length
// last used so the cleanup pass can trim it.
type bucket struct {
	timestamps []time.Time
	window     time.Duration
}

// NewMemoryLimiter creates a new in-memory limiter.
// Starts a background goroutine to clean up idle buckets.
// Call Close() to stop the cleanup goroutine.
func NewMemoryLimiter() *MemoryLimiter {
	return NewMemoryLimiterWithCleanup(10 * time.Minute)
}

// NewMemoryLimiterWithCleanup creates a limiter with a custom cleanup
// interval. Useful for testing with shorter intervals.
func NewMemoryLimiterWithCleanup(cleanupInterval time.Duration) *MemoryLimiter {
	m := &MemoryLimiter{
		buckets:         make(map[string]*bucket),
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}),
		now:             time.Now,
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

// Check counts the request against key's sliding window. The mutex makes
// the trim-count-insert sequence atomic within this process.
func (m *MemoryLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	windowStart := now.Add(-window)

	b, exists := m.buckets[key]
	if !exists {
		b = &bucket{}
		m.buckets[key] = b
	}
	b.window = window
	b.timestamps = filterValid(b.timestamps, windowStart)

	if len(b.timestamps) >= limit || limit <= 0 {
		resetAt := now.Add(window)
		if len(b.timestamps) > 0 {
			resetAt = b.timestamps[0].Add(window)
		}
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	b.timestamps = append(b.timestamps, now)

	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(b.timestamps),
		ResetAt:   b.timestamps[0].Add(window),
	}, nil
}

// Close stops the background cleanup goroutine.
// Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	select {
	case <-m.done:
		// Already closed
		return nil
	default:
		close(m.done)
	}
	m.wg.Wait()
	return nil
}

// cleanupLoop periodically removes idle buckets from memory.
func (m *MemoryLimiter) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup removes expired entries from all buckets.
func (m *MemoryLimiter) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, b := range m.buckets {
		b.timestamps = filterValid(b.timestamps, now.Add(-b.window))
		if len(b.timestamps) == 0 {
			delete(m.buckets, key)
		}
	}
}

// filterValid returns only timestamps after the cutoff.
func filterValid(timestamps []time.Time, cutoff time.Time) []time.Time {
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
