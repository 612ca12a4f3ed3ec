package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterSequentialFill(t *testing.T) {
	m := NewMemoryLimiter()
	defer m.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		res, err := m.Check(ctx, "rl:alice:60", 5, time.Minute)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("request %d rejected below the limit", i)
		}
		if want := 5 - (i + 1); res.Remaining != want {
			t.Errorf("request %d: remaining = %d, want %d", i, res.Remaining, want)
		}
	}

	res, err := m.Check(ctx, "rl:alice:60", 5, time.Minute)
	if err != nil {
		t.Fatalf("check over limit: %v", err)
	}
	if res.Allowed {
		t.Error("request over the limit was admitted")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d over the limit, want 0", res.Remaining)
	}
}

func TestMemoryLimiterZeroLimitDeniesEverything(t *testing.T) {
	m := NewMemoryLimiter()
	defer m.Close()

	res, err := m.Check(context.Background(), "rl:alice:60", 0, time.Minute)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Error("zero limit admitted a request")
	}
}

func TestMemoryLimiterWindowSlides(t *testing.T) {
	m := NewMemoryLimiter()
	defer m.Close()

	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if res, _ := m.Check(ctx, "k", 3, time.Minute); !res.Allowed {
			t.Fatalf("fill request %d rejected", i)
		}
	}
	if res, _ := m.Check(ctx, "k", 3, time.Minute); res.Allowed {
		t.Fatal("request admitted with the window full")
	}

	// Advance past the oldest event; exactly one slot frees up.
	now = now.Add(61 * time.Second)
	res, _ := m.Check(ctx, "k", 3, time.Minute)
	if !res.Allowed {
		t.Error("request rejected after the window slid")
	}
}

func TestMemoryLimiterIsolatesKeys(t *testing.T) {
	m := NewMemoryLimiter()
	defer m.Close()

	ctx := context.Background()
	if res, _ := m.Check(ctx, "rl:alice:60", 1, time.Minute); !res.Allowed {
		t.Fatal("first request for alice rejected")
	}
	if res, _ := m.Check(ctx, "rl:alice:60", 1, time.Minute); res.Allowed {
		t.Fatal("alice admitted over her limit")
	}
	if res, _ := m.Check(ctx, "rl:bob:60", 1, time.Minute); !res.Allowed {
		t.Error("bob rejected because of alice's usage")
	}
}

func TestMemoryLimiterCleanupRemovesIdleBuckets(t *testing.T) {
	m := NewMemoryLimiterWithCleanup(time.Hour)
	defer m.Close()

	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }

	m.Check(context.Background(), "k", 5, time.Minute)

	now = now.Add(2 * time.Minute)
	m.cleanup()

	m.mu.Lock()
	_, exists := m.buckets["k"]
	m.mu.Unlock()
	if exists {
		t.Error("idle bucket survived cleanup")
	}
}

func TestMemoryLimiterCloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter()
	if err := m.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
