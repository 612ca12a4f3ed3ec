package health

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/byteness/throttle/logging"
	"github.com/byteness/throttle/store"
)

func newTestStore(t *testing.T) (*store.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := store.New(store.Options{
		Addr:      mr.Addr(),
		OpTimeout: 500 * time.Millisecond,
	}, logging.NewNopLogger())
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func newBrokenStore(t *testing.T) *store.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := store.New(store.Options{
		Addr:      addr,
		OpTimeout: 50 * time.Millisecond,
	}, logging.NewNopLogger())
	t.Cleanup(func() { client.Close() })

	return client
}

func TestSetGetRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	svc := NewService(st, logging.NewNopLogger())
	ctx := context.Background()

	rec, err := svc.Set(ctx, StatusDegraded, "ops", "db failover", 0)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if rec.Status != StatusDegraded {
		t.Errorf("set returned status %q", rec.Status)
	}

	if got := svc.Get(ctx); got != StatusDegraded {
		t.Errorf("Get = %q after set, want DEGRADED", got)
	}

	got, err := svc.GetRecord(ctx)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != StatusDegraded || got.UpdatedBy != "ops" || got.Reason != "db failover" {
		t.Errorf("record = %+v", got)
	}
}

func TestGetDefaultsToNormalWhenUnset(t *testing.T) {
	st, _ := newTestStore(t)
	svc := NewService(st, logging.NewNopLogger())

	if got := svc.Get(context.Background()); got != StatusNormal {
		t.Errorf("Get with no record = %q, want NORMAL", got)
	}
}

func TestGetIgnoresCorruptRecord(t *testing.T) {
	st, mr := newTestStore(t)
	mr.HSet(Key, "status", "PANIC")

	svc := NewService(st, logging.NewNopLogger())
	if got := svc.Get(context.Background()); got != StatusNormal {
		t.Errorf("Get with corrupt record = %q, want NORMAL", got)
	}
}

func TestGetServesFromCacheWithinTTL(t *testing.T) {
	st, mr := newTestStore(t)
	svc := NewService(st, logging.NewNopLogger())
	ctx := context.Background()

	if got := svc.Get(ctx); got != StatusNormal {
		t.Fatalf("initial Get = %q", got)
	}

	// A direct store write is invisible until the cache expires.
	mr.HSet(Key, "status", string(StatusDegraded))
	if got := svc.Get(ctx); got != StatusNormal {
		t.Errorf("Get = %q within cache TTL, want cached NORMAL", got)
	}

	svc.Invalidate()
	if got := svc.Get(ctx); got != StatusDegraded {
		t.Errorf("Get = %q after invalidation, want DEGRADED", got)
	}
}

func TestCacheExpiresByTTL(t *testing.T) {
	st, mr := newTestStore(t)
	svc := NewServiceWithCacheTTL(st, logging.NewNopLogger(), 10*time.Millisecond)
	ctx := context.Background()

	svc.Get(ctx)
	mr.HSet(Key, "status", string(StatusDegraded))

	now := time.Now()
	svc.now = func() time.Time { return now.Add(20 * time.Millisecond) }

	if got := svc.Get(ctx); got != StatusDegraded {
		t.Errorf("Get = %q after cache TTL elapsed, want DEGRADED", got)
	}
}

func TestSetInvalidatesLocalCache(t *testing.T) {
	st, _ := newTestStore(t)
	svc := NewService(st, logging.NewNopLogger())
	ctx := context.Background()

	if got := svc.Get(ctx); got != StatusNormal {
		t.Fatalf("initial Get = %q", got)
	}
	if _, err := svc.Set(ctx, StatusDegraded, "ops", "", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := svc.Get(ctx); got != StatusDegraded {
		t.Errorf("Get = %q right after Set, want DEGRADED", got)
	}
}

func TestSetRejectsUnknownStatus(t *testing.T) {
	st, _ := newTestStore(t)
	svc := NewService(st, logging.NewNopLogger())

	if _, err := svc.Set(context.Background(), Status("PANIC"), "", "", 0); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestStatusExpiresWithTTL(t *testing.T) {
	st, mr := newTestStore(t)
	svc := NewService(st, logging.NewNopLogger())
	ctx := context.Background()

	if _, err := svc.Set(ctx, StatusDegraded, "ops", "incident", 30*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	rec, err := svc.GetRecord(ctx)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.ExpiresAt.IsZero() {
		t.Error("record with TTL has no expiry")
	}

	mr.FastForward(31 * time.Second)
	svc.Invalidate()
	if got := svc.Get(ctx); got != StatusNormal {
		t.Errorf("Get = %q after TTL expiry, want NORMAL", got)
	}
}

func TestGetFailsTowardNormal(t *testing.T) {
	st := newBrokenStore(t)
	svc := NewService(st, logging.NewNopLogger())

	if got := svc.Get(context.Background()); got != StatusNormal {
		t.Errorf("Get with store down = %q, want NORMAL", got)
	}
}

func TestGetRecordSurfacesStoreErrors(t *testing.T) {
	st := newBrokenStore(t)
	svc := NewService(st, logging.NewNopLogger())

	if _, err := svc.GetRecord(context.Background()); err == nil {
		t.Fatal("expected store error from GetRecord")
	}
}
