package abuse

import (
	"context"
	"testing"
	"time"

	"github.com/byteness/throttle/logging"
	"github.com/byteness/throttle/testutil"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		AttemptWindow: 5 * time.Minute,
		BlockDuration: 15 * time.Minute,
	}
}

func TestEscalationBlocksAtThreshold(t *testing.T) {
	st, _ := testutil.NewStore(t)
	sup := NewSuppressor(st, testPolicy(), logging.NewNopLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if blocked := sup.RecordInvalid(ctx, "203.0.113.9", "req00001"); blocked {
			t.Fatalf("attempt %d triggered a block below the threshold", i+1)
		}
		if got, _ := sup.CheckBlocked(ctx, "203.0.113.9"); got {
			t.Fatalf("address blocked after %d attempts", i+1)
		}
	}

	if blocked := sup.RecordInvalid(ctx, "203.0.113.9", "req00001"); !blocked {
		t.Fatal("threshold attempt did not trigger a block")
	}

	blocked, retryAfter := sup.CheckBlocked(ctx, "203.0.113.9")
	if !blocked {
		t.Fatal("address not blocked after escalation")
	}
	if retryAfter <= 0 || retryAfter > 15*time.Minute {
		t.Errorf("retryAfter = %v, want (0, 15m]", retryAfter)
	}
}

func TestBlockExpires(t *testing.T) {
	st, mr := testutil.NewStore(t)
	sup := NewSuppressor(st, testPolicy(), logging.NewNopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sup.RecordInvalid(ctx, "203.0.113.9", "req00001")
	}
	if blocked, _ := sup.CheckBlocked(ctx, "203.0.113.9"); !blocked {
		t.Fatal("address not blocked")
	}

	mr.FastForward(16 * time.Minute)
	if blocked, _ := sup.CheckBlocked(ctx, "203.0.113.9"); blocked {
		t.Error("block outlived its duration")
	}
}

func TestAttemptCounterExpires(t *testing.T) {
	st, mr := testutil.NewStore(t)
	sup := NewSuppressor(st, testPolicy(), logging.NewNopLogger())
	ctx := context.Background()

	sup.RecordInvalid(ctx, "203.0.113.9", "req00001")
	sup.RecordInvalid(ctx, "203.0.113.9", "req00001")

	// Spaced-out attempts never accumulate to a block.
	mr.FastForward(6 * time.Minute)
	if blocked := sup.RecordInvalid(ctx, "203.0.113.9", "req00001"); blocked {
		t.Error("stale attempts counted toward the threshold")
	}
}

func TestAddressesAreIndependent(t *testing.T) {
	st, _ := testutil.NewStore(t)
	sup := NewSuppressor(st, testPolicy(), logging.NewNopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sup.RecordInvalid(ctx, "203.0.113.9", "req00001")
	}
	if blocked, _ := sup.CheckBlocked(ctx, "198.51.100.7"); blocked {
		t.Error("block leaked to an unrelated address")
	}
}

func TestUnblockClearsState(t *testing.T) {
	st, _ := testutil.NewStore(t)
	sup := NewSuppressor(st, testPolicy(), logging.NewNopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sup.RecordInvalid(ctx, "203.0.113.9", "req00001")
	}
	if err := sup.Unblock(ctx, "203.0.113.9"); err != nil {
		t.Fatalf("unblock: %v", err)
	}

	if blocked, _ := sup.CheckBlocked(ctx, "203.0.113.9"); blocked {
		t.Error("address still blocked after unblock")
	}
	// The attempt counter is cleared too, so the next attempt starts over.
	if blocked := sup.RecordInvalid(ctx, "203.0.113.9", "req00001"); blocked {
		t.Error("first attempt after unblock triggered a block")
	}
}

func TestStoreFailureFailsOpen(t *testing.T) {
	st := testutil.BrokenStore(t)
	sup := NewSuppressor(st, testPolicy(), logging.NewNopLogger())
	ctx := context.Background()

	if blocked, _ := sup.CheckBlocked(ctx, "203.0.113.9"); blocked {
		t.Error("CheckBlocked reported blocked with the store down")
	}
	if blocked := sup.RecordInvalid(ctx, "203.0.113.9", "req00001"); blocked {
		t.Error("RecordInvalid escalated with the store down")
	}
}

func TestEmptyAddressIsIgnored(t *testing.T) {
	st, _ := testutil.NewStore(t)
	sup := NewSuppressor(st, testPolicy(), logging.NewNopLogger())
	ctx := context.Background()

	if blocked, _ := sup.CheckBlocked(ctx, ""); blocked {
		t.Error("empty address reported blocked")
	}
	if blocked := sup.RecordInvalid(ctx, "", "req00001"); blocked {
		t.Error("empty address escalated")
	}
}
