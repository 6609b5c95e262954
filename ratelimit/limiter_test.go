package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, capacity int, refillPerSecond float64) (*Limiter, func(time.Time)) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewLimiter(client, capacity, refillPerSecond, time.Hour)
	current := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	limiter.WithClock(func() time.Time { return current })

	advanceTo := func(at time.Time) {
		current = at
		limiter.WithClock(func() time.Time { return current })
	}
	return limiter, advanceTo
}

func TestAllowMaker_ExhaustsBucket(t *testing.T) {
	limiter, _ := newTestLimiter(t, 3, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.AllowMaker(ctx, "TEL-001")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("attempt %d should be within capacity", i)
		}
	}

	allowed, remaining, err := limiter.AllowMaker(ctx, "TEL-001")
	if err != nil {
		t.Fatalf("allow after exhaustion: %v", err)
	}
	if allowed {
		t.Errorf("fourth attempt should be throttled")
	}
	if remaining != 0 {
		t.Errorf("expected empty bucket, got %v remaining", remaining)
	}
}

func TestAllowMaker_RefillsOverTime(t *testing.T) {
	limiter, advanceTo := newTestLimiter(t, 1, 1)
	ctx := context.Background()
	start := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	if allowed, _, err := limiter.AllowMaker(ctx, "TEL-001"); err != nil || !allowed {
		t.Fatalf("first attempt should pass: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, err := limiter.AllowMaker(ctx, "TEL-001"); err != nil || allowed {
		t.Fatalf("immediate retry should be throttled: allowed=%v err=%v", allowed, err)
	}

	advanceTo(start.Add(2 * time.Second))
	if allowed, _, err := limiter.AllowMaker(ctx, "TEL-001"); err != nil || !allowed {
		t.Fatalf("attempt after refill should pass: allowed=%v err=%v", allowed, err)
	}
}

func TestAllowMaker_BucketsAreIndependentPerMaker(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, 0)
	ctx := context.Background()

	if allowed, _, err := limiter.AllowMaker(ctx, "TEL-001"); err != nil || !allowed {
		t.Fatalf("first maker should pass: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, err := limiter.AllowMaker(ctx, "TEL-001"); err != nil || allowed {
		t.Fatalf("first maker should now be throttled: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, err := limiter.AllowMaker(ctx, "TEL-002"); err != nil || !allowed {
		t.Fatalf("second maker must not share the first maker's bucket: allowed=%v err=%v", allowed, err)
	}
}

func TestAllowMaker_RefillNeverExceedsCapacity(t *testing.T) {
	limiter, advanceTo := newTestLimiter(t, 2, 10)
	ctx := context.Background()
	start := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	// Drain the bucket, then wait far longer than a full refill.
	for i := 0; i < 2; i++ {
		if allowed, _, err := limiter.AllowMaker(ctx, "TEL-001"); err != nil || !allowed {
			t.Fatalf("drain %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	advanceTo(start.Add(time.Hour))

	for i := 0; i < 2; i++ {
		if allowed, _, err := limiter.AllowMaker(ctx, "TEL-001"); err != nil || !allowed {
			t.Fatalf("post-refill %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	if allowed, _, err := limiter.AllowMaker(ctx, "TEL-001"); err != nil || allowed {
		t.Fatalf("bucket must cap at capacity, got allowed=%v err=%v", allowed, err)
	}
}
