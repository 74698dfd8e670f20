package infra

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

func TestLocalFallbackStore_EnforcesCapacity(t *testing.T) {
	clk := newFakeClock()
	s := NewLocalFallbackStore(WithLocalClock(clk.Now))
	p := policy(t, "auth", domain.MustTier(3, 3, time.Minute))

	for i := 0; i < 3; i++ {
		dec, err := s.TryConsume(context.Background(), "k", p, 1)
		if err != nil || !dec.Admitted {
			t.Fatalf("expected request %d admitted, got %+v err=%v", i, dec, err)
		}
	}
	dec, _ := s.TryConsume(context.Background(), "k", p, 1)
	if dec.Admitted {
		t.Fatalf("expected 4th request denied")
	}
	if dec.RetryAfter != time.Minute {
		t.Fatalf("expected retry after 1m, got %s", dec.RetryAfter)
	}

	clk.Advance(time.Minute)
	dec, _ = s.TryConsume(context.Background(), "k", p, 1)
	if !dec.Admitted || dec.Remaining != 2 {
		t.Fatalf("expected refill after one period, got %+v", dec)
	}
}

func TestLocalFallbackStore_CleanupRemovesIdleEntries(t *testing.T) {
	clk := newFakeClock()
	s := NewLocalFallbackStore(WithLocalClock(clk.Now), WithIdleTTL(time.Minute), WithCleanupEvery(0))
	p := policy(t, "search", domain.MustTier(2, 2, time.Second))

	_, _ = s.TryConsume(context.Background(), "a", p, 1)
	clk.Advance(30 * time.Second)
	_, _ = s.TryConsume(context.Background(), "b", p, 1)
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}

	clk.Advance(45 * time.Second)
	s.Cleanup()
	if s.Len() != 1 {
		t.Fatalf("expected idle entry removed, got %d entries", s.Len())
	}
}

func TestLocalFallbackStore_ExpiredEntryStartsFull(t *testing.T) {
	clk := newFakeClock()
	s := NewLocalFallbackStore(WithLocalClock(clk.Now), WithIdleTTL(time.Minute))
	p := policy(t, "auth", domain.MustTier(1, 1, time.Second))

	_, _ = s.TryConsume(context.Background(), "k", p, 1)
	clk.Advance(2 * time.Minute)
	dec, _ := s.TryConsume(context.Background(), "k", p, 1)
	if !dec.Admitted {
		t.Fatalf("expected expired entry to start full")
	}
}

func TestLocalFallbackStore_Janitor(t *testing.T) {
	clk := newFakeClock()
	s := NewLocalFallbackStore(WithLocalClock(clk.Now), WithIdleTTL(time.Millisecond), WithCleanupEvery(5*time.Millisecond))
	p := policy(t, "auth", domain.MustTier(1, 1, time.Millisecond))
	_, _ = s.TryConsume(context.Background(), "k", p, 1)
	clk.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJanitor(ctx)

	deadline := time.Now().Add(time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not remove expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
