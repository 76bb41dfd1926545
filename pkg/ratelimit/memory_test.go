package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestLimiter(cfg Config) (*MemoryLimiter, *time.Time) {
	l := NewMemoryLimiter(cfg)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestMemoryLimiterWindow(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLimiter(Config{Window: time.Minute, Max: 3})

	for i := 0; i < 3; i++ {
		allowed, err := l.Check(ctx, "k")
		if err != nil || !allowed {
			t.Fatalf("hit %d: allowed=%v err=%v", i+1, allowed, err)
		}
	}
	if allowed, _ := l.Check(ctx, "k"); allowed {
		t.Fatal("4th hit inside window must be rejected")
	}

	*now = now.Add(time.Minute)
	if allowed, _ := l.Check(ctx, "k"); !allowed {
		t.Fatal("hit after window elapsed must start a fresh window")
	}
}

func TestMemoryLimiterSingleHitWindow(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(Config{Window: time.Minute, Max: 1})

	if allowed, _ := l.Check(ctx, "k"); !allowed {
		t.Fatal("first hit must be allowed")
	}
	if allowed, _ := l.Check(ctx, "k"); allowed {
		t.Fatal("second hit must be rejected")
	}
	if err := l.Clear(ctx, "k"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if allowed, _ := l.Check(ctx, "k"); !allowed {
		t.Fatal("hit after clear must be allowed")
	}
}

func TestMemoryLimiterKeysIndependent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(Config{Window: time.Minute, Max: 1})

	if allowed, _ := l.Check(ctx, "a"); !allowed {
		t.Fatal("key a first hit")
	}
	if allowed, _ := l.Check(ctx, "b"); !allowed {
		t.Fatal("key b must have its own counter")
	}
}

func TestMemoryLimiterBoundedSize(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(Config{Window: time.Minute, Max: 5})
	l.maxEntries = 100

	for i := 0; i < 1000; i++ {
		if _, err := l.Check(ctx, fmt.Sprintf("key-%d", i)); err != nil {
			t.Fatalf("check: %v", err)
		}
		if got := l.size(); got > 100 {
			t.Fatalf("map grew to %d entries, cap is 100", got)
		}
	}
}

func TestMemoryLimiterOverflowSweepsExpiredFirst(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLimiter(Config{Window: time.Minute, Max: 5})
	l.maxEntries = 10

	for i := 0; i < 10; i++ {
		_, _ = l.Check(ctx, fmt.Sprintf("old-%d", i))
	}
	*now = now.Add(2 * time.Minute)

	// The expired counters make room; a live counter survives.
	if _, err := l.Check(ctx, "fresh"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := l.size(); got != 1 {
		t.Fatalf("size=%d after expired sweep, want 1", got)
	}
}
