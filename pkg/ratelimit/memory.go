package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries caps the local counter map. The cap bounds memory,
// not fairness: overflowing it resets windows rather than evicting
// arbitrary live counters.
const DefaultMaxEntries = 10000

type counter struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter is the process-local fallback backend. It is not shared
// across processes and must never be treated as authoritative when a
// remote backend is available.
type MemoryLimiter struct {
	cfg        Config
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*counter
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:        cfg,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		entries:    make(map[string]*counter),
	}
}

func (l *MemoryLimiter) Check(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.entries[key]
	if ok && now.Before(c.resetAt) {
		if c.count >= l.cfg.Max {
			return false, nil
		}
		c.count++
		return true, nil
	}

	if !ok && len(l.entries) >= l.maxEntries {
		l.evictLocked(now)
	}
	l.entries[key] = &counter{count: 1, resetAt: now.Add(l.cfg.Window)}
	return l.cfg.Max >= 1, nil
}

func (l *MemoryLimiter) Clear(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// evictLocked sweeps expired counters and, if the map is still at the
// cap, clears it entirely. Resetting everyone's window is preferred over
// unbounded growth.
func (l *MemoryLimiter) evictLocked(now time.Time) {
	for k, c := range l.entries {
		if !now.Before(c.resetAt) {
			delete(l.entries, k)
		}
	}
	if len(l.entries) >= l.maxEntries {
		clear(l.entries)
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
