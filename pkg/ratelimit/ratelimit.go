// Package ratelimit provides fixed-window admission control with two
// interchangeable backends: a shared Redis counter and a process-local
// bounded map. The fallback composite prefers the shared backend and
// degrades to the local one when it is unreachable, so rate limiting is
// never the reason a protected operation fails outright.
package ratelimit

import (
	"context"
	"time"
)

// Limiter admits or rejects one hit for a key.
type Limiter interface {
	// Check records a hit for key and reports whether it is within the
	// window's budget.
	Check(ctx context.Context, key string) (allowed bool, err error)
	// Clear resets the counter for key, starting a fresh window on the
	// next hit.
	Clear(ctx context.Context, key string) error
}

// Config is the shared window policy for all backends.
type Config struct {
	Window time.Duration
	Max    int64
}
