package ratelimit

import (
	"context"

	"go.uber.org/zap"
)

// FallbackLimiter tries the shared backend first and degrades to the
// local one when it errors. The degraded limit is weaker (per-process),
// which is accepted: the protected operation must not fail just because
// the counter store is down.
type FallbackLimiter struct {
	remote Limiter
	local  Limiter
	log    *zap.Logger
}

func NewFallbackLimiter(remote, local Limiter, log *zap.Logger) *FallbackLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackLimiter{remote: remote, local: local, log: log}
}

func (l *FallbackLimiter) Check(ctx context.Context, key string) (bool, error) {
	allowed, err := l.remote.Check(ctx, key)
	if err == nil {
		return allowed, nil
	}
	l.log.Warn("rate limit backend unavailable, using local fallback", zap.Error(err))
	return l.local.Check(ctx, key)
}

func (l *FallbackLimiter) Clear(ctx context.Context, key string) error {
	if err := l.local.Clear(ctx, key); err != nil {
		l.log.Warn("rate limit local clear failed", zap.Error(err))
	}
	return l.remote.Clear(ctx, key)
}
