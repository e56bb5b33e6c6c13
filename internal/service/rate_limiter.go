package service

import (
	"context"
	"fmt"
	"time"

	"otp-service/internal/repository/cache"

	"go.uber.org/zap"
)

// RateLimitConfig is the default admission budget per composite key
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// RateLimiter admits at most Limit calls per key in each fixed window.
// It knows nothing about OTP state.
type RateLimiter struct {
	cache  *cache.RateLimitCache
	cfg    RateLimitConfig
	logger *zap.Logger
}

func NewRateLimiter(c *cache.RateLimitCache, cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{cache: c, cfg: cfg, logger: logger}
}

// Admit applies the configured limit and window.
func (r *RateLimiter) Admit(ctx context.Context, key string) (bool, error) {
	return r.AdmitN(ctx, key, r.cfg.Limit, r.cfg.Window)
}

// AdmitN counts this call and reports whether it fits within limit.
func (r *RateLimiter) AdmitN(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.cache.IncrementCounter(ctx, key, window)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	allowed := count <= int64(limit)
	if !allowed {
		r.logger.Debug("Rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit))
	}
	return allowed, nil
}
