package cache

import (
	"context"
	"fmt"
	"time"

	"otp-service/internal/bucketing"
	"otp-service/internal/store"
)

// RateLimitCache holds fixed-window counters keyed rl:{key}:{window index}.
type RateLimitCache struct {
	store store.Store
	keys  *bucketing.BucketingManager
}

func NewRateLimitCache(s store.Store, keys *bucketing.BucketingManager) *RateLimitCache {
	return &RateLimitCache{store: s, keys: keys}
}

// IncrementCounter counts one hit in the current window of key and returns
// the new total. The bucket expires with its window.
func (c *RateLimitCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	bucket := c.keys.RateLimitKey(key, window)

	count, err := c.store.Incr(ctx, bucket)
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := c.store.Expire(ctx, bucket, window); err != nil {
			return 0, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	return count, nil
}

// GetCounter returns the hits recorded in the current window of key.
func (c *RateLimitCache) GetCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	val, ok, err := c.store.Get(ctx, c.keys.RateLimitKey(key, window))
	if err != nil {
		return 0, fmt.Errorf("failed to get rate limit counter: %w", err)
	}
	if !ok {
		return 0, nil
	}
	var n int64
	if _, err := fmt.Sscan(val, &n); err != nil {
		return 0, fmt.Errorf("invalid counter format: %w", err)
	}
	return n, nil
}
