// Package cache holds the OTP and rate-limit key layouts over store.Store.
package cache

import (
	"context"
	"fmt"
	"time"

	"otp-service/internal/bucketing"
	"otp-service/internal/store"
	"otp-service/internal/util"
)

const (
	otpPrefix     = "otp:"
	attemptSuffix = ":attempts"
	blockedSuffix = ":blocked"

	blockedValue = "1"
)

// OTPCache owns the record, attempt counter and block flag of each identifier.
type OTPCache struct {
	store store.Store
	keys  *bucketing.BucketingManager
}

func NewOTPCache(s store.Store, keys *bucketing.BucketingManager) *OTPCache {
	return &OTPCache{store: s, keys: keys}
}

func (c *OTPCache) recordKey(identifier string) string {
	return otpPrefix + c.keys.IdentifierKey(identifier)
}

func (c *OTPCache) attemptsKey(identifier string) string {
	return c.recordKey(identifier) + attemptSuffix
}

func (c *OTPCache) blockedKey(identifier string) string {
	return c.recordKey(identifier) + blockedSuffix
}

// OTPTTL returns the remaining lifetime of the live record, 0 if none.
func (c *OTPCache) OTPTTL(ctx context.Context, identifier string) (time.Duration, error) {
	ttl, err := c.store.TTL(ctx, c.recordKey(identifier))
	if err != nil {
		return 0, fmt.Errorf("failed to get OTP TTL: %w", err)
	}
	return ttl, nil
}

// GetOTP returns the stored digest and whether a record exists.
func (c *OTPCache) GetOTP(ctx context.Context, identifier string) (string, bool, error) {
	digest, ok, err := c.store.Get(ctx, c.recordKey(identifier))
	if err != nil {
		return "", false, fmt.Errorf("failed to get OTP from cache: %w", err)
	}
	return digest, ok, nil
}

// ReplaceOTP writes a fresh record and clears any attempt counter in one batch.
func (c *OTPCache) ReplaceOTP(ctx context.Context, identifier, digest string, ttl time.Duration) error {
	recordKey := c.recordKey(identifier)
	attemptsKey := recordKey + attemptSuffix

	err := c.store.Atomic(ctx, func(b store.Batch) {
		b.Set(recordKey, digest, ttl)
		b.Del(attemptsKey)
	})
	if err != nil {
		return fmt.Errorf("failed to set OTP in cache: %w", err)
	}

	util.Debug("OTP cached", util.Duration("ttl", ttl))
	return nil
}

// ClearOTP removes record, counter and block flag in one batch.
func (c *OTPCache) ClearOTP(ctx context.Context, identifier string) error {
	recordKey := c.recordKey(identifier)

	err := c.store.Atomic(ctx, func(b store.Batch) {
		b.Del(recordKey, recordKey+attemptSuffix, recordKey+blockedSuffix)
	})
	if err != nil {
		return fmt.Errorf("failed to clear OTP state: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the failure counter. The first failure aligns the
// counter's expiry to the record's remaining lifetime.
func (c *OTPCache) IncrementAttempts(ctx context.Context, identifier string) (int64, error) {
	key := c.attemptsKey(identifier)

	count, err := c.store.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}

	if count == 1 {
		ttl, err := c.OTPTTL(ctx, identifier)
		if err != nil {
			return 0, err
		}
		if ttl <= 0 {
			// the record is gone or never expires; a counter must not outlive it
			if err := c.store.Del(ctx, key); err != nil {
				return 0, fmt.Errorf("failed to drop orphaned OTP attempts: %w", err)
			}
			return count, nil
		}
		if err := c.store.Expire(ctx, key, ttl); err != nil {
			return 0, fmt.Errorf("failed to align OTP attempts TTL: %w", err)
		}
	}

	return count, nil
}

// AttemptCount returns the current failure count, 0 when absent.
func (c *OTPCache) AttemptCount(ctx context.Context, identifier string) (int64, error) {
	val, ok, err := c.store.Get(ctx, c.attemptsKey(identifier))
	if err != nil {
		return 0, fmt.Errorf("failed to get OTP attempt count: %w", err)
	}
	if !ok {
		return 0, nil
	}
	var n int64
	if _, err := fmt.Sscan(val, &n); err != nil {
		return 0, fmt.Errorf("invalid attempt count format: %w", err)
	}
	return n, nil
}

// Block sets the block flag for ttl.
func (c *OTPCache) Block(ctx context.Context, identifier string, ttl time.Duration) error {
	if err := c.store.Set(ctx, c.blockedKey(identifier), blockedValue, ttl); err != nil {
		return fmt.Errorf("failed to set OTP block: %w", err)
	}
	return nil
}

// BlockedTTL returns the remaining block time, 0 when not blocked.
func (c *OTPCache) BlockedTTL(ctx context.Context, identifier string) (time.Duration, error) {
	ttl, err := c.store.TTL(ctx, c.blockedKey(identifier))
	if err != nil {
		return 0, fmt.Errorf("failed to check OTP block: %w", err)
	}
	return ttl, nil
}
