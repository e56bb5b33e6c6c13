// Package store defines the expiring key-value contract the OTP core runs on,
// with a Redis implementation and an in-memory one for tests and local runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotInteger is returned by Incr when the key holds a non-numeric value.
var ErrNotInteger = errors.New("value is not an integer")

// Store is an expiring key-value store. Implementations must be safe for
// concurrent use and apply each Atomic batch with no partial visibility.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value with the given ttl; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// TTL returns the remaining time to live, or 0 when the key is missing
	// or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del removes the keys; missing keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// Incr atomically increments the integer at key, creating it at 1.
	// An existing expiry is preserved.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the ttl of an existing key; missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Atomic applies every write queued by fn as one unit.
	Atomic(ctx context.Context, fn func(b Batch)) error

	Ping(ctx context.Context) error
	Close() error
}

// Batch queues writes for Store.Atomic.
type Batch interface {
	Set(key, value string, ttl time.Duration)
	Del(keys ...string)
	Expire(key string, ttl time.Duration)
}
