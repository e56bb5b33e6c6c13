package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"otp-service/internal/clock"
)

type memoryEntry struct {
	value      string
	expiration time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && !now.Before(e.expiration)
}

// Memory is an in-memory implementation of Store.
// Suitable for single-instance deployments, development and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	clock   clock.Clocker
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemory creates an in-memory store with periodic cleanup of expired entries.
// A nil clock uses the system time.
func NewMemory(clk clock.Clocker) *Memory {
	if clk == nil {
		clk = clock.New()
	}
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		clock:   clk,
		stopCh:  make(chan struct{}),
	}

	go m.cleanup()
	return m
}

// lookup returns the live entry for key, evicting it if expired. Caller holds mu.
func (m *Memory) lookup(key string, now time.Time) (*memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(now) {
		delete(m.entries, key)
		return nil, false
	}
	return entry, true
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key, m.clock.Now())
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set(key, value, ttl, m.clock.Now())
	return nil
}

func (m *Memory) set(key, value string, ttl time.Duration, now time.Time) {
	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiration = now.Add(ttl)
	}
	m.entries[key] = entry
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	entry, ok := m.lookup(key, now)
	if !ok || entry.expiration.IsZero() {
		return 0, nil
	}
	return entry.expiration.Sub(now), nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key, m.clock.Now())
	if !ok {
		m.entries[key] = &memoryEntry{value: "1"}
		return 1, nil
	}

	n, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expire(key, ttl, m.clock.Now())
	return nil
}

func (m *Memory) expire(key string, ttl time.Duration, now time.Time) {
	entry, ok := m.lookup(key, now)
	if !ok {
		return
	}
	if ttl <= 0 {
		// Redis deletes a key given a non-positive expiry
		delete(m.entries, key)
		return
	}
	entry.expiration = now.Add(ttl)
}

type memoryOp func(m *Memory, now time.Time)

type memoryBatch struct {
	ops []memoryOp
}

func (b *memoryBatch) Set(key, value string, ttl time.Duration) {
	b.ops = append(b.ops, func(m *Memory, now time.Time) { m.set(key, value, ttl, now) })
}

func (b *memoryBatch) Del(keys ...string) {
	b.ops = append(b.ops, func(m *Memory, _ time.Time) {
		for _, key := range keys {
			delete(m.entries, key)
		}
	})
}

func (b *memoryBatch) Expire(key string, ttl time.Duration) {
	b.ops = append(b.ops, func(m *Memory, now time.Time) { m.expire(key, ttl, now) })
}

// Atomic applies the queued writes under a single lock acquisition.
func (m *Memory) Atomic(ctx context.Context, fn func(b Batch)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := &memoryBatch{}
	fn(batch)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, op := range batch.ops {
		op(m, now)
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stopCh) })
	return nil
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := m.clock.Now()
			for key, entry := range m.entries {
				if entry.expired(now) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}
