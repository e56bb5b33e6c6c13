package service

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func TestRateLimiterAdmit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		key := testIdentifier + ":203.0.113.7"

		for i := 1; i <= 3; i++ {
			ok, err := f.limiter.Admit(ctx, key)
			if err != nil {
				t.Fatalf("Admit error: %v", err)
			}
			if !ok {
				t.Fatalf("call %d rejected, want admitted", i)
			}
		}
		for i := 0; i < 2; i++ {
			if ok, _ := f.limiter.Admit(ctx, key); ok {
				t.Fatal("call over the limit admitted")
			}
		}

		// other keys have their own budget
		if ok, _ := f.limiter.Admit(ctx, testIdentifier+":198.51.100.1"); !ok {
			t.Fatal("independent key rejected")
		}

		// new window, new budget
		f.advance(time.Minute)
		if ok, _ := f.limiter.Admit(ctx, key); !ok {
			t.Fatal("first call of the next window rejected")
		}
	})
}

func TestRateLimiterWindowBoundary(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	// last second of a window
	f.advance(59 * time.Second)
	for i := 0; i < 3; i++ {
		_, _ = f.limiter.Admit(ctx, "k")
	}
	if ok, _ := f.limiter.Admit(ctx, "k"); ok {
		t.Fatal("fourth call in the same window admitted")
	}

	// fixed windows reset at the boundary, not one window after the first hit
	f.advance(time.Second)
	if ok, _ := f.limiter.Admit(ctx, "k"); !ok {
		t.Fatal("call in the next window rejected")
	}
}

func TestRateLimiterAdmitN(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		for i := 1; i <= 5; i++ {
			ok, err := f.limiter.AdmitN(ctx, "bulk", 5, 10*time.Second)
			if err != nil || !ok {
				t.Fatalf("AdmitN call %d = %v, %v", i, ok, err)
			}
		}
		if ok, _ := f.limiter.AdmitN(ctx, "bulk", 5, 10*time.Second); ok {
			t.Fatal("sixth call admitted")
		}

		bucket := "rl:bulk:" + strconv.FormatInt(testStart.Unix()/10, 10)
		ttl, err := f.store.TTL(ctx, bucket)
		if err != nil {
			t.Fatalf("TTL error: %v", err)
		}
		if ttl <= 0 || ttl > 10*time.Second {
			t.Fatalf("bucket ttl = %v, want (0, 10s]", ttl)
		}
	})
}
