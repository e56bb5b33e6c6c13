package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"otp-service/internal/bucketing"
	"otp-service/internal/clock"
	"otp-service/internal/config"
	"otp-service/internal/hashing"
	"otp-service/internal/model"
	"otp-service/internal/notifier"
	"otp-service/internal/repository/cache"
	"otp-service/internal/store"
)

const testIdentifier = "user@example.com"

// outbox records every delivery and can be told to fail.
type outbox struct {
	mu         sync.Mutex
	deliveries []notifier.Delivery
	err        error
	deadlines  []bool
}

func (o *outbox) Deliver(ctx context.Context, d notifier.Delivery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	o.deadlines = append(o.deadlines, hasDeadline)
	o.deliveries = append(o.deliveries, d)
	return o.err
}

func (o *outbox) last(t *testing.T) notifier.Delivery {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.deliveries) == 0 {
		t.Fatal("no delivery recorded")
	}
	return o.deliveries[len(o.deliveries)-1]
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.deliveries)
}

type fixture struct {
	store   store.Store
	otp     *OTPService
	limiter *RateLimiter
	outbox  *outbox
	clock   *clock.Fake
	advance func(d time.Duration)
	cfg     OTPConfig
}

var testOTPConfig = OTPConfig{
	CodeTTL:         300 * time.Second,
	MaxAttempts:     5,
	BlockTTL:        900 * time.Second,
	DeliveryTimeout: 5 * time.Second,
}

func testHasher() *hashing.Hasher {
	return hashing.NewHasher(config.OTPConfig{
		Pepper:            "test-pepper",
		Argon2MemoryKB:    1024,
		Argon2Iterations:  1,
		Argon2Parallelism: 1,
	})
}

func newFixture(t *testing.T, s store.Store, clk *clock.Fake, advance func(time.Duration)) *fixture {
	t.Helper()

	keys := bucketing.NewBucketingManager(false, clk)
	box := &outbox{}
	logger := zaptest.NewLogger(t)

	return &fixture{
		store:   s,
		otp:     NewOTPService(cache.NewOTPCache(s, keys), testHasher(), box, clk, testOTPConfig, logger),
		limiter: NewRateLimiter(cache.NewRateLimitCache(s, keys), RateLimitConfig{Limit: 3, Window: time.Minute}, logger),
		outbox:  box,
		clock:   clk,
		advance: advance,
		cfg:     testOTPConfig,
	}
}

// window-aligned start so rate limit tests do not straddle a boundary
var testStart = time.Unix(1_700_000_040, 0)

func newMemoryFixture(t *testing.T) *fixture {
	t.Helper()

	clk := clock.NewFake(testStart)
	mem := store.NewMemory(clk)
	t.Cleanup(func() { _ = mem.Close() })
	return newFixture(t, mem, clk, clk.Advance)
}

func newRedisFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedis(rdb)
	t.Cleanup(func() { _ = s.Close() })

	clk := clock.NewFake(testStart)
	return newFixture(t, s, clk, func(d time.Duration) {
		clk.Advance(d)
		mr.FastForward(d)
	})
}

func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryFixture(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisFixture(t)) })
}

func wrongCode(code string) string {
	if code == "999998" {
		return "999997"
	}
	return "999998"
}

func mustGenerate(t *testing.T, f *fixture) string {
	t.Helper()

	res, err := f.otp.Generate(context.Background(), testIdentifier, model.ChannelEmail)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !res.Issued {
		t.Fatalf("Generate did not issue: %+v", res)
	}
	return f.outbox.last(t).Code
}

func mustVerify(t *testing.T, f *fixture, code string, want VerifyStatus) {
	t.Helper()

	got, err := f.otp.Verify(context.Background(), testIdentifier, code)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if got != want {
		t.Fatalf("Verify(%s) = %s, want %s", code, got, want)
	}
}

func TestGenerateAndVerify(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		code := mustGenerate(t, f)

		d := f.outbox.last(t)
		if d.Identifier != testIdentifier || d.Channel != model.ChannelEmail {
			t.Errorf("unexpected delivery: %+v", d)
		}
		if !d.ExpiresAt.Equal(testStart.Add(f.cfg.CodeTTL)) {
			t.Errorf("ExpiresAt = %v", d.ExpiresAt)
		}

		mustVerify(t, f, code, VerifyOK)
		// single consume
		mustVerify(t, f, code, VerifyExpired)
	})
}

func TestGenerateCodeFormat(t *testing.T) {
	f := newMemoryFixture(t)
	pattern := regexp.MustCompile(`^[1-9][0-9]{5}$`)

	for i := 0; i < 20; i++ {
		code := mustGenerate(t, f)
		if !pattern.MatchString(code) {
			t.Fatalf("code %q is not six digits without a leading zero", code)
		}
		n, _ := strconv.Atoi(code)
		if n < 100000 || n >= 999999 {
			t.Fatalf("code %d out of range", n)
		}
		mustVerify(t, f, code, VerifyOK)
	}
}

func TestGenerateResendSuppressed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		first := mustGenerate(t, f)

		f.advance(100 * time.Second)
		res, err := f.otp.Generate(context.Background(), testIdentifier, model.ChannelEmail)
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if res.Issued {
			t.Fatal("expected resend to be suppressed")
		}
		if res.TTL != 200*time.Second {
			t.Fatalf("TTL = %v, want 200s", res.TTL)
		}
		if f.outbox.count() != 1 {
			t.Fatalf("deliveries = %d, want 1", f.outbox.count())
		}

		// the original code stays valid
		mustVerify(t, f, first, VerifyOK)
	})
}

func TestVerifyLockout(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		code := mustGenerate(t, f)
		bad := wrongCode(code)

		for i := 1; i < f.cfg.MaxAttempts; i++ {
			mustVerify(t, f, bad, VerifyInvalid)
		}
		mustVerify(t, f, bad, VerifyBlocked)

		// the correct code is refused while blocked
		mustVerify(t, f, code, VerifyBlocked)

		// record expires before the block does
		f.advance(f.cfg.CodeTTL + time.Second)
		mustVerify(t, f, code, VerifyBlocked)

		f.advance(f.cfg.BlockTTL)
		mustVerify(t, f, code, VerifyExpired)
	})
}

func TestVerifyExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		mustVerify(t, f, "123456", VerifyExpired)

		code := mustGenerate(t, f)
		f.advance(f.cfg.CodeTTL + time.Second)
		mustVerify(t, f, code, VerifyExpired)

		// a fresh code can be issued after expiry
		fresh := mustGenerate(t, f)
		mustVerify(t, f, fresh, VerifyOK)
	})
}

func TestRecordInFinalSecond(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		code := mustGenerate(t, f)

		f.advance(f.cfg.CodeTTL - 400*time.Millisecond)
		mustVerify(t, f, wrongCode(code), VerifyInvalid)

		attemptsTTL, err := f.store.TTL(ctx, "otp:"+testIdentifier+":attempts")
		if err != nil {
			t.Fatalf("TTL error: %v", err)
		}
		if attemptsTTL <= 0 || attemptsTTL > 400*time.Millisecond {
			t.Fatalf("attempts ttl = %v, want (0, 400ms]", attemptsTTL)
		}

		res, err := f.otp.Generate(ctx, testIdentifier, model.ChannelEmail)
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if res.Issued || res.TTL <= 0 {
			t.Fatalf("live record overwritten: %+v", res)
		}
		if f.outbox.count() != 1 {
			t.Fatalf("deliveries = %d, want 1", f.outbox.count())
		}
	})
}

func TestAttemptCounterBoundedByRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		code := mustGenerate(t, f)

		f.advance(120 * time.Second)
		mustVerify(t, f, wrongCode(code), VerifyInvalid)

		recordTTL, err := f.store.TTL(ctx, "otp:"+testIdentifier)
		if err != nil {
			t.Fatalf("TTL error: %v", err)
		}
		attemptsTTL, err := f.store.TTL(ctx, "otp:"+testIdentifier+":attempts")
		if err != nil {
			t.Fatalf("TTL error: %v", err)
		}
		if attemptsTTL <= 0 || attemptsTTL > recordTTL {
			t.Fatalf("attempts ttl %v must be in (0, %v]", attemptsTTL, recordTTL)
		}

		// counter disappears with the record
		f.advance(recordTTL + time.Second)
		if _, ok, _ := f.store.Get(ctx, "otp:"+testIdentifier+":attempts"); ok {
			t.Fatal("attempt counter outlived its record")
		}
	})
}

func TestVerifySuccessClearsState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		code := mustGenerate(t, f)

		mustVerify(t, f, wrongCode(code), VerifyInvalid)
		mustVerify(t, f, code, VerifyOK)

		for _, key := range []string{"otp:" + testIdentifier, "otp:" + testIdentifier + ":attempts", "otp:" + testIdentifier + ":blocked"} {
			if _, ok, _ := f.store.Get(ctx, key); ok {
				t.Errorf("key %s survived a successful verify", key)
			}
		}

		// next issuance starts with a fresh attempt budget
		next := mustGenerate(t, f)
		for i := 1; i < f.cfg.MaxAttempts; i++ {
			mustVerify(t, f, wrongCode(next), VerifyInvalid)
		}
		mustVerify(t, f, next, VerifyOK)
	})
}

func TestGenerateResetsAttempts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		code := mustGenerate(t, f)
		for i := 1; i < f.cfg.MaxAttempts; i++ {
			mustVerify(t, f, wrongCode(code), VerifyInvalid)
		}

		f.advance(f.cfg.CodeTTL + time.Second)
		next := mustGenerate(t, f)

		// one wrong attempt must not block: the counter was reset
		mustVerify(t, f, wrongCode(next), VerifyInvalid)
		mustVerify(t, f, next, VerifyOK)
	})
}

func TestGenerateIgnoresBlockFlag(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		code := mustGenerate(t, f)
		for i := 0; i < f.cfg.MaxAttempts; i++ {
			_, _ = f.otp.Verify(context.Background(), testIdentifier, wrongCode(code))
		}

		f.advance(f.cfg.CodeTTL + time.Second)
		next := mustGenerate(t, f)

		// issued, but verification stays blocked until the flag expires
		mustVerify(t, f, next, VerifyBlocked)
	})
}

func TestGenerateDeliveryFailure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.outbox.err = errors.New("smtp down")

		res, err := f.otp.Generate(context.Background(), testIdentifier, model.ChannelEmail)
		if err != nil {
			t.Fatalf("Generate must not fail on delivery error: %v", err)
		}
		if !res.Issued {
			t.Fatal("expected code to be issued despite delivery failure")
		}

		mustVerify(t, f, f.outbox.last(t).Code, VerifyOK)
	})
}

func TestGenerateDeliveryContext(t *testing.T) {
	f := newMemoryFixture(t)

	mustGenerate(t, f)
	if !f.outbox.deadlines[0] {
		t.Fatal("expected delivery to run under a timeout")
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	if err := f.store.Set(ctx, "otp:"+testIdentifier, "not-a-digest", time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	mustVerify(t, f, "123456", VerifyInvalid)
}

func TestStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := store.NewRedis(rdb)
	t.Cleanup(func() { _ = s.Close() })

	clk := clock.NewFake(testStart)
	f := newFixture(t, s, clk, clk.Advance)
	mr.Close()

	ctx := context.Background()
	if _, err := f.otp.Generate(ctx, testIdentifier, model.ChannelEmail); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Generate error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := f.otp.Verify(ctx, testIdentifier, "123456"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Verify error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := f.limiter.Admit(ctx, "k"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Admit error = %v, want ErrStoreUnavailable", err)
	}
	if f.outbox.count() != 0 {
		t.Fatal("nothing must be delivered when the store is down")
	}
}

type failingHasher struct{}

func (failingHasher) Hash(string) (string, error) { return "", errors.New("no entropy") }
func (failingHasher) Verify(string, string) bool  { return false }

func TestGenerateHashFailure(t *testing.T) {
	clk := clock.NewFake(testStart)
	mem := store.NewMemory(clk)
	t.Cleanup(func() { _ = mem.Close() })

	keys := bucketing.NewBucketingManager(false, clk)
	box := &outbox{}
	svc := NewOTPService(cache.NewOTPCache(mem, keys), failingHasher{}, box, clk, testOTPConfig, zaptest.NewLogger(t))

	_, err := svc.Generate(context.Background(), testIdentifier, model.ChannelEmail)
	if !errors.Is(err, ErrHashFailure) {
		t.Fatalf("Generate error = %v, want ErrHashFailure", err)
	}
	if _, ok, _ := mem.Get(context.Background(), "otp:"+testIdentifier); ok {
		t.Fatal("no record may be written when hashing fails")
	}
	if box.count() != 0 {
		t.Fatal("no delivery may happen when hashing fails")
	}
}

func TestConcurrentVerifyConsumesCode(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		code := mustGenerate(t, f)

		var wg sync.WaitGroup
		var mu sync.Mutex
		statuses := map[VerifyStatus]int{}
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				st, err := f.otp.Verify(context.Background(), testIdentifier, code)
				if err != nil {
					t.Errorf("Verify error: %v", err)
					return
				}
				mu.Lock()
				statuses[st]++
				mu.Unlock()
			}()
		}
		wg.Wait()

		if statuses[VerifyOK] < 1 {
			t.Fatalf("expected at least one success, got %v", statuses)
		}
		// after the dust settles the code is consumed
		mustVerify(t, f, code, VerifyExpired)
	})
}
