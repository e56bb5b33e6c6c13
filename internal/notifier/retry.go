package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

const defaultRetryStep = 300 * time.Millisecond

// Retrying re-attempts a failed delivery with a linearly growing pause
// (step, 2*step, ...). Unsupported channels are not retried.
type Retrying struct {
	next        Notifier
	maxAttempts int
	step        time.Duration
}

func NewRetrying(next Notifier, maxAttempts int) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrying{next: next, maxAttempts: maxAttempts, step: defaultRetryStep}
}

// WithStep overrides the backoff step.
func (r *Retrying) WithStep(step time.Duration) *Retrying {
	r.step = step
	return r
}

func (r *Retrying) Deliver(ctx context.Context, d Delivery) error {
	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		err := r.next.Deliver(ctx, d)
		if err == nil || errors.Is(err, ErrUnsupportedChannel) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (r *Retrying) backoff() retry.Backoff {
	var attempt int64
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * r.step, false
	})
	return retry.WithMaxRetries(uint64(r.maxAttempts-1), b)
}
