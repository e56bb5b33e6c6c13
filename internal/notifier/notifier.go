// Package notifier delivers freshly issued codes to their owners.
//
// Delivery is best effort: callers log failures and never roll back the
// issued code because of them.
package notifier

import (
	"context"
	"errors"
	"time"

	"otp-service/internal/model"
)

// ErrUnsupportedChannel is returned when a notifier cannot reach the channel.
var ErrUnsupportedChannel = errors.New("unsupported delivery channel")

// Delivery carries one plaintext code to its recipient.
type Delivery struct {
	Identifier string
	Channel    model.Channel
	Code       string
	ExpiresAt  time.Time
}

// Notifier sends a Delivery over some transport.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, d Delivery) error

func (f Func) Deliver(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}
