package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"otp-service/internal/clock"
	"otp-service/internal/hashing"
	"otp-service/internal/model"
	"otp-service/internal/notifier"
	"otp-service/internal/repository/cache"

	"go.uber.org/zap"
)

var (
	ErrStoreUnavailable = errors.New("otp store unavailable")
	ErrHashFailure      = errors.New("otp hashing failed")
)

const (
	codeMin   = 100000
	codeRange = 899999 // codes fall in [100000, 999999)
)

// VerifyStatus is the domain outcome of a verification attempt
type VerifyStatus string

const (
	VerifyOK      VerifyStatus = "ok"
	VerifyInvalid VerifyStatus = "invalid"
	VerifyExpired VerifyStatus = "expired"
	VerifyBlocked VerifyStatus = "blocked"
)

// GenerateResult reports whether a new code was issued. When a live code
// already exists, Issued is false and TTL is its remaining lifetime.
type GenerateResult struct {
	Issued bool
	TTL    time.Duration
}

// OTPConfig holds the lifecycle thresholds
type OTPConfig struct {
	CodeTTL         time.Duration
	MaxAttempts     int
	BlockTTL        time.Duration
	DeliveryTimeout time.Duration
}

// OTPService runs the issue/verify state machine over the expiring store
type OTPService struct {
	cache    *cache.OTPCache
	hasher   hashing.SecretHasher
	notifier notifier.Notifier
	clock    clock.Clocker
	cfg      OTPConfig
	logger   *zap.Logger
}

func NewOTPService(
	otpCache *cache.OTPCache,
	hasher hashing.SecretHasher,
	n notifier.Notifier,
	clk clock.Clocker,
	cfg OTPConfig,
	logger *zap.Logger,
) *OTPService {
	if clk == nil {
		clk = clock.New()
	}
	return &OTPService{
		cache:    otpCache,
		hasher:   hasher,
		notifier: n,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
	}
}

// Generate issues a code for identifier unless a live one exists.
// It does not consult the block flag.
func (s *OTPService) Generate(ctx context.Context, identifier string, channel model.Channel) (GenerateResult, error) {
	s.logger.Debug("OTP generate start", zap.String("op", "otp:generate:start"), zap.String("identifier", identifier), zap.String("channel", string(channel)))

	remaining, err := s.cache.OTPTTL(ctx, identifier)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if remaining > 0 {
		s.logger.Info("OTP resend suppressed",
			zap.String("op", "otp:resend_suppressed"),
			zap.String("identifier", identifier),
			zap.String("channel", string(channel)),
			zap.Int64("ttl", int64(remaining/time.Second)))
		return GenerateResult{Issued: false, TTL: remaining}, nil
	}

	code, err := generateCode()
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %w", ErrHashFailure, err)
	}

	digest, err := s.hasher.Hash(code)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %w", ErrHashFailure, err)
	}

	expiresAt := s.clock.Now().Add(s.cfg.CodeTTL)
	if err := s.cache.ReplaceOTP(ctx, identifier, digest, s.cfg.CodeTTL); err != nil {
		return GenerateResult{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.deliver(ctx, notifier.Delivery{
		Identifier: identifier,
		Channel:    channel,
		Code:       code,
		ExpiresAt:  expiresAt,
	})

	return GenerateResult{Issued: true}, nil
}

// deliver never fails the issuance; it outlives request cancellation but is
// bounded by the delivery timeout.
func (s *OTPService) deliver(ctx context.Context, d notifier.Delivery) {
	if s.notifier == nil {
		return
	}

	dctx := context.WithoutCancel(ctx)
	if s.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(dctx, s.cfg.DeliveryTimeout)
		defer cancel()
	}

	if err := s.notifier.Deliver(dctx, d); err != nil {
		s.logger.Error("OTP delivery failed",
			zap.String("op", "otp:delivery_error"),
			zap.String("identifier", d.Identifier),
			zap.String("channel", string(d.Channel)),
			zap.Error(err))
		return
	}

	s.logger.Info("OTP delivered",
		zap.String("op", "otp:delivered"),
		zap.String("identifier", d.Identifier),
		zap.String("channel", string(d.Channel)),
		zap.Int64("ttl", int64(s.cfg.CodeTTL/time.Second)))
}

// Verify checks code against the live record, counting failures and
// blocking the identifier once MaxAttempts is reached.
func (s *OTPService) Verify(ctx context.Context, identifier, code string) (VerifyStatus, error) {
	s.logger.Debug("OTP verify start", zap.String("op", "otp:verify:start"), zap.String("identifier", identifier))

	blockedTTL, err := s.cache.BlockedTTL(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if blockedTTL > 0 {
		s.logger.Warn("OTP blocked",
			zap.String("op", "otp:blocked"),
			zap.String("identifier", identifier),
			zap.Int64("blocked_ttl", int64(blockedTTL/time.Second)))
		return VerifyBlocked, nil
	}

	digest, ok, err := s.cache.GetOTP(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		s.logger.Warn("OTP expired", zap.String("op", "otp:expired"), zap.String("identifier", identifier))
		return VerifyExpired, nil
	}

	if s.hasher.Verify(digest, code) {
		if err := s.cache.ClearOTP(ctx, identifier); err != nil {
			return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		s.logger.Info("OTP verified", zap.String("op", "otp:verified_ok"), zap.String("identifier", identifier))
		return VerifyOK, nil
	}

	attempts, err := s.cache.IncrementAttempts(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.logger.Warn("OTP invalid attempt",
		zap.String("op", "otp:invalid_attempt"),
		zap.String("identifier", identifier),
		zap.Int64("attempts", attempts))

	if attempts >= int64(s.cfg.MaxAttempts) {
		if err := s.cache.Block(ctx, identifier, s.cfg.BlockTTL); err != nil {
			return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		s.logger.Warn("OTP blocked now",
			zap.String("op", "otp:blocked_now"),
			zap.String("identifier", identifier),
			zap.Int64("block_ttl", int64(s.cfg.BlockTTL/time.Second)))
		return VerifyBlocked, nil
	}

	return VerifyInvalid, nil
}

// generateCode returns a uniformly random six digit code without a leading zero.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%d", codeMin+n.Int64()), nil
}
