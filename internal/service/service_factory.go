package service

import (
	"otp-service/internal/bucketing"
	"otp-service/internal/clock"
	"otp-service/internal/config"
	"otp-service/internal/hashing"
	"otp-service/internal/notifier"
	"otp-service/internal/repository/cache"
	"otp-service/internal/store"

	"go.uber.org/zap"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	store        store.Store
	hasher       hashing.SecretHasher
	bucketingMgr *bucketing.BucketingManager
	notifier     notifier.Notifier
	clock        clock.Clocker
	cfg          *config.Config
	logger       *zap.Logger

	otpService  *OTPService
	rateLimiter *RateLimiter
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	s store.Store,
	hasher hashing.SecretHasher,
	bucketingMgr *bucketing.BucketingManager,
	n notifier.Notifier,
	clk clock.Clocker,
	cfg *config.Config,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		store:        s,
		hasher:       hasher,
		bucketingMgr: bucketingMgr,
		notifier:     n,
		clock:        clk,
		cfg:          cfg,
		logger:       logger,
	}
}

// OTPService returns the OTP lifecycle service (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(
			cache.NewOTPCache(f.store, f.bucketingMgr),
			f.hasher,
			f.notifier,
			f.clock,
			OTPConfig{
				CodeTTL:         f.cfg.OTP.TTL,
				MaxAttempts:     f.cfg.OTP.MaxAttempts,
				BlockTTL:        f.cfg.OTP.BlockTTL,
				DeliveryTimeout: f.cfg.Delivery.Timeout,
			},
			f.logger.Named("otp"),
		)
	}
	return f.otpService
}

// RateLimiter returns the request rate limiter (singleton)
func (f *ServiceFactory) RateLimiter() *RateLimiter {
	if f.rateLimiter == nil {
		f.rateLimiter = NewRateLimiter(
			cache.NewRateLimitCache(f.store, f.bucketingMgr),
			RateLimitConfig{
				Limit:  f.cfg.RateLimit.Limit,
				Window: f.cfg.RateLimit.Window,
			},
			f.logger.Named("ratelimit"),
		)
	}
	return f.rateLimiter
}
