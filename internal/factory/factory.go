package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"otp-service/internal/bucketing"
	"otp-service/internal/client"
	"otp-service/internal/clock"
	"otp-service/internal/config"
	"otp-service/internal/handler"
	"otp-service/internal/hashing"
	"otp-service/internal/metrics"
	"otp-service/internal/notifier"
	"otp-service/internal/service"
	"otp-service/internal/store"
	"otp-service/internal/tls"
	"otp-service/internal/util"

	"go.uber.org/zap"
)

const (
	initTimeout = 30 * time.Second

	hashBenchmarkRounds = 3
	slowHashThreshold   = 250 * time.Millisecond
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	clock      clock.Clocker
	tlsManager *tls.TLSManager

	// Clients
	redisClient   *client.RedisClient
	kafkaProducer *client.KafkaProducer

	store            store.Store
	hasher           *hashing.Hasher
	bucketingManager *bucketing.BucketingManager
	notifier         notifier.Notifier
	metrics          *metrics.Metrics

	serviceFactory *service.ServiceFactory
	router         http.Handler

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	factory := &Factory{
		config: cfg,
		logger: logger,
		clock:  clock.New(),
	}

	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	if cfg.Server.EnableTLS {
		manager, err := tls.NewTLSManager(cfg.Server, cfg.IsProduction(), logger.Named("tls"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize TLS: %w", err)
		}
		factory.tlsManager = manager
	}

	if err := factory.initializeClients(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	logger.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("delivery_mode", cfg.Delivery.Mode),
		util.Bool("telemetry_enabled", cfg.Telemetry.Enabled),
	)

	return factory, nil
}

// initializeClients connects the store and the optional Kafka producer
func (f *Factory) initializeClients(ctx context.Context) error {
	redisClient, err := client.NewRedisClient(ctx, f.config.Redis, f.logger.Named("redis"))
	switch {
	case err == nil:
		f.redisClient = redisClient
		f.store = store.NewRedis(redisClient.Client)
		f.logger.Info("Redis client initialized and healthy")
	case f.config.IsProduction():
		return fmt.Errorf("redis: %w", err)
	default:
		f.logger.Warn("Redis unavailable - falling back to in-memory store", util.ErrorField(err))
		f.store = store.NewMemory(f.clock)
	}

	if f.config.Delivery.Mode == config.DeliveryModeKafka {
		producer, err := client.NewKafkaProducer(f.config.Kafka, f.logger.Named("kafka"))
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		f.kafkaProducer = producer
		f.logger.Info("Kafka producer initialized", util.Strings("brokers", f.config.Kafka.Brokers))
	}

	return nil
}

// initializeManagers builds hashing, bucketing, delivery and metrics
func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(f.config.OTP)
	f.bucketingManager = bucketing.NewBucketingManager(f.config.OTP.HashKeys, f.clock)

	n, err := f.buildNotifier()
	if err != nil {
		return err
	}
	f.notifier = n

	m, err := metrics.New(ctx, f.config.Telemetry, "otp-service", f.config.Environment)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	f.metrics = m

	if f.config.OTP.Pepper == "" {
		f.logger.Warn("OTP_HASH_PEPPER is empty; digests are salted but unpeppered")
	}

	params := f.hasher.Params()
	hashCost := f.hasher.Benchmark(hashBenchmarkRounds)
	if hashCost > slowHashThreshold {
		f.logger.Warn("OTP hashing is slow for the configured argon2 parameters",
			util.Duration("hash_cost", hashCost),
			util.Duration("threshold", slowHashThreshold),
		)
	}

	f.logger.Info("Managers initialized successfully",
		util.Bool("hash_keys", f.config.OTP.HashKeys),
		util.Int("argon2_memory_kb", int(params.Memory)),
		util.Int("argon2_iterations", int(params.Iterations)),
		util.Int("argon2_parallelism", int(params.Parallelism)),
		util.Duration("hash_cost", hashCost),
	)
	return nil
}

func (f *Factory) buildNotifier() (notifier.Notifier, error) {
	var base notifier.Notifier

	switch f.config.Delivery.Mode {
	case config.DeliveryModeSMTP:
		sender, err := notifier.NewSMTPSender(f.config.Mail)
		if err != nil {
			return nil, fmt.Errorf("smtp: %w", err)
		}
		base = notifier.NewSMTP(sender, f.config.Mail, f.config.AppName)
	case config.DeliveryModeKafka:
		base = notifier.NewKafka(f.kafkaProducer, f.kafkaProducer.Topic(), f.clock)
	default:
		base = notifier.NewLog(f.logger.Named("delivery"), f.config.IsProduction())
	}

	if f.config.Delivery.MaxAttempts > 1 {
		return notifier.NewRetrying(base, f.config.Delivery.MaxAttempts), nil
	}
	return base, nil
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.store,
			f.hasher,
			f.bucketingManager,
			f.notifier,
			f.clock,
			f.config,
			f.logger,
		)
	}
	return f.serviceFactory
}

// Router returns the fully wired HTTP handler
func (f *Factory) Router() http.Handler {
	if f.router == nil {
		services := f.ServiceFactory()
		otpHandler := handler.NewOTPHandler(
			services.OTPService(),
			services.RateLimiter(),
			f.metrics,
			f.logger.Named("http"),
		)
		f.router = handler.NewRouter(otpHandler, f, f.metrics, f.config, f.logger)
	}
	return f.router
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else if err := f.store.Ping(ctx); err != nil {
		healthErrors["store"] = err
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// IsHealthy reports readiness. Kafka failures are logged but do not count.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	for component, err := range healthErrors {
		f.logger.Warn("Health check failed", util.String("component", component), util.ErrorField(err))
	}
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		f.logger.Info("Shutting down factory...")

		if f.metrics != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := f.metrics.Shutdown(ctx); err != nil {
				f.logger.Error("Failed to flush metrics", util.ErrorField(err))
			}
			cancel()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				f.logger.Info("Kafka producer closed")
			}
		}

		// the Redis store owns the client connection
		if f.store != nil {
			if err := f.store.Close(); err != nil {
				f.logger.Error("Failed to close store", util.ErrorField(err))
			} else {
				f.logger.Info("Store closed")
			}
		}

		f.logger.Info("Factory shutdown completed")
	})
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Store() store.Store {
	return f.store
}
