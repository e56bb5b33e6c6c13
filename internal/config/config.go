package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of the service
type Config struct {
	Environment string
	AppName     string

	Server    ServerConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	OTP       OTPConfig
	RateLimit RateLimitConfig
	Delivery  DeliveryConfig
	Mail      MailConfig
	Kafka     KafkaConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string

	EnableTLS   bool
	AutoCert    bool
	TLSPort     int
	Domain      string
	CertFile    string
	KeyFile     string
	AutoCertDir string
	Email       string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int

	// Optional material for rediss:// endpoints that need a private CA or mTLS
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// OTPConfig holds the lifecycle thresholds and hashing parameters
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	BlockTTL    time.Duration
	HashKeys    bool
	Pepper      string

	Argon2MemoryKB    uint32
	Argon2Iterations  uint32
	Argon2Parallelism uint8
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type DeliveryConfig struct {
	Mode        string
	Timeout     time.Duration
	MaxAttempts int
}

type MailConfig struct {
	From         string
	Subject      string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

type KafkaConfig struct {
	Brokers  []string
	OTPTopic string
}

type TelemetryConfig struct {
	Enabled         bool
	OTLPEndpoint    string
	Insecure        bool
	MetricsInterval time.Duration
}

const (
	DeliveryModeLog   = "log"
	DeliveryModeSMTP  = "smtp"
	DeliveryModeKafka = "kafka"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// LoadConfig reads an optional .env file and then the process environment
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = getEnv("UPSTASH_REDIS_URL_TCP", "redis://localhost:6379")
	}

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		AppName:     getEnv("APP_NAME", "OTP API"),
		Server: ServerConfig{
			Host:           getEnv("HOST", "0.0.0.0"),
			Port:           getEnvInt("PORT", 3000),
			ReadTimeout:    getEnvSeconds("SERVER_READ_TIMEOUT_SEC", 10),
			WriteTimeout:   getEnvSeconds("SERVER_WRITE_TIMEOUT_SEC", 15),
			IdleTimeout:    getEnvSeconds("SERVER_IDLE_TIMEOUT_SEC", 60),
			AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			EnableTLS:      getEnvBool("TLS_ENABLED", false),
			AutoCert:       getEnvBool("TLS_AUTOCERT", false),
			TLSPort:        getEnvInt("TLS_PORT", 3443),
			Domain:         getEnv("TLS_DOMAIN", ""),
			CertFile:       getEnv("TLS_CERT_FILE", ""),
			KeyFile:        getEnv("TLS_KEY_FILE", ""),
			AutoCertDir:    getEnv("TLS_AUTOCERT_DIR", "./certs"),
			Email:          getEnv("TLS_EMAIL", ""),
		},
		Redis: RedisConfig{
			URL:      redisURL,
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),

			TLSCAFile:   getEnv("REDIS_TLS_CA_FILE", ""),
			TLSCertFile: getEnv("REDIS_TLS_CERT_FILE", ""),
			TLSKeyFile:  getEnv("REDIS_TLS_KEY_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		OTP: OTPConfig{
			TTL:               getEnvSeconds("OTP_TTL_SEC", 300),
			MaxAttempts:       getEnvInt("OTP_MAX_ATTEMPTS", 5),
			BlockTTL:          getEnvSeconds("OTP_BLOCK_TTL_SEC", 900),
			HashKeys:          getEnvBool("OTP_HASH_KEYS", false),
			Pepper:            getEnv("OTP_HASH_PEPPER", ""),
			Argon2MemoryKB:    uint32(getEnvInt("ARGON2_MEMORY_KB", 19456)),
			Argon2Iterations:  uint32(getEnvInt("ARGON2_ITERATIONS", 2)),
			Argon2Parallelism: uint8(getEnvInt("ARGON2_PARALLELISM", 1)),
		},
		RateLimit: RateLimitConfig{
			Limit:  getEnvInt("RATE_LIMIT_PER_MINUTE", 3),
			Window: getEnvSeconds("RATE_LIMIT_WINDOW_SEC", 60),
		},
		Delivery: DeliveryConfig{
			Mode:        strings.ToLower(getEnv("DELIVERY_MODE", DeliveryModeLog)),
			Timeout:     getEnvSeconds("DELIVERY_TIMEOUT_SEC", 10),
			MaxAttempts: getEnvInt("DELIVERY_MAX_ATTEMPTS", 3),
		},
		Mail: MailConfig{
			From:         getEnv("MAIL_FROM", "OTP Service <onboarding@example.com>"),
			Subject:      getEnv("MAIL_SUBJECT", "Your verification code"),
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnvInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:  getEnvList("KAFKA_BROKERS", nil),
			OTPTopic: getEnv("KAFKA_OTP_TOPIC", "otp.delivery"),
		},
		Telemetry: TelemetryConfig{
			Enabled:         getEnvBool("OTEL_ENABLED", false),
			OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:        getEnvBool("OTEL_INSECURE", true),
			MetricsInterval: getEnvSeconds("OTEL_METRICS_INTERVAL_SEC", 15),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the core cannot work with
func (c *Config) Validate() error {
	var errs []error

	if c.OTP.TTL <= 0 {
		errs = append(errs, fmt.Errorf("OTP_TTL_SEC must be positive"))
	}
	if c.OTP.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("OTP_MAX_ATTEMPTS must be positive"))
	}
	if c.OTP.BlockTTL <= 0 {
		errs = append(errs, fmt.Errorf("OTP_BLOCK_TTL_SEC must be positive"))
	}
	if c.RateLimit.Limit <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if c.RateLimit.Window < time.Second {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW_SEC must be at least 1"))
	}
	if c.OTP.Argon2MemoryKB == 0 || c.OTP.Argon2Iterations == 0 || c.OTP.Argon2Parallelism == 0 {
		errs = append(errs, fmt.Errorf("argon2 parameters must be positive"))
	}

	switch c.Delivery.Mode {
	case DeliveryModeLog:
	case DeliveryModeSMTP:
		if c.Mail.SMTPHost == "" {
			errs = append(errs, fmt.Errorf("SMTP_HOST is required when DELIVERY_MODE=smtp"))
		}
	case DeliveryModeKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required when DELIVERY_MODE=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DELIVERY_MODE %q", c.Delivery.Mode))
	}
	if c.Delivery.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be positive"))
	}

	if c.Server.EnableTLS && c.Server.AutoCert && c.Server.Domain == "" {
		errs = append(errs, fmt.Errorf("TLS_DOMAIN is required when TLS_AUTOCERT=true"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GetServerAddress returns the plain HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
