// Package metrics exposes the service counters through OpenTelemetry.
// With telemetry disabled every instrument is a noop.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"otp-service/internal/config"
)

const meterName = "otp-service"

type Metrics struct {
	otpRequests   metric.Int64Counter
	verifyOK      metric.Int64Counter
	verifyFail    metric.Int64Counter
	rateLimitHits metric.Int64Counter
	httpDuration  metric.Float64Histogram

	shutdown func(ctx context.Context) error
}

// New builds an OTLP/gRPC backed provider, or noop instruments when disabled.
func New(ctx context.Context, cfg config.TelemetryConfig, serviceName, environment string) (*Metrics, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("env", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricsInterval))),
	)

	m, err := NewWithMeter(mp.Meter(meterName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	m.shutdown = mp.Shutdown
	return m, nil
}

// NewNoop returns instruments that record nothing.
func NewNoop() *Metrics {
	m, _ := NewWithMeter(metricnoop.NewMeterProvider().Meter(meterName))
	return m
}

// NewWithMeter creates the instruments on meter.
func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	var (
		m   = &Metrics{shutdown: func(context.Context) error { return nil }}
		err error
	)

	if m.otpRequests, err = meter.Int64Counter("otp_requests_total",
		metric.WithDescription("OTP issue requests that passed rate limiting")); err != nil {
		return nil, fmt.Errorf("create otp_requests_total: %w", err)
	}
	if m.verifyOK, err = meter.Int64Counter("otp_verify_ok_total",
		metric.WithDescription("Successful OTP verifications")); err != nil {
		return nil, fmt.Errorf("create otp_verify_ok_total: %w", err)
	}
	if m.verifyFail, err = meter.Int64Counter("otp_verify_fail_total",
		metric.WithDescription("Failed OTP verifications by reason")); err != nil {
		return nil, fmt.Errorf("create otp_verify_fail_total: %w", err)
	}
	if m.rateLimitHits, err = meter.Int64Counter("rate_limit_hits_total",
		metric.WithDescription("Requests rejected by the rate limiter")); err != nil {
		return nil, fmt.Errorf("create rate_limit_hits_total: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5)); err != nil {
		return nil, fmt.Errorf("create http_request_duration_seconds: %w", err)
	}

	return m, nil
}

func (m *Metrics) IncOTPRequest(ctx context.Context) {
	m.otpRequests.Add(ctx, 1)
}

func (m *Metrics) IncVerifyOK(ctx context.Context) {
	m.verifyOK.Add(ctx, 1)
}

func (m *Metrics) IncVerifyFail(ctx context.Context, reason string) {
	m.verifyFail.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) IncRateLimitHit(ctx context.Context) {
	m.rateLimitHits.Add(ctx, 1)
}

func (m *Metrics) ObserveHTTP(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	m.httpDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status_code", status),
	))
}

// Shutdown flushes pending exports.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.shutdown(ctx)
}
