// Package telemetry wires OpenTelemetry traces, metrics and logs for the payroll service.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when a metrics component is built without a meter.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

const (
	shutdownTimeout        = 10 * time.Second
	defaultMetricsInterval = time.Minute
)

// Config holds telemetry configuration shared by all providers.
type Config struct {
	Enabled           bool
	CollectorEndpoint string
	Insecure          bool
	SamplingRatio     float64
	ServiceName       string
	ServiceVersion    string
	Environment       string
	ExportLogs        bool
	MetricsInterval   time.Duration
}

// newResource describes this process: service identity and deployment
// environment, plus host and OTEL_RESOURCE_ATTRIBUTES detection. Detector
// failures only drop the attributes they would have added.
func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	env := cfg.Environment
	if env == "" {
		env = "development"
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironmentName(env),
		),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// stopProvider runs a provider's shutdown under shutdownTimeout
func stopProvider(ctx context.Context, signal string, logger *zap.Logger, shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("Telemetry provider shutdown failed", zap.String("signal", signal), zap.Error(err))
		return fmt.Errorf("failed to shutdown %s provider: %w", signal, err)
	}
	logger.Debug("Telemetry provider stopped", zap.String("signal", signal))
	return nil
}

// Providers bundles the three OpenTelemetry providers so callers can shut them down together.
type Providers struct {
	Tracer *TracerProvider
	Meter  *MeterProvider
	Logs   *LoggerProvider
}

// Setup initializes traces, metrics and, when ExportLogs is set, logs. A
// disabled config leaves the global no-op implementations in place.
func Setup(ctx context.Context, cfg Config, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Providers{}
	var err error
	if p.Tracer, err = NewTracerProvider(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if p.Meter, err = NewMeterProvider(ctx, cfg, logger); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	logsCfg := cfg
	logsCfg.Enabled = cfg.Enabled && cfg.ExportLogs
	if p.Logs, err = NewLoggerProvider(ctx, logsCfg, logger); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	return p, nil
}

// Shutdown flushes and stops every provider, returning the joined errors.
// Providers that were never created are skipped.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.Tracer.Shutdown(ctx),
		p.Meter.Shutdown(ctx),
		p.Logs.Shutdown(ctx),
	)
}
