package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerProvider ships zap records to the collector next to the stdout output
type LoggerProvider struct {
	sdk     *sdklog.LoggerProvider
	logger  *zap.Logger
	service string
}

func NewLoggerProvider(ctx context.Context, cfg Config, logger *zap.Logger) (*LoggerProvider, error) {
	lp := &LoggerProvider{logger: logger, service: cfg.ServiceName}
	if !cfg.Enabled {
		return lp, nil
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP logs exporter: %w", err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	lp.sdk = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	global.SetLoggerProvider(lp.sdk)
	logger.Info("Log export enabled", zap.String("collector_endpoint", cfg.CollectorEndpoint))
	return lp, nil
}

func (lp *LoggerProvider) Shutdown(ctx context.Context) error {
	if lp == nil || lp.sdk == nil {
		return nil
	}
	return stopProvider(ctx, "log", lp.logger, lp.sdk.Shutdown)
}

func (lp *LoggerProvider) IsEnabled() bool {
	return lp != nil && lp.sdk != nil
}

// ZapCore returns a core that forwards entries at or above minLevel to the
// OTLP pipeline, for teeing next to the stdout core. Disabled providers
// return a no-op core.
func (lp *LoggerProvider) ZapCore(minLevel zapcore.Level) zapcore.Core {
	if !lp.IsEnabled() {
		return zapcore.NewNopCore()
	}
	return withMinLevel(otelzap.NewCore(lp.service, otelzap.WithLoggerProvider(lp.sdk)), minLevel)
}

// withMinLevel raises the floor of a core that accepts every level. A core
// that already filters above minLevel is returned unchanged.
func withMinLevel(core zapcore.Core, minLevel zapcore.Level) zapcore.Core {
	raised, err := zapcore.NewIncreaseLevelCore(core, minLevel)
	if err != nil {
		return core
	}
	return raised
}
