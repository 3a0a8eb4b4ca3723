// Package obs wires structured logging and metrics through OpenTelemetry.
// Logs flow through a slog bridge so call sites use plain slog; exporters
// write to stdout, which is where operational tooling picks them up.
package obs

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationName = "rewardline"

var meter = otel.Meter(instrumentationName)

// Logger returns a slog.Logger bridged into the configured logger provider.
func Logger() *slog.Logger {
	return otelslog.NewLogger(instrumentationName)
}

// Setup installs stdout-backed logger and meter providers and returns a
// shutdown function that flushes both. Call it once per process; library
// code only uses Logger and the counters.
func Setup(ctx context.Context) (func(context.Context) error, error) {
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(instrumentationName))

	logExporter, err := stdoutlog.New()
	if err != nil {
		return nil, err
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	global.SetLoggerProvider(loggerProvider)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		_ = loggerProvider.Shutdown(ctx)
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(meterProvider)
	meter = otel.Meter(instrumentationName)

	return func(ctx context.Context) error {
		mErr := meterProvider.Shutdown(ctx)
		lErr := loggerProvider.Shutdown(ctx)
		if mErr != nil {
			return mErr
		}
		return lErr
	}, nil
}

// NewFloatCounter registers a monotonic counter on the process meter.
func NewFloatCounter(name, description, unit string) (metric.Float64Counter, error) {
	return meter.Float64Counter(name,
		metric.WithDescription(description),
		metric.WithUnit(unit))
}
