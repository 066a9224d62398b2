package tracer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"

	"tutorchat/internal/config"
)

const serviceName = "tutorchat"

// Init installs an OTLP/HTTP tracer provider when tracing is enabled.
// The returned shutdown function flushes pending spans and is always non-nil.
func Init(ctx context.Context, cfg config.TelemetryConfig, log *zap.Logger) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !cfg.TracingEnabled {
		log.Info("tracing disabled")
		return noop
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		log.Warn("create otlp exporter, tracing disabled", zap.Error(err))
		return noop
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	log.Info("tracing enabled", zap.String("endpoint", endpoint))
	return tp.Shutdown
}
