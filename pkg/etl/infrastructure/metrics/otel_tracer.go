package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/kurobane/migrata/pkg/etl/core/config"
	coremetrics "github.com/kurobane/migrata/pkg/etl/core/metrics"
	"github.com/kurobane/migrata/pkg/etl/support/exception"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

const tracerName = "github.com/kurobane/migrata"

// OpenTelemetryTracer exports session and run spans over OTLP.
type OpenTelemetryTracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOpenTelemetryTracer builds a tracer from the tracing configuration.
// With tracing disabled it returns the no-op tracer.
func NewOpenTelemetryTracer(ctx context.Context, cfg config.TracingConfig) (coremetrics.Tracer, error) {
	if !cfg.Enabled {
		return coremetrics.NewNoopTracer(), nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, exception.NewMigrationError("metrics", "failed to create trace exporter", err, false, false)
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	logger.Infof("Trace export enabled: %s exporter to %s (sample ratio %.2f).", cfg.Exporter, cfg.Endpoint, cfg.SampleRatio)
	return &OpenTelemetryTracer{
		provider: provider,
		tracer:   provider.Tracer(tracerName),
	}, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (*otlptrace.Exporter, error) {
	switch cfg.Exporter {
	case "grpc":
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	case "http":
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
}

// Start implements coremetrics.Tracer.
func (t *OpenTelemetryTracer) Start(ctx context.Context, name string) (context.Context, coremetrics.EndSpan) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Shutdown flushes pending spans and stops the exporter.
func (t *OpenTelemetryTracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

var _ coremetrics.Tracer = (*OpenTelemetryTracer)(nil)
