package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/kurobane/migrata/pkg/etl/core/config"
	coremetrics "github.com/kurobane/migrata/pkg/etl/core/metrics"
)

// Module provides the Prometheus recorder and the OTLP tracer to Fx.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(func(r *PrometheusRecorder) coremetrics.Recorder { return r }),
	fx.Provide(func(cfg *config.Config) (coremetrics.Tracer, error) {
		return NewOpenTelemetryTracer(context.Background(), cfg.Migrata.Tracing)
	}),
)
