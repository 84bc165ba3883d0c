// Package metrics holds the concrete instrumentation backends: a Prometheus
// recorder with its exposition endpoint and an OTLP trace exporter.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kurobane/migrata/pkg/etl/core/config"
	coremetrics "github.com/kurobane/migrata/pkg/etl/core/metrics"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

// PrometheusRecorder is the Prometheus implementation of the engine's
// Recorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	runDurationSeconds *prometheus.HistogramVec
	runStatusCounter   *prometheus.CounterVec
	recordsProcessed   *prometheus.CounterVec
	recordsFailed      *prometheus.CounterVec
	batchRetries       *prometheus.CounterVec
	rollbacks          *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with its own registry, including
// the standard Go and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migrata_run_duration_seconds",
			Help:    "Duration of transformer runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"transformer", "status", "dry_run"}),
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrata_runs_total",
			Help: "Total number of transformer runs by status.",
		}, []string{"transformer", "status"}),
		recordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrata_records_processed_total",
			Help: "Total records attempted across all batches.",
		}, []string{"transformer"}),
		recordsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrata_records_failed_total",
			Help: "Total records in batches that exhausted their attempts.",
		}, []string{"transformer"}),
		batchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrata_batch_retries_total",
			Help: "Total batches that succeeded only after a retry.",
		}, []string{"transformer"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrata_rollbacks_total",
			Help: "Total rollback attempts by outcome.",
		}, []string{"transformer", "outcome"}),
	}

	registry.MustRegister(r.runDurationSeconds)
	registry.MustRegister(r.runStatusCounter)
	registry.MustRegister(r.recordsProcessed)
	registry.MustRegister(r.recordsFailed)
	registry.MustRegister(r.batchRetries)
	registry.MustRegister(r.rollbacks)

	return r
}

// Registry returns the underlying Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// RunCompleted implements coremetrics.Recorder.
func (r *PrometheusRecorder) RunCompleted(transformerName string, success, dryRun bool, duration time.Duration) {
	status := "failed"
	if success {
		status = "completed"
	}
	r.runStatusCounter.WithLabelValues(transformerName, status).Inc()
	r.runDurationSeconds.WithLabelValues(transformerName, status, strconv.FormatBool(dryRun)).Observe(duration.Seconds())
	logger.Debugf("Metrics: Run of '%s' ended with status %s. Duration: %.3fs", transformerName, status, duration.Seconds())
}

// RecordsProcessed implements coremetrics.Recorder.
func (r *PrometheusRecorder) RecordsProcessed(transformerName string, count int) {
	if count > 0 {
		r.recordsProcessed.WithLabelValues(transformerName).Add(float64(count))
	}
}

// RecordsFailed implements coremetrics.Recorder.
func (r *PrometheusRecorder) RecordsFailed(transformerName string, count int) {
	if count > 0 {
		r.recordsFailed.WithLabelValues(transformerName).Add(float64(count))
	}
}

// BatchRetried implements coremetrics.Recorder.
func (r *PrometheusRecorder) BatchRetried(transformerName string) {
	r.batchRetries.WithLabelValues(transformerName).Inc()
}

// RollbackAttempted implements coremetrics.Recorder.
func (r *PrometheusRecorder) RollbackAttempted(transformerName string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "succeeded"
	}
	r.rollbacks.WithLabelValues(transformerName, outcome).Inc()
}

var _ coremetrics.Recorder = (*PrometheusRecorder)(nil)

// StartMetricsServer serves the /metrics exposition endpoint in a background
// goroutine and returns the server for shutdown. A disabled config returns
// nil.
func StartMetricsServer(cfg config.MetricsConfig, r *PrometheusRecorder) *http.Server {
	if !cfg.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.ListenAddress, Handler: mux}

	go func() {
		logger.Infof("Serving metrics on %s/metrics.", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	return srv
}

// StopMetricsServer shuts the exposition endpoint down. A nil server is a
// no-op.
func StopMetricsServer(ctx context.Context, srv *http.Server) {
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnf("Metrics server shutdown failed: %v", err)
	}
}
