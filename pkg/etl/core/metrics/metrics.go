// Package metrics defines the instrumentation interfaces the engine emits
// through. Implementations live under infrastructure/metrics; the no-op
// variants here are used when monitoring is disabled.
package metrics

import (
	"context"
	"time"
)

// Recorder receives engine-level measurements. Implementations must be safe
// for concurrent use.
type Recorder interface {
	// RunCompleted records the end of one transformer run.
	RunCompleted(transformerName string, success, dryRun bool, duration time.Duration)
	// RecordsProcessed adds to the processed record counter.
	RecordsProcessed(transformerName string, count int)
	// RecordsFailed adds to the failed record counter.
	RecordsFailed(transformerName string, count int)
	// BatchRetried counts one batch that needed more than one attempt.
	BatchRetried(transformerName string)
	// RollbackAttempted records a rollback attempt and its outcome.
	RollbackAttempted(transformerName string, ok bool)
}

// EndSpan finishes a span. A non-nil error marks the span as failed.
type EndSpan func(err error)

// Tracer starts spans around session and run scopes.
type Tracer interface {
	// Start opens a span named name under the context's current span.
	Start(ctx context.Context, name string) (context.Context, EndSpan)
	// Shutdown flushes pending spans.
	Shutdown(ctx context.Context) error
}

type noopRecorder struct{}

func (noopRecorder) RunCompleted(string, bool, bool, time.Duration) {}
func (noopRecorder) RecordsProcessed(string, int)                  {}
func (noopRecorder) RecordsFailed(string, int)                     {}
func (noopRecorder) BatchRetried(string)                           {}
func (noopRecorder) RollbackAttempted(string, bool)                {}

// NewNoopRecorder returns a Recorder that discards all measurements.
func NewNoopRecorder() Recorder { return noopRecorder{} }

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, EndSpan) {
	return ctx, func(error) {}
}

func (noopTracer) Shutdown(context.Context) error { return nil }

// NewNoopTracer returns a Tracer that produces no spans.
func NewNoopTracer() Tracer { return noopTracer{} }
