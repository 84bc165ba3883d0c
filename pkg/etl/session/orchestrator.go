// Package session orchestrates a migration session: it runs the selected
// transformers sequentially through the lifecycle, isolates per-transformer
// failures, persists one outcome record per run and aggregates the session
// summary the CLI reports from.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/kurobane/migrata/pkg/etl/core/metrics"
	"github.com/kurobane/migrata/pkg/etl/infrastructure/repository/outcome"
	"github.com/kurobane/migrata/pkg/etl/transformer"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

// RunReport pairs one transformer's result with the error that failed it, if
// any.
type RunReport struct {
	TransformerName string
	Result          *transformer.RunResult
	Err             error
}

// Summary aggregates a whole session.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Reports    []RunReport
	Succeeded  int
	Failed     int
}

// ExitCode derives the process exit status: 0 when every transformer
// completed, 1 otherwise.
func (s *Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// Duration returns the session wall-clock time.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Orchestrator runs migration sessions. The outcome repository may be nil
// when persistence is not configured; persist failures never fail a session.
type Orchestrator struct {
	registry  *transformer.Registry
	lifecycle *transformer.Lifecycle
	outcomes  outcome.Repository
	recorder  metrics.Recorder
	tracer    metrics.Tracer
	batchSize int
}

// NewOrchestrator assembles an Orchestrator. Recorder and tracer fall back to
// no-op implementations when nil.
func NewOrchestrator(registry *transformer.Registry, lifecycle *transformer.Lifecycle, outcomes outcome.Repository, recorder metrics.Recorder, tracer metrics.Tracer, batchSize int) *Orchestrator {
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoopTracer()
	}
	return &Orchestrator{
		registry:  registry,
		lifecycle: lifecycle,
		outcomes:  outcomes,
		recorder:  recorder,
		tracer:    tracer,
		batchSize: batchSize,
	}
}

// Run executes the named transformers in order. An empty selection runs every
// registered transformer. A failed transformer is recorded and the session
// continues with the next one; only an unknown name or context cancellation
// aborts the session up front.
func (o *Orchestrator) Run(ctx context.Context, only []string, opts transformer.Options) (*Summary, error) {
	names := only
	if len(names) == 0 {
		names = o.registry.Names()
	}
	// Resolve every name before running anything so a typo does not abort a
	// session halfway through.
	transformers := make([]transformer.Transformer, 0, len(names))
	for _, name := range names {
		t, err := o.registry.Get(name)
		if err != nil {
			return nil, err
		}
		transformers = append(transformers, t)
	}

	summary := &Summary{StartedAt: time.Now()}
	ctx, endSession := o.tracer.Start(ctx, "migration_session")
	var sessionErr error
	defer func() { endSession(sessionErr) }()

	logger.Infof("Starting migration session with %d transformers (dry run: %v).", len(transformers), opts.DryRun)

	for _, t := range transformers {
		if err := ctx.Err(); err != nil {
			sessionErr = err
			summary.FinishedAt = time.Now()
			return summary, fmt.Errorf("session aborted: %w", err)
		}
		report := o.runOne(ctx, t, opts)
		summary.Reports = append(summary.Reports, report)
		if report.Err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}

	summary.FinishedAt = time.Now()
	logger.Infof("Migration session finished in %.2fs: %d succeeded, %d failed.",
		summary.Duration().Seconds(), summary.Succeeded, summary.Failed)
	return summary, nil
}

// runOne executes one transformer and records its measurements and outcome.
// Its error is captured in the report, never propagated.
func (o *Orchestrator) runOne(ctx context.Context, t transformer.Transformer, opts transformer.Options) RunReport {
	logger.Infof("Running transformer '%s'.", t.Name())
	ctx, endSpan := o.tracer.Start(ctx, "run/"+t.Name())

	result, err := o.lifecycle.Execute(ctx, t, opts)
	endSpan(err)

	run := result.Run
	o.recorder.RunCompleted(t.Name(), run.Succeeded(), run.DryRun, run.Duration())
	o.recorder.RecordsProcessed(t.Name(), run.Stats["processed"])
	o.recorder.RecordsFailed(t.Name(), run.Stats["failed_records"])
	for i := 0; i < run.Stats["retried_batches"]; i++ {
		o.recorder.BatchRetried(t.Name())
	}
	if run.RollbackOK != nil {
		o.recorder.RollbackAttempted(t.Name(), *run.RollbackOK)
	}

	o.persist(ctx, result)

	if err != nil {
		logger.Errorf("Transformer '%s' failed: %v", t.Name(), err)
	} else {
		logger.Infof("Transformer '%s' completed successfully.", t.Name())
	}
	return RunReport{TransformerName: t.Name(), Result: result, Err: err}
}

// persist saves the run outcome. Persistence problems are warned about and
// otherwise ignored; the migration result stands on its own.
func (o *Orchestrator) persist(ctx context.Context, result *transformer.RunResult) {
	if o.outcomes == nil {
		return
	}
	rec := outcome.FromRunResult(result, o.batchSize)
	if err := o.outcomes.Save(ctx, rec); err != nil {
		logger.Warnf("Could not persist outcome of run '%s': %v", result.Run.ID, err)
	}
}
