package transformer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kurobane/migrata/pkg/etl/adapter/store"
	"github.com/kurobane/migrata/pkg/etl/core/config"
	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/profiler"
	"github.com/kurobane/migrata/pkg/etl/snapshot"
	"github.com/kurobane/migrata/pkg/etl/validation"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

// RunResult is the full account of one transformer run: the bookkeeping
// record with its final status, statistics and failures, plus the profiler
// report collected during execution.
type RunResult struct {
	Run     *model.TransformerRun
	Profile *profiler.Report
}

// Options are the per-invocation overrides for a run, typically sourced from
// CLI flags.
type Options struct {
	// DryRun routes all writes through a discard overlay and skips the
	// snapshot and the surrounding transaction.
	DryRun bool
	// EnableRollback captures a pre-run snapshot and restores it when the run
	// fails.
	EnableRollback bool
	// BatchSize overrides the configured batch size when positive.
	BatchSize int
}

// Lifecycle executes transformer runs: state transitions, pre-run snapshot,
// transactional execution for live runs, and rollback on failure. One
// Lifecycle serves many sequential runs; it holds no per-run state.
type Lifecycle struct {
	cfg       config.TransformationConfig
	snapCfg   config.SnapshotConfig
	source    store.Store
	target    store.Store
	snapshots *snapshot.Manager
}

// NewLifecycle creates a Lifecycle over the given stores. The snapshot
// manager may be nil, in which case snapshots and rollback are unavailable
// and failed runs are left as-is.
func NewLifecycle(cfg config.TransformationConfig, snapCfg config.SnapshotConfig, source, target store.Store, snapshots *snapshot.Manager) *Lifecycle {
	return &Lifecycle{
		cfg:       cfg,
		snapCfg:   snapCfg,
		source:    source,
		target:    target,
		snapshots: snapshots,
	}
}

// Execute runs the transformer through its full lifecycle and returns the
// result together with the error that failed the run, if any. The original
// failure is always the returned error; rollback problems are recorded on
// the run, never propagated in its place.
func (l *Lifecycle) Execute(ctx context.Context, t Transformer, opts Options) (*RunResult, error) {
	cfg := l.cfg
	if opts.BatchSize > 0 {
		cfg.BatchSize = opts.BatchSize
	}
	cfg.DryRun = opts.DryRun

	run := model.NewTransformerRun(t.Name())
	run.DryRun = opts.DryRun
	prof := profiler.New()

	if opts.DryRun {
		logger.Infof("Dry run mode: no data will be saved.")
	}

	snapshotted := l.captureSnapshot(ctx, t, run, opts)

	run.MarkAsRunning()
	runErr := l.runTransformer(ctx, t, run, cfg, prof, opts.DryRun)
	l.cleanup(ctx, t, run)

	if runErr == nil {
		run.MarkAsCompleted()
		l.logCompletion(run)
		return &RunResult{Run: run, Profile: prof.Report()}, nil
	}

	run.MarkAsFailed(runErr)
	logger.Errorf("Transformer '%s' failed: %v", t.Name(), runErr)

	if snapshotted && opts.EnableRollback {
		logger.Infof("Attempting automatic rollback of run '%s'.", run.ID)
		if err := l.snapshots.Rollback(ctx, run.ID, l.snapCfg.Strategy); err != nil {
			run.AddWarning("Automatic rollback failed: " + err.Error())
			logger.Errorf("Automatic rollback of run '%s' failed: %v", run.ID, err)
			run.MarkRollbackAttempted(false)
		} else {
			logger.Infof("Automatic rollback of run '%s' completed successfully.", run.ID)
			run.MarkRollbackAttempted(true)
		}
	}

	return &RunResult{Run: run, Profile: prof.Report()}, runErr
}

// captureSnapshot takes the pre-run snapshot when the run mutates declared
// collections. Snapshot failure degrades the run to unprotected execution
// with a warning; it never fails the run.
func (l *Lifecycle) captureSnapshot(ctx context.Context, t Transformer, run *model.TransformerRun, opts Options) bool {
	if opts.DryRun || !opts.EnableRollback || !l.snapCfg.Enabled || l.snapshots == nil {
		return false
	}
	ca, ok := t.(CollectionAware)
	if !ok {
		return false
	}
	collections := ca.AffectedCollections()
	if len(collections) == 0 {
		return false
	}

	if err := run.TransitionTo(model.RunStatusSnapshotPending); err != nil {
		logger.Warnf("%v", err)
	}
	snap, err := l.snapshots.CreateSnapshot(ctx, run.ID, t.Name(), collections,
		map[string]interface{}{"dry_run": opts.DryRun})
	if err != nil {
		run.AddWarning("Could not create rollback snapshot: " + err.Error())
		logger.Warnf("Could not create rollback snapshot for run '%s': %v", run.ID, err)
		return false
	}
	logger.Infof("Created rollback snapshot: %s", snap.MigrationID)
	return true
}

// runTransformer executes the transformer body inside the profiled
// total_migration scope. Live runs are wrapped in a store transaction so a
// failure leaves the target untouched; dry runs write to an overlay instead.
func (l *Lifecycle) runTransformer(ctx context.Context, t Transformer, run *model.TransformerRun, cfg config.TransformationConfig, prof *profiler.Profiler, dryRun bool) error {
	stop := prof.Profile("total_migration")
	defer stop()

	if dryRun {
		tk := l.newToolkit(run, cfg, prof, store.NewDryRunStore(l.target))
		return t.Run(ctx, tk)
	}
	return l.target.InTransaction(ctx, func(tx store.Store) error {
		tk := l.newToolkit(run, cfg, prof, tx)
		return t.Run(ctx, tk)
	})
}

func (l *Lifecycle) newToolkit(run *model.TransformerRun, cfg config.TransformationConfig, prof *profiler.Profiler, target store.Store) *Toolkit {
	return &Toolkit{
		run:       run,
		cfg:       cfg,
		source:    l.source,
		target:    target,
		prof:      prof,
		validator: validation.NewValidator(),
	}
}

func (l *Lifecycle) cleanup(ctx context.Context, t Transformer, run *model.TransformerRun) {
	c, ok := t.(Cleaner)
	if !ok {
		return
	}
	if err := c.Cleanup(ctx); err != nil {
		run.AddWarning("Cleanup warning: " + err.Error())
		logger.Warnf("Cleanup of transformer '%s' failed: %v", t.Name(), err)
	}
}

func (l *Lifecycle) logCompletion(run *model.TransformerRun) {
	if len(run.Errors) > 0 {
		logger.Warnf("Completed with %d errors: %s", len(run.Errors), summarizeFirst(run.Errors, 3))
	}
	if len(run.Warnings) > 0 {
		logger.Infof("Completed with %d warnings.", len(run.Warnings))
	}
	if len(run.Stats) > 0 {
		parts := make([]string, 0, len(run.Stats))
		for k, v := range run.Stats {
			parts = append(parts, fmt.Sprintf("%s: %d", k, v))
		}
		sort.Strings(parts)
		logger.Infof("Statistics - %s", strings.Join(parts, ", "))
	}
	logger.Infof("Transformation completed in %.2fs.", run.Duration().Seconds())
}

func summarizeFirst(list model.FailureList, n int) string {
	if len(list) <= n {
		return strings.Join(list, "; ")
	}
	return strings.Join(list[:n], "; ") + "..."
}
