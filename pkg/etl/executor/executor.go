// Package executor implements batched processing with per-batch retry over a
// streaming record source. Batches are processed in source order, one at a
// time; a batch that exhausts its attempts is recorded as failed and the
// remaining batches still run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kurobane/migrata/pkg/etl/profiler"
	"github.com/kurobane/migrata/pkg/etl/support/exception"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

const moduleName = "executor"

// ErrNoMoreRecords is returned by a Source when it is exhausted.
var ErrNoMoreRecords = errors.New("no more records")

// Source supplies records one at a time. Next returns ErrNoMoreRecords when
// the source is exhausted; any other error aborts the executor run.
type Source[T any] interface {
	Next(ctx context.Context) (T, error)
}

// SliceSource adapts an in-memory slice to the Source interface.
type SliceSource[T any] struct {
	items []T
	pos   int
}

// NewSliceSource creates a Source over the given items.
func NewSliceSource[T any](items []T) *SliceSource[T] {
	return &SliceSource[T]{items: items}
}

// Next implements Source.
func (s *SliceSource[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if s.pos >= len(s.items) {
		return zero, ErrNoMoreRecords
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

// ProcessFunc handles one batch. Returning an error marks the attempt as
// failed and triggers a retry while attempts remain.
type ProcessFunc[T any] func(ctx context.Context, batch []T) error

// Outcome aggregates batch-level counters across one executor invocation.
// SuccessfulBatches + FailedBatches always equals TotalBatches, and
// TotalRecords is the sum of all batch sizes.
type Outcome struct {
	TotalBatches      int
	SuccessfulBatches int
	FailedBatches     int
	RetriedBatches    int
	TotalRecords      int
	FailedRecords     int
	BatchErrors       []string
}

// Config holds the executor's retry behavior.
type Config struct {
	// BatchSize is the number of records per batch; the final batch may be
	// smaller.
	BatchSize int
	// MaxRetries is the number of additional attempts after a failed first
	// attempt, so each batch is tried at most MaxRetries+1 times.
	MaxRetries int
	// RetryDelay is the constant pause between failed attempts.
	RetryDelay time.Duration
}

// BatchRetryExecutor drains a source into fixed-size batches and applies a
// processing function per batch with retry.
type BatchRetryExecutor[T any] struct {
	cfg  Config
	prof *profiler.Profiler
}

// New creates a BatchRetryExecutor. The profiler may be nil, in which case
// per-attempt timing is not collected.
func New[T any](cfg Config, prof *profiler.Profiler) (*BatchRetryExecutor[T], error) {
	if cfg.BatchSize <= 0 {
		return nil, exception.NewMigrationError(moduleName, fmt.Sprintf("batch size must be positive, got %d", cfg.BatchSize), nil, false, false)
	}
	if cfg.MaxRetries < 0 {
		return nil, exception.NewMigrationError(moduleName, fmt.Sprintf("max retries must not be negative, got %d", cfg.MaxRetries), nil, false, false)
	}
	return &BatchRetryExecutor[T]{cfg: cfg, prof: prof}, nil
}

// Execute drains the source and processes it batch by batch. An empty source
// yields a zero Outcome and no error. Source read errors and context
// cancellation abort the run; the partial Outcome accumulated so far is
// returned alongside the error.
func (e *BatchRetryExecutor[T]) Execute(ctx context.Context, source Source[T], process ProcessFunc[T]) (*Outcome, error) {
	outcome := &Outcome{}
	batch := make([]T, 0, e.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		e.processBatchWithRetry(ctx, batch, process, outcome)
		batch = batch[:0]
		return ctx.Err()
	}

	for {
		item, err := source.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrNoMoreRecords) {
				break
			}
			return outcome, exception.NewMigrationError(moduleName, "failed to read from record source", err, false, false)
		}
		batch = append(batch, item)

		if len(batch) >= e.cfg.BatchSize {
			if err := flush(); err != nil {
				return outcome, err
			}
		}
	}

	if err := flush(); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// processBatchWithRetry attempts one batch up to MaxRetries+1 times and
// updates the outcome counters. A batch that exhausts all attempts is
// recorded as failed; it does not abort the remaining batches.
func (e *BatchRetryExecutor[T]) processBatchWithRetry(ctx context.Context, batch []T, process ProcessFunc[T], outcome *Outcome) {
	outcome.TotalBatches++
	outcome.TotalRecords += len(batch)
	batchNum := outcome.TotalBatches

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries+1; attempt++ {
		stop := func() {}
		if e.prof != nil {
			stop = e.prof.Profile(fmt.Sprintf("batch_processing_attempt_%d", attempt))
		}
		err := process(ctx, batch)
		stop()

		if err == nil {
			outcome.SuccessfulBatches++
			if attempt > 1 {
				outcome.RetriedBatches++
				logger.Infof("Batch %d succeeded on attempt %d/%d.", batchNum, attempt, e.cfg.MaxRetries+1)
			}
			return
		}
		lastErr = err

		if attempt <= e.cfg.MaxRetries {
			logger.Warnf("Batch %d attempt %d/%d failed: %v. Retrying in %s.", batchNum, attempt, e.cfg.MaxRetries+1, err, e.cfg.RetryDelay)
			if !e.sleep(ctx) {
				break
			}
		}
	}

	outcome.FailedBatches++
	outcome.FailedRecords += len(batch)
	if lastErr != nil {
		outcome.BatchErrors = append(outcome.BatchErrors, fmt.Sprintf("batch %d: %s", batchNum, exception.ExtractErrorMessage(lastErr)))
	}
	logger.Errorf("Batch %d (%d records) failed after %d attempts: %v", batchNum, len(batch), e.cfg.MaxRetries+1, lastErr)
}

// sleep pauses for the configured retry delay. It returns false when the
// context was cancelled during the pause.
func (e *BatchRetryExecutor[T]) sleep(ctx context.Context) bool {
	if e.cfg.RetryDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(e.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
