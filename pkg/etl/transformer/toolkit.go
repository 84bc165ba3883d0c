package transformer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kurobane/migrata/pkg/etl/adapter/store"
	"github.com/kurobane/migrata/pkg/etl/core/config"
	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/executor"
	"github.com/kurobane/migrata/pkg/etl/profiler"
	"github.com/kurobane/migrata/pkg/etl/validation"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

// FieldTransform converts one field value. Returning an error aborts the
// remaining transforms in the chain.
type FieldTransform func(value interface{}) (interface{}, error)

// Toolkit is the per-run working set handed to a Transformer: the legacy
// source store, the target store (a discard overlay during dry runs), the run
// bookkeeping record, the validator and the batch executor configuration.
// A Toolkit belongs to exactly one run and must not outlive it.
type Toolkit struct {
	run       *model.TransformerRun
	cfg       config.TransformationConfig
	source    store.Store
	target    store.Store
	prof      *profiler.Profiler
	validator *validation.Validator
}

// Run returns the bookkeeping record of the current run.
func (tk *Toolkit) Run() *model.TransformerRun { return tk.run }

// Source returns the legacy store reads come from.
func (tk *Toolkit) Source() store.Store { return tk.source }

// Target returns the store writes go to. During a dry run this is a
// write-buffering overlay and nothing reaches the underlying store.
func (tk *Toolkit) Target() store.Store { return tk.target }

// Profiler returns the profiler collecting this run's timings.
func (tk *Toolkit) Profiler() *profiler.Profiler { return tk.prof }

// AddValidationRule registers a validation rule for this run.
func (tk *Toolkit) AddValidationRule(rule validation.Rule) {
	tk.validator.AddRule(rule)
}

// ValidateBatch runs every registered rule against the records inside a
// profiled scope. In strict validation mode any ERROR-severity failure is
// returned as an error; in lenient mode failures are recorded on the run and
// only the valid records should be processed further.
func (tk *Toolkit) ValidateBatch(records []model.Record) (*validation.BatchSummary, error) {
	stop := tk.prof.Profile("batch_validation")
	summary := tk.validator.ValidateBatch(records)
	stop()

	tk.run.IncrementStat("validated", summary.TotalRecords)
	tk.run.IncrementStat("validation_errors", len(summary.ErrorRecords))
	tk.run.IncrementStat("validation_warnings", len(summary.WarningRecords))

	for _, msg := range summary.WarningMessages() {
		tk.run.AddWarning(msg)
	}

	if len(summary.ErrorRecords) > 0 {
		if tk.cfg.ValidationMode == "strict" {
			return summary, fmt.Errorf("validation failed for %d of %d records: %v",
				len(summary.ErrorRecords), summary.TotalRecords, summary.ErrorMessages())
		}
		for _, msg := range summary.ErrorMessages() {
			tk.run.AddError(errors.New(msg))
		}
		logger.Warnf("Skipping %d invalid records (lenient validation mode).", len(summary.ErrorRecords))
	}
	return summary, nil
}

// ExtractData reads the whole legacy collection page by page with progress
// logging and records the extracted count.
func (tk *Toolkit) ExtractData(ctx context.Context, collection string) ([]model.Record, error) {
	logger.Infof("Extracting data from '%s'.", collection)

	total, err := tk.source.Count(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to count collection '%s': %w", collection, err)
	}
	logger.Infof("Found %d records to process.", total)
	tk.run.SetStat("total_extracted", int(total))

	records := make([]model.Record, 0, total)
	pageSize := tk.cfg.BatchSize
	for offset := 0; ; offset += pageSize {
		page, err := tk.source.ReadPage(ctx, collection, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read collection '%s' at offset %d: %w", collection, offset, err)
		}
		if len(page) == 0 {
			break
		}
		logger.Infof("Extracted batch %d (%d records).", offset/pageSize+1, len(page))
		records = append(records, page...)
		if len(page) < pageSize {
			break
		}
	}
	return records, nil
}

// StreamData returns a paging source over the legacy collection for use with
// ProcessWithRetry, so large collections are never held in memory at once.
func (tk *Toolkit) StreamData(collection string) executor.Source[model.Record] {
	return store.NewPageSource(tk.source, collection, tk.cfg.BatchSize)
}

// ProcessWithRetry drains the source in batches through the processing
// function, retrying failed batches per the run configuration. Batch-level
// failures are recorded on the run; only source read errors and cancellation
// abort processing.
func (tk *Toolkit) ProcessWithRetry(ctx context.Context, source executor.Source[model.Record], process executor.ProcessFunc[model.Record]) (*executor.Outcome, error) {
	exec, err := executor.New[model.Record](executor.Config{
		BatchSize:  tk.cfg.BatchSize,
		MaxRetries: tk.cfg.MaxRetries,
		RetryDelay: time.Duration(tk.cfg.RetryDelayMs) * time.Millisecond,
	}, tk.prof)
	if err != nil {
		return nil, err
	}

	outcome, err := exec.Execute(ctx, source, process)
	tk.run.IncrementStat("total_batches", outcome.TotalBatches)
	tk.run.IncrementStat("successful_batches", outcome.SuccessfulBatches)
	tk.run.IncrementStat("failed_batches", outcome.FailedBatches)
	tk.run.IncrementStat("retried_batches", outcome.RetriedBatches)
	tk.run.IncrementStat("processed", outcome.TotalRecords)
	tk.run.IncrementStat("failed_records", outcome.FailedRecords)
	for _, msg := range outcome.BatchErrors {
		tk.run.AddError(errors.New(msg))
	}
	return outcome, err
}

// BulkInsertWithLogging writes the records to the target collection in
// chunks with progress logging. A failed chunk is recorded as a run error and
// the remaining chunks still run; the return value is the number of records
// actually written.
func (tk *Toolkit) BulkInsertWithLogging(ctx context.Context, collection string, records []model.Record) int {
	if len(records) == 0 {
		logger.Infof("No records to create in '%s'.", collection)
		return 0
	}

	chunkSize := tk.cfg.BatchSize
	created := 0
	logger.Infof("Bulk creating %d records in '%s'.", len(records), collection)

	for i := 0; i < len(records); i += chunkSize {
		end := i + chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]
		if err := tk.target.BulkInsert(ctx, collection, chunk); err != nil {
			tk.run.AddError(fmt.Errorf("failed to create batch %d in '%s': %w", i/chunkSize+1, collection, err))
			logger.Errorf("Failed to create batch %d in '%s': %v", i/chunkSize+1, collection, err)
			continue
		}
		created += len(chunk)
		logger.Infof("Created batch %d: %d records.", i/chunkSize+1, len(chunk))
	}

	tk.run.IncrementStat("created", created)
	logger.Infof("Successfully created %d/%d records in '%s'.", created, len(records), collection)
	return created
}

// CheckDuplicate looks for an existing target record whose field matches the
// value. Lookup errors are recorded on the run and reported as no match.
func (tk *Toolkit) CheckDuplicate(ctx context.Context, collection, field string, value interface{}) (model.Record, bool) {
	records, err := tk.target.ReadAll(ctx, collection)
	if err != nil {
		tk.run.AddError(fmt.Errorf("failed to check duplicates for %s=%v in '%s': %w", field, value, collection, err))
		return nil, false
	}
	for _, rec := range records {
		if rec.Get(field) == value {
			return rec, true
		}
	}
	return nil, false
}

// TransformField applies the transforms to the value in order. A failing
// transform is recorded as a warning and stops the chain; the value produced
// so far is returned.
func (tk *Toolkit) TransformField(value interface{}, transforms ...FieldTransform) interface{} {
	result := value
	for _, transform := range transforms {
		next, err := transform(result)
		if err != nil {
			msg := fmt.Sprintf("Transformation failed for value '%v': %v", value, err)
			tk.run.AddWarning(msg)
			logger.Warnf("%s", msg)
			return result
		}
		result = next
	}
	return result
}

// MapForeignKey resolves a legacy key through the mapping. A missing key
// falls back to the default with a warning; with no default it is recorded as
// a run error and nil is returned.
func (tk *Toolkit) MapForeignKey(legacyID interface{}, mapping map[interface{}]interface{}, def interface{}) interface{} {
	if mapped, ok := mapping[legacyID]; ok {
		return mapped
	}
	if def != nil {
		msg := fmt.Sprintf("No mapping found for legacy ID %v, using default: %v", legacyID, def)
		tk.run.AddWarning(msg)
		logger.Warnf("%s", msg)
		return def
	}
	tk.run.AddError(fmt.Errorf("no mapping found for legacy ID %v", legacyID))
	logger.Errorf("No mapping found for legacy ID %v.", legacyID)
	return nil
}

// BuildIDMapping indexes the target collection by the given key field,
// producing the mapping used by MapForeignKey. Records without the key field
// are skipped.
func (tk *Toolkit) BuildIDMapping(ctx context.Context, collection, keyField string) (map[interface{}]model.Record, error) {
	logger.Infof("Building ID mapping for '%s' keyed by '%s'.", collection, keyField)

	records, err := tk.target.ReadAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection '%s': %w", collection, err)
	}
	mapping := make(map[interface{}]model.Record, len(records))
	for _, rec := range records {
		key := rec.Get(keyField)
		if key == nil {
			continue
		}
		mapping[key] = rec
	}
	logger.Infof("Created mapping for %d records.", len(mapping))
	return mapping, nil
}
