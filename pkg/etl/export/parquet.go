// Package export writes a session's run outcomes to a Parquet report so
// migration results can be analyzed alongside the rest of the data platform.
package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/kurobane/migrata/pkg/etl/session"
	"github.com/kurobane/migrata/pkg/etl/support/exception"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

const moduleName = "export"

// reportRow is the flattened per-run schema of the Parquet report.
type reportRow struct {
	RunID            string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TransformerName  string  `parquet:"name=transformer_name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Status           string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	DryRun           bool    `parquet:"name=dry_run, type=BOOLEAN"`
	RunAtUnixMs      int64   `parquet:"name=run_at_unix_ms, type=INT64"`
	DurationSeconds  float64 `parquet:"name=duration_seconds, type=DOUBLE"`
	RecordsProcessed int64   `parquet:"name=records_processed, type=INT64"`
	RecordsFailed    int64   `parquet:"name=records_failed, type=INT64"`
	ErrorCount       int32   `parquet:"name=error_count, type=INT32"`
	WarningCount     int32   `parquet:"name=warning_count, type=INT32"`
	RollbackOutcome  string  `parquet:"name=rollback_outcome, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ErrorMessage     string  `parquet:"name=error_message, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Reporter writes session reports to a local directory.
type Reporter struct {
	reportDir       string
	compressionType string
}

// NewReporter creates a Reporter writing into reportDir. The compression type
// defaults to SNAPPY when empty.
func NewReporter(reportDir, compressionType string) *Reporter {
	if compressionType == "" {
		compressionType = "SNAPPY"
	}
	return &Reporter{reportDir: reportDir, compressionType: compressionType}
}

// Export writes one Parquet file covering every run in the summary and
// returns its path. An empty summary writes nothing.
func (r *Reporter) Export(summary *session.Summary) (string, error) {
	if len(summary.Reports) == 0 {
		logger.Infof("No runs in session, skipping report export.")
		return "", nil
	}
	if err := os.MkdirAll(r.reportDir, 0o755); err != nil {
		return "", exception.NewMigrationError(moduleName, fmt.Sprintf("failed to create report directory '%s'", r.reportDir), err, false, false)
	}

	codec, err := compressionCodec(r.compressionType)
	if err != nil {
		return "", exception.NewMigrationError(moduleName, "invalid report compression type", err, false, false)
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(reportRow), int64(len(summary.Reports)))
	if err != nil {
		return "", exception.NewMigrationError(moduleName, "failed to create report writer", err, false, false)
	}
	pw.CompressionType = codec

	var result *multierror.Error
	for _, report := range summary.Reports {
		if err := pw.Write(rowFromReport(report)); err != nil {
			result = multierror.Append(result, fmt.Errorf("run '%s': %w", report.Result.Run.ID, err))
		}
	}
	if err := writeStop(pw); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return "", exception.NewMigrationError(moduleName, "failed to build session report", err, false, false)
	}

	path := filepath.Join(r.reportDir, fmt.Sprintf("session_%s.parquet", summary.StartedAt.Format("20060102_150405")))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", exception.NewMigrationError(moduleName, fmt.Sprintf("failed to write report '%s'", path), err, false, false)
	}
	logger.Infof("Wrote session report with %d runs to %s.", len(summary.Reports), path)
	return path, nil
}

// writeStop finalizes the Parquet stream. The library panics on some schema
// problems, so the panic is converted into an error here.
func writeStop(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("report writer panicked during finalization: %v", rec)
		}
	}()
	return pw.WriteStop()
}

func rowFromReport(report session.RunReport) reportRow {
	run := report.Result.Run
	row := reportRow{
		RunID:            run.ID,
		TransformerName:  run.TransformerName,
		Status:           run.Status.String(),
		DryRun:           run.DryRun,
		RunAtUnixMs:      run.StartTime.UnixMilli(),
		DurationSeconds:  run.Duration().Seconds(),
		RecordsProcessed: int64(run.Stats["processed"]),
		RecordsFailed:    int64(run.Stats["failed_records"]),
		ErrorCount:       int32(len(run.Errors)),
		WarningCount:     int32(len(run.Warnings)),
		RollbackOutcome:  "none",
		ErrorMessage:     strings.Join(run.Errors, "; "),
	}
	if run.RollbackOK != nil {
		if *run.RollbackOK {
			row.RollbackOutcome = "succeeded"
		} else {
			row.RollbackOutcome = "failed"
		}
	}
	return row
}

func compressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}
