// Package outcome persists one record per transformer run to the engine's
// bookkeeping database. The table schema is managed by embedded SQL
// migrations; user data is never touched from here.
package outcome

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/support/exception"
	"github.com/kurobane/migrata/pkg/etl/transformer"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

const moduleName = "outcome"

// Record is the persisted account of one transformer run.
type Record struct {
	ID                string            `gorm:"column:id;primaryKey"`
	RunID             string            `gorm:"column:run_id;index"`
	TransformerName   string            `gorm:"column:transformer_name;index"`
	RunAt             time.Time         `gorm:"column:run_at"`
	DurationSeconds   float64           `gorm:"column:duration_seconds"`
	Success           bool              `gorm:"column:success"`
	DryRun            bool              `gorm:"column:dry_run"`
	ErrorMessage      string            `gorm:"column:error_message"`
	BatchSize         int               `gorm:"column:batch_size"`
	TotalRecords      int               `gorm:"column:total_records"`
	RollbackAttempted bool              `gorm:"column:rollback_attempted"`
	RollbackOK        bool              `gorm:"column:rollback_ok"`
	Statistics        model.Statistics  `gorm:"column:statistics;type:text"`
	Warnings          model.FailureList `gorm:"column:warnings;type:text"`
	Performance       string            `gorm:"column:performance;type:text"`
	CreatedAt         time.Time         `gorm:"column:created_at"`
}

// TableName sets the GORM table name.
func (Record) TableName() string {
	return "migration_outcomes"
}

// FromRunResult flattens a finished run into a persistable Record, including
// the serialized profiler report.
func FromRunResult(result *transformer.RunResult, batchSize int) *Record {
	run := result.Run
	rec := &Record{
		ID:              model.NewID(),
		RunID:           run.ID,
		TransformerName: run.TransformerName,
		RunAt:           run.StartTime,
		DurationSeconds: run.Duration().Seconds(),
		Success:         run.Succeeded(),
		DryRun:          run.DryRun,
		ErrorMessage:    strings.Join(run.Errors, "; "),
		BatchSize:       batchSize,
		TotalRecords:    run.Stats["processed"],
		Statistics:      run.Stats,
		Warnings:        run.Warnings,
	}
	if run.RollbackOK != nil {
		rec.RollbackAttempted = true
		rec.RollbackOK = *run.RollbackOK
	}
	if result.Profile != nil {
		if payload, err := json.Marshal(result.Profile); err == nil {
			rec.Performance = string(payload)
		} else {
			logger.Warnf("Could not serialize performance report for run '%s': %v", run.ID, err)
		}
	}
	return rec
}

// Repository stores and queries run outcome records.
type Repository interface {
	// Save persists one outcome record.
	Save(ctx context.Context, rec *Record) error
	// ListRecent returns up to limit records, most recent first.
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	// ListByTransformer returns the records of one transformer, most recent
	// first.
	ListByTransformer(ctx context.Context, transformerName string, limit int) ([]Record, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a Repository backed by the given GORM handle. The
// schema must already be migrated; see Migrate.
func NewGormRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Save(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return exception.NewMigrationError(moduleName, "failed to save run outcome", err, false, false)
	}
	return nil
}

func (r *gormRepository) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := r.db.WithContext(ctx).
		Order("run_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, exception.NewMigrationError(moduleName, "failed to list run outcomes", err, false, false)
	}
	return records, nil
}

func (r *gormRepository) ListByTransformer(ctx context.Context, transformerName string, limit int) ([]Record, error) {
	var records []Record
	err := r.db.WithContext(ctx).
		Where("transformer_name = ?", transformerName).
		Order("run_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, exception.NewMigrationError(moduleName, "failed to list run outcomes", err, false, false)
	}
	return records, nil
}
