package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kurobane/migrata/pkg/etl/adapter/store"
	"github.com/kurobane/migrata/pkg/etl/core/config"
	"github.com/kurobane/migrata/pkg/etl/core/model"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"

	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// NewGormLogger creates a gorm logger instance based on the configured log
// level, routing GORM output through the application logger.
func NewGormLogger(level string) gorm_logger.Interface {
	var gormLevel gorm_logger.LogLevel
	switch config.LogLevel(level) {
	case config.LogLevelSilent:
		gormLevel = gorm_logger.Silent
	case config.LogLevelError:
		gormLevel = gorm_logger.Error
	case config.LogLevelWarn:
		gormLevel = gorm_logger.Warn
	case config.LogLevelInfo:
		gormLevel = gorm_logger.Info
	default:
		gormLevel = gorm_logger.Silent
	}

	return gorm_logger.New(
		NewGormWriter(),
		gorm_logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects GORM log output to the application logger.
type GormWriter struct{}

// NewGormWriter creates a new GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Printf implements the gorm logger Writer interface. SQL statement logs are
// demoted to DEBUG; everything else passes through as INFO.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if strings.Contains(msg, "SELECT") || strings.Contains(msg, "INSERT") || strings.Contains(msg, "UPDATE") || strings.Contains(msg, "DELETE") {
		logger.Debugf("[GORM] %s", msg)
	} else {
		logger.Infof("[GORM] %s", msg)
	}
}

// GormStore implements store.Store over a GORM connection. Collections map
// to tables; records are read and written as column/value maps so the store
// stays schema-agnostic.
type GormStore struct {
	db   *gorm.DB
	name string
}

// NewGormStore wraps an open GORM connection.
func NewGormStore(db *gorm.DB, name string) *GormStore {
	return &GormStore{db: db, name: name}
}

// DB exposes the underlying connection for bookkeeping components that need
// schema management (outcome repository migrations).
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Name implements store.Store.
func (s *GormStore) Name() string { return s.name }

// Count implements store.Store.
func (s *GormStore) Count(ctx context.Context, collection string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Table(collection).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ReadPage implements store.Store.
func (s *GormStore) ReadPage(ctx context.Context, collection string, offset, limit int) ([]model.Record, error) {
	var rows []map[string]interface{}
	if err := s.db.WithContext(ctx).Table(collection).Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// ReadAll implements store.Store.
func (s *GormStore) ReadAll(ctx context.Context, collection string) ([]model.Record, error) {
	var rows []map[string]interface{}
	if err := s.db.WithContext(ctx).Table(collection).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// BulkInsert implements store.Store.
func (s *GormStore) BulkInsert(ctx context.Context, collection string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, len(records))
	for i, r := range records {
		rows[i] = map[string]interface{}(r)
	}
	return s.db.WithContext(ctx).Table(collection).Create(rows).Error
}

// DeleteAll implements store.Store.
func (s *GormStore) DeleteAll(ctx context.Context, collection string) (int64, error) {
	result := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Table(collection).
		Delete(&map[string]interface{}{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// DeleteCreatedAfter implements store.TimestampedStore. It relies on the
// conventional created_at column.
func (s *GormStore) DeleteCreatedAfter(ctx context.Context, collection string, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Table(collection).
		Where("created_at > ?", cutoff).
		Delete(&map[string]interface{}{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// InTransaction implements store.Store using GORM's transaction support.
func (s *GormStore) InTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, name: s.name})
	})
}

// Close implements store.Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	logger.Infof("Closing database connection '%s'...", s.name)
	return sqlDB.Close()
}

func toRecords(rows []map[string]interface{}) []model.Record {
	out := make([]model.Record, len(rows))
	for i, row := range rows {
		out[i] = model.Record(row)
	}
	return out
}
