// Package snapshot captures point-in-time backups of store collections before
// a mutating migration run and restores them on rollback. A snapshot is two
// artifacts in backup storage: a small metadata object and the serialized
// collection data. Rollback is all-or-nothing per snapshot.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/kurobane/migrata/pkg/etl/adapter/storage"
	"github.com/kurobane/migrata/pkg/etl/adapter/store"
	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/support/exception"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

const (
	moduleName   = "snapshot"
	objectPrefix = "snapshots/"
	metaSuffix   = "/meta.json"
	dataSuffix   = "/data.json"
	contentType  = "application/json"

	// StrategyRestoreBackup restores every affected collection from the
	// snapshot data.
	StrategyRestoreBackup = "restore_backup"
	// StrategyDeleteNewRecords removes records created after the snapshot
	// was taken; it requires a store that tracks creation times.
	StrategyDeleteNewRecords = "delete_new_records"
)

// snapshotMeta is the persisted form of a snapshot's metadata artifact.
type snapshotMeta struct {
	MigrationID     string                 `json:"migration_id"`
	Timestamp       time.Time              `json:"timestamp"`
	TransformerName string                 `json:"transformer_name"`
	Collections     []string               `json:"collections"`
	RecordCounts    map[string]int64       `json:"record_counts"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// snapshotData is the persisted form of a snapshot's data artifact.
type snapshotData struct {
	MigrationID string                    `json:"migration_id"`
	Collections map[string][]model.Record `json:"collections"`
}

// Manager creates, verifies, restores and prunes snapshots for one store.
type Manager struct {
	store   store.Store
	backend storage.Backend
	bucket  string
	now     func() time.Time
}

// NewManager creates a snapshot Manager writing artifacts to the given
// storage backend. An empty bucket uses the backend's configured default.
func NewManager(s store.Store, backend storage.Backend, bucket string) *Manager {
	return &Manager{
		store:   s,
		backend: backend,
		bucket:  bucket,
		now:     time.Now,
	}
}

func metaObject(migrationID string) string {
	return objectPrefix + migrationID + metaSuffix
}

func dataObject(migrationID string) string {
	return objectPrefix + migrationID + dataSuffix
}

// CreateSnapshot reads every affected collection and writes the snapshot
// artifacts. The data artifact is written before the metadata artifact so a
// listed snapshot is always restorable.
func (m *Manager) CreateSnapshot(ctx context.Context, migrationID, transformerName string, collections []string, metadata map[string]interface{}) (*model.MigrationSnapshot, error) {
	if migrationID == "" {
		return nil, exception.NewMigrationError(moduleName, "migration ID must not be empty", nil, false, false)
	}

	meta := snapshotMeta{
		MigrationID:     migrationID,
		Timestamp:       m.now(),
		TransformerName: transformerName,
		Collections:     collections,
		RecordCounts:    make(map[string]int64, len(collections)),
		Metadata:        metadata,
	}
	data := snapshotData{
		MigrationID: migrationID,
		Collections: make(map[string][]model.Record, len(collections)),
	}

	for _, c := range collections {
		count, err := m.store.Count(ctx, c)
		if err != nil {
			return nil, exception.NewMigrationError(moduleName, fmt.Sprintf("failed to count collection '%s'", c), err, false, false)
		}
		records, err := m.store.ReadAll(ctx, c)
		if err != nil {
			return nil, exception.NewMigrationError(moduleName, fmt.Sprintf("failed to read collection '%s'", c), err, false, false)
		}
		meta.RecordCounts[c] = count
		data.Collections[c] = records
	}

	if err := m.uploadJSON(ctx, dataObject(migrationID), data); err != nil {
		return nil, err
	}
	if err := m.uploadJSON(ctx, metaObject(migrationID), meta); err != nil {
		// Remove the orphaned data artifact; a snapshot without metadata is
		// invisible to listing and rollback.
		if derr := m.backend.DeleteObject(ctx, m.bucket, dataObject(migrationID)); derr != nil {
			logger.Warnf("Failed to remove orphaned snapshot data for '%s': %v", migrationID, derr)
		}
		return nil, err
	}

	logger.Infof("Created snapshot '%s' covering %d collections.", migrationID, len(collections))
	return metaToModel(meta, dataObject(migrationID)), nil
}

// Rollback restores the store to the snapshot state using the given strategy.
// Restoration is all-or-nothing: every affected collection is restored inside
// one transaction, or none is.
func (m *Manager) Rollback(ctx context.Context, migrationID, strategy string) error {
	meta, err := m.loadMeta(ctx, migrationID)
	if err != nil {
		return err
	}

	switch strategy {
	case StrategyRestoreBackup:
		return m.restoreBackup(ctx, meta)
	case StrategyDeleteNewRecords:
		return m.deleteNewRecords(ctx, meta)
	default:
		return exception.NewMigrationError(moduleName, fmt.Sprintf("strategy '%s'", strategy), exception.ErrUnknownRollbackStrategy, false, false)
	}
}

func (m *Manager) restoreBackup(ctx context.Context, meta *snapshotMeta) error {
	data, err := m.loadData(ctx, meta.MigrationID)
	if err != nil {
		return err
	}

	err = m.store.InTransaction(ctx, func(tx store.Store) error {
		for _, c := range meta.Collections {
			if _, err := tx.DeleteAll(ctx, c); err != nil {
				return fmt.Errorf("failed to clear collection '%s': %w", c, err)
			}
			records := data.Collections[c]
			if len(records) == 0 {
				continue
			}
			if err := tx.BulkInsert(ctx, c, records); err != nil {
				return fmt.Errorf("failed to restore collection '%s': %w", c, err)
			}
		}
		return nil
	})
	if err != nil {
		return exception.NewMigrationError(moduleName, fmt.Sprintf("rollback of snapshot '%s' failed", meta.MigrationID), err, false, false)
	}

	logger.Infof("Restored snapshot '%s' (%d collections).", meta.MigrationID, len(meta.Collections))
	return nil
}

func (m *Manager) deleteNewRecords(ctx context.Context, meta *snapshotMeta) error {
	ts, ok := m.store.(store.TimestampedStore)
	if !ok {
		return exception.NewMigrationError(moduleName,
			fmt.Sprintf("store '%s' does not track record creation times; use %s instead", m.store.Name(), StrategyRestoreBackup),
			nil, false, false)
	}

	var result *multierror.Error
	var removed int64
	for _, c := range meta.Collections {
		n, err := ts.DeleteCreatedAfter(ctx, c, meta.Timestamp)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("collection '%s': %w", c, err))
			continue
		}
		removed += n
	}
	if err := result.ErrorOrNil(); err != nil {
		return exception.NewMigrationError(moduleName, fmt.Sprintf("rollback of snapshot '%s' failed", meta.MigrationID), err, false, false)
	}

	logger.Infof("Rollback of snapshot '%s' removed %d records created after %s.", meta.MigrationID, removed, meta.Timestamp.Format(time.RFC3339))
	return nil
}

// Verify compares current collection counts against the snapshot's recorded
// counts. It reports discrepancies without correcting anything.
func (m *Manager) Verify(ctx context.Context, migrationID string) (*model.VerificationReport, error) {
	meta, err := m.loadMeta(ctx, migrationID)
	if err != nil {
		return nil, err
	}

	report := &model.VerificationReport{
		MigrationID:      migrationID,
		VerificationTime: m.now(),
		CollectionCounts: make(map[string]int64, len(meta.Collections)),
	}
	for _, c := range meta.Collections {
		count, err := m.store.Count(ctx, c)
		if err != nil {
			return nil, exception.NewMigrationError(moduleName, fmt.Sprintf("failed to count collection '%s'", c), err, false, false)
		}
		report.CollectionCounts[c] = count
		if expected := meta.RecordCounts[c]; count != expected {
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("%s: expected %d records, found %d", c, expected, count))
		}
	}
	return report, nil
}

// ListSnapshots returns the metadata of every stored snapshot.
func (m *Manager) ListSnapshots(ctx context.Context) ([]*model.MigrationSnapshot, error) {
	var snapshots []*model.MigrationSnapshot
	err := m.backend.ListObjects(ctx, m.bucket, objectPrefix, func(objectName string) error {
		if !strings.HasSuffix(objectName, metaSuffix) {
			return nil
		}
		migrationID := strings.TrimSuffix(strings.TrimPrefix(objectName, objectPrefix), metaSuffix)
		meta, err := m.loadMeta(ctx, migrationID)
		if err != nil {
			logger.Warnf("Skipping unreadable snapshot '%s': %v", migrationID, err)
			return nil
		}
		snapshots = append(snapshots, metaToModel(*meta, dataObject(migrationID)))
		return nil
	})
	if err != nil {
		return nil, exception.NewMigrationError(moduleName, "failed to list snapshots", err, false, false)
	}
	return snapshots, nil
}

// Prune removes snapshots older than the given age and returns how many were
// removed.
func (m *Manager) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	snapshots, err := m.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-olderThan)
	var result *multierror.Error
	removed := 0
	for _, s := range snapshots {
		if !s.Timestamp.Before(cutoff) {
			continue
		}
		// Metadata goes first so a half-pruned snapshot is never listed.
		if err := m.backend.DeleteObject(ctx, m.bucket, metaObject(s.MigrationID)); err != nil {
			result = multierror.Append(result, fmt.Errorf("snapshot '%s': %w", s.MigrationID, err))
			continue
		}
		if err := m.backend.DeleteObject(ctx, m.bucket, dataObject(s.MigrationID)); err != nil {
			result = multierror.Append(result, fmt.Errorf("snapshot '%s' data: %w", s.MigrationID, err))
		}
		removed++
		logger.Infof("Pruned snapshot '%s' (created %s).", s.MigrationID, s.Timestamp.Format(time.RFC3339))
	}
	return removed, result.ErrorOrNil()
}

func (m *Manager) uploadJSON(ctx context.Context, objectName string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return exception.NewMigrationError(moduleName, fmt.Sprintf("failed to encode '%s'", objectName), err, false, false)
	}
	if err := m.backend.Upload(ctx, m.bucket, objectName, bytes.NewReader(payload), contentType); err != nil {
		return exception.NewMigrationError(moduleName, fmt.Sprintf("failed to upload '%s'", objectName), err, false, false)
	}
	return nil
}

func (m *Manager) loadMeta(ctx context.Context, migrationID string) (*snapshotMeta, error) {
	var meta snapshotMeta
	if err := m.downloadJSON(ctx, metaObject(migrationID), &meta); err != nil {
		return nil, exception.NewMigrationError(moduleName, fmt.Sprintf("snapshot '%s'", migrationID), exception.ErrSnapshotNotFound, false, false)
	}
	return &meta, nil
}

func (m *Manager) loadData(ctx context.Context, migrationID string) (*snapshotData, error) {
	var data snapshotData
	if err := m.downloadJSON(ctx, dataObject(migrationID), &data); err != nil {
		return nil, exception.NewMigrationError(moduleName, fmt.Sprintf("snapshot data for '%s'", migrationID), exception.ErrSnapshotNotFound, false, false)
	}
	return &data, nil
}

func (m *Manager) downloadJSON(ctx context.Context, objectName string, v interface{}) error {
	r, err := m.backend.Download(ctx, m.bucket, objectName)
	if err != nil {
		return err
	}
	defer r.Close()

	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}

func metaToModel(meta snapshotMeta, backupLocation string) *model.MigrationSnapshot {
	return &model.MigrationSnapshot{
		MigrationID:     meta.MigrationID,
		Timestamp:       meta.Timestamp,
		TransformerName: meta.TransformerName,
		Collections:     meta.Collections,
		RecordCounts:    meta.RecordCounts,
		BackupLocation:  backupLocation,
		Metadata:        meta.Metadata,
	}
}
