package store

import (
	"context"
	"sync"
	"time"

	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/support/exception"
)

const memoryModuleName = "store.memory"

// timestamped pairs a record with its insertion time so the
// delete_new_records rollback strategy can tell old records from new ones.
type timestamped struct {
	record    model.Record
	createdAt time.Time
}

// MemoryStore is an in-memory Store used by tests, examples and dry
// rehearsals of new transformers. It tracks creation timestamps and therefore
// satisfies TimestampedStore.
type MemoryStore struct {
	mu          sync.RWMutex
	name        string
	collections map[string][]timestamped
	now         func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:        name,
		collections: make(map[string][]timestamped),
		now:         time.Now,
	}
}

// Name implements Store.
func (m *MemoryStore) Name() string { return m.name }

// Seed inserts records with the given creation time, bypassing the usual
// insert path. Intended for test and example setup.
func (m *MemoryStore) Seed(collection string, createdAt time.Time, records ...model.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.collections[collection] = append(m.collections[collection], timestamped{record: r.Copy(), createdAt: createdAt})
	}
}

// Count implements Store.
func (m *MemoryStore) Count(ctx context.Context, collection string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.collections[collection])), nil
}

// ReadPage implements Store.
func (m *MemoryStore) ReadPage(ctx context.Context, collection string, offset, limit int) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.collections[collection]
	if offset >= len(rows) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	out := make([]model.Record, 0, end-offset)
	for _, t := range rows[offset:end] {
		out = append(out, t.record.Copy())
	}
	return out, nil
}

// ReadAll implements Store.
func (m *MemoryStore) ReadAll(ctx context.Context, collection string) ([]model.Record, error) {
	m.mu.RLock()
	n := len(m.collections[collection])
	m.mu.RUnlock()
	return m.ReadPage(ctx, collection, 0, n)
}

// BulkInsert implements Store.
func (m *MemoryStore) BulkInsert(ctx context.Context, collection string, records []model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, r := range records {
		m.collections[collection] = append(m.collections[collection], timestamped{record: r.Copy(), createdAt: now})
	}
	return nil
}

// DeleteAll implements Store.
func (m *MemoryStore) DeleteAll(ctx context.Context, collection string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.collections[collection]))
	delete(m.collections, collection)
	return n, nil
}

// DeleteCreatedAfter implements TimestampedStore.
func (m *MemoryStore) DeleteCreatedAfter(ctx context.Context, collection string, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.collections[collection]
	kept := rows[:0:0]
	var removed int64
	for _, t := range rows {
		if t.createdAt.After(cutoff) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	m.collections[collection] = kept
	return removed, nil
}

// InTransaction implements Store. The store's state is copied before fn runs
// and restored wholesale if fn returns an error, giving all-or-nothing
// semantics.
func (m *MemoryStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	backup := make(map[string][]timestamped, len(m.collections))
	for name, rows := range m.collections {
		cp := make([]timestamped, len(rows))
		copy(cp, rows)
		backup[name] = cp
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.collections = backup
		m.mu.Unlock()
		return exception.NewMigrationError(memoryModuleName, "transaction rolled back", err, false, false)
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
