package store

import (
	"context"
	"sync"

	"github.com/kurobane/migrata/pkg/etl/core/model"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

// DryRunStore is a write-buffering overlay over a base store. Reads see the
// base data plus any writes buffered during the rehearsal; nothing ever
// reaches the base store. Discarding the overlay discards the rehearsal.
type DryRunStore struct {
	mu      sync.RWMutex
	base    Store
	overlay map[string][]model.Record
	cleared map[string]bool
}

// NewDryRunStore wraps base in a dry-run overlay.
func NewDryRunStore(base Store) *DryRunStore {
	return &DryRunStore{
		base:    base,
		overlay: make(map[string][]model.Record),
		cleared: make(map[string]bool),
	}
}

// Name implements Store.
func (d *DryRunStore) Name() string { return d.base.Name() + " (dry-run)" }

// WrittenRecords reports how many records the rehearsal buffered for the
// collection.
func (d *DryRunStore) WrittenRecords(collection string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.overlay[collection])
}

// Count implements Store.
func (d *DryRunStore) Count(ctx context.Context, collection string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.cleared[collection] {
		return int64(len(d.overlay[collection])), nil
	}
	n, err := d.base.Count(ctx, collection)
	if err != nil {
		return 0, err
	}
	return n + int64(len(d.overlay[collection])), nil
}

// ReadPage implements Store. Buffered records sort after the base records.
func (d *DryRunStore) ReadPage(ctx context.Context, collection string, offset, limit int) ([]model.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []model.Record
	if !d.cleared[collection] {
		page, err := d.base.ReadPage(ctx, collection, offset, limit)
		if err != nil {
			return nil, err
		}
		out = page
		if len(out) == limit {
			return out, nil
		}
		// The base ran out; the remainder of the page comes from the overlay.
		baseCount, err := d.base.Count(ctx, collection)
		if err != nil {
			return nil, err
		}
		offset -= int(baseCount)
		if offset < 0 {
			offset = 0
		}
		limit -= len(out)
	}

	buffered := d.overlay[collection]
	if offset < len(buffered) {
		end := offset + limit
		if end > len(buffered) {
			end = len(buffered)
		}
		for _, r := range buffered[offset:end] {
			out = append(out, r.Copy())
		}
	}
	return out, nil
}

// ReadAll implements Store.
func (d *DryRunStore) ReadAll(ctx context.Context, collection string) ([]model.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []model.Record
	if !d.cleared[collection] {
		base, err := d.base.ReadAll(ctx, collection)
		if err != nil {
			return nil, err
		}
		out = base
	}
	for _, r := range d.overlay[collection] {
		out = append(out, r.Copy())
	}
	return out, nil
}

// BulkInsert implements Store. Records land in the overlay only.
func (d *DryRunStore) BulkInsert(ctx context.Context, collection string, records []model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range records {
		d.overlay[collection] = append(d.overlay[collection], r.Copy())
	}
	logger.Debugf("Dry-run: buffered %d records for collection '%s' (not persisted).", len(records), collection)
	return nil
}

// DeleteAll implements Store. The base data is masked, not removed.
func (d *DryRunStore) DeleteAll(ctx context.Context, collection string) (int64, error) {
	n, err := d.Count(ctx, collection)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.cleared[collection] = true
	delete(d.overlay, collection)
	d.mu.Unlock()
	logger.Debugf("Dry-run: masked %d records in collection '%s' (not deleted).", n, collection)
	return n, nil
}

// InTransaction implements Store. The overlay already guarantees the base is
// untouched, so fn runs against the overlay directly.
func (d *DryRunStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(d)
}

// Close implements Store. The base store stays open; its owner closes it.
func (d *DryRunStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overlay = make(map[string][]model.Record)
	d.cleared = make(map[string]bool)
	return nil
}
