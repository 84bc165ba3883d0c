// Package store defines the collection-oriented data store abstraction used
// by transformers and the snapshot manager, plus in-memory and dry-run
// implementations. Database-backed stores live in the gormstore subpackage.
package store

import (
	"context"
	"time"

	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/executor"
)

// Store is an opaque read/write/count interface over named record
// collections. Implementations must be safe for sequential use from a single
// run; cross-run sharing is coordinated by the session.
type Store interface {
	// Name identifies the store in logs and snapshot metadata.
	Name() string
	// Count returns the number of records in the collection. A collection
	// that does not exist counts as zero.
	Count(ctx context.Context, collection string) (int64, error)
	// ReadPage returns up to limit records starting at offset, in stable
	// store order.
	ReadPage(ctx context.Context, collection string, offset, limit int) ([]model.Record, error)
	// ReadAll returns every record in the collection.
	ReadAll(ctx context.Context, collection string) ([]model.Record, error)
	// BulkInsert appends the records to the collection.
	BulkInsert(ctx context.Context, collection string, records []model.Record) error
	// DeleteAll removes every record from the collection and returns the
	// number removed.
	DeleteAll(ctx context.Context, collection string) (int64, error)
	// InTransaction runs fn atomically: every write made through tx is either
	// fully applied or fully discarded.
	InTransaction(ctx context.Context, fn func(tx Store) error) error
	// Close releases underlying resources.
	Close() error
}

// TimestampedStore is an optional capability for stores that track record
// creation times. It enables the delete_new_records rollback strategy.
type TimestampedStore interface {
	Store
	// DeleteCreatedAfter removes records created strictly after cutoff and
	// returns the number removed.
	DeleteCreatedAfter(ctx context.Context, collection string, cutoff time.Time) (int64, error)
}

// PageSource streams a collection page by page, adapting a Store to the
// executor's Source interface so large collections are never loaded whole.
type PageSource struct {
	store      Store
	collection string
	pageSize   int

	buf  []model.Record
	pos  int
	next int
	done bool
}

// NewPageSource creates a PageSource over the given collection. A pageSize
// of zero or less defaults to 1000.
func NewPageSource(s Store, collection string, pageSize int) *PageSource {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &PageSource{store: s, collection: collection, pageSize: pageSize}
}

// Next implements executor.Source.
func (p *PageSource) Next(ctx context.Context) (model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.pos >= len(p.buf) {
		if p.done {
			return nil, executor.ErrNoMoreRecords
		}
		page, err := p.store.ReadPage(ctx, p.collection, p.next, p.pageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			p.done = true
			return nil, executor.ErrNoMoreRecords
		}
		if len(page) < p.pageSize {
			p.done = true
		}
		p.buf = page
		p.pos = 0
		p.next += len(page)
	}
	rec := p.buf[p.pos]
	p.pos++
	return rec, nil
}
