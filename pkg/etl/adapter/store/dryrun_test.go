package store

import (
	"context"
	"testing"

	"github.com/kurobane/migrata/pkg/etl/core/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDryRunStore_WritesNeverReachBase(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore("base")
	require.NoError(t, base.BulkInsert(ctx, "c", []model.Record{{"n": 1}}))

	dry := NewDryRunStore(base)
	require.NoError(t, dry.BulkInsert(ctx, "c", []model.Record{{"n": 2}, {"n": 3}}))

	// The overlay sees base plus buffered writes.
	n, err := dry.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 2, dry.WrittenRecords("c"))

	// The base is untouched.
	n, err = base.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDryRunStore_ReadAllMergesOverlay(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore("base")
	require.NoError(t, base.BulkInsert(ctx, "c", []model.Record{{"n": 1}}))

	dry := NewDryRunStore(base)
	require.NoError(t, dry.BulkInsert(ctx, "c", []model.Record{{"n": 2}}))

	rows, err := dry.ReadAll(ctx, "c")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0]["n"])
	assert.Equal(t, 2, rows[1]["n"])
}

func TestDryRunStore_ReadPageSpansBaseAndOverlay(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore("base")
	require.NoError(t, base.BulkInsert(ctx, "c", []model.Record{{"n": 1}, {"n": 2}, {"n": 3}}))

	dry := NewDryRunStore(base)
	require.NoError(t, dry.BulkInsert(ctx, "c", []model.Record{{"n": 4}, {"n": 5}}))

	page, err := dry.ReadPage(ctx, "c", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 3, page[0]["n"])
	assert.Equal(t, 4, page[1]["n"])

	page, err = dry.ReadPage(ctx, "c", 4, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 5, page[0]["n"])
}

func TestDryRunStore_DeleteAllMasksBase(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore("base")
	require.NoError(t, base.BulkInsert(ctx, "c", []model.Record{{"n": 1}, {"n": 2}}))

	dry := NewDryRunStore(base)
	removed, err := dry.DeleteAll(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err := dry.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Inserts after a masked delete are visible through the overlay.
	require.NoError(t, dry.BulkInsert(ctx, "c", []model.Record{{"n": 9}}))
	rows, err := dry.ReadAll(ctx, "c")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 9, rows[0]["n"])

	// The base still holds its records.
	n, err = base.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDryRunStore_TransactionRunsAgainstOverlay(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore("base")
	dry := NewDryRunStore(base)

	err := dry.InTransaction(ctx, func(tx Store) error {
		return tx.BulkInsert(ctx, "c", []model.Record{{"n": 1}})
	})
	require.NoError(t, err)

	n, _ := base.Count(ctx, "c")
	assert.Equal(t, int64(0), n)
	assert.Equal(t, 1, dry.WrittenRecords("c"))
}
