package transformer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobane/migrata/pkg/etl/adapter/storage"
	"github.com/kurobane/migrata/pkg/etl/adapter/storage/local"
	"github.com/kurobane/migrata/pkg/etl/adapter/store"
	"github.com/kurobane/migrata/pkg/etl/core/config"
	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/snapshot"
)

// fakeTransformer copies every source patient into the target, optionally
// failing after the writes to exercise rollback.
type fakeTransformer struct {
	name        string
	failAfter   bool
	collections []string
	cleanedUp   bool
}

func (f *fakeTransformer) Name() string { return f.name }

func (f *fakeTransformer) AffectedCollections() []string { return f.collections }

func (f *fakeTransformer) Cleanup(ctx context.Context) error {
	f.cleanedUp = true
	return nil
}

func (f *fakeTransformer) Run(ctx context.Context, tk *Toolkit) error {
	records, err := tk.ExtractData(ctx, "legacy_patients")
	if err != nil {
		return err
	}
	tk.BulkInsertWithLogging(ctx, "patients", records)
	if f.failAfter {
		return errors.New("simulated failure after writes")
	}
	return nil
}

func testConfig() config.TransformationConfig {
	return config.TransformationConfig{
		BatchSize:      10,
		MaxRetries:     1,
		RetryDelayMs:   0,
		ValidationMode: "lenient",
	}
}

func newLifecycleFixture(t *testing.T) (*Lifecycle, *store.MemoryStore, *store.MemoryStore) {
	t.Helper()
	source := store.NewMemoryStore("legacy")
	target := store.NewMemoryStore("target")
	for i := 0; i < 5; i++ {
		source.Seed("legacy_patients", time.Now(), model.Record{"patient_id": i, "name": "patient"})
	}

	backend, err := local.NewLocalBackend(storage.Config{Type: "local", BaseDir: t.TempDir()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	snapCfg := config.SnapshotConfig{Enabled: true, Strategy: snapshot.StrategyRestoreBackup}
	mgr := snapshot.NewManager(target, backend, "backups")
	return NewLifecycle(testConfig(), snapCfg, source, target, mgr), source, target
}

func TestLifecycle_SuccessfulRun(t *testing.T) {
	lc, _, target := newLifecycleFixture(t)
	tr := &fakeTransformer{name: "patient_migration", collections: []string{"patients"}}

	result, err := lc.Execute(context.Background(), tr, Options{EnableRollback: true})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, result.Run.Status)
	assert.True(t, result.Run.Succeeded())
	assert.NotNil(t, result.Run.EndTime)
	assert.Equal(t, 5, result.Run.Stats["total_extracted"])
	assert.Equal(t, 5, result.Run.Stats["created"])
	assert.True(t, tr.cleanedUp)

	count, err := target.Count(context.Background(), "patients")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestLifecycle_ProfilesTotalMigration(t *testing.T) {
	lc, _, _ := newLifecycleFixture(t)
	tr := &fakeTransformer{name: "patient_migration"}

	result, err := lc.Execute(context.Background(), tr, Options{})
	require.NoError(t, err)

	ops := make([]string, 0, len(result.Profile.Operations))
	for _, op := range result.Profile.Operations {
		ops = append(ops, op.Operation)
	}
	assert.Contains(t, ops, "total_migration")
}

func TestLifecycle_DryRunLeavesTargetUntouched(t *testing.T) {
	lc, _, target := newLifecycleFixture(t)
	tr := &fakeTransformer{name: "patient_migration", collections: []string{"patients"}}

	result, err := lc.Execute(context.Background(), tr, Options{DryRun: true, EnableRollback: true})
	require.NoError(t, err)

	assert.True(t, result.Run.DryRun)
	assert.Equal(t, model.RunStatusCompleted, result.Run.Status)
	// The transformer observed its own writes through the overlay but nothing
	// was persisted.
	assert.Equal(t, 5, result.Run.Stats["created"])
	count, err := target.Count(context.Background(), "patients")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestLifecycle_FailedRunRollsBack(t *testing.T) {
	lc, _, target := newLifecycleFixture(t)
	target.Seed("patients", time.Now(), model.Record{"patient_id": 999, "name": "pre-existing"})
	tr := &fakeTransformer{name: "patient_migration", failAfter: true, collections: []string{"patients"}}

	result, err := lc.Execute(context.Background(), tr, Options{EnableRollback: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulated failure")

	assert.Equal(t, model.RunStatusFailed, result.Run.Status)
	require.NotNil(t, result.Run.RollbackOK)
	assert.True(t, *result.Run.RollbackOK)
	assert.NotEmpty(t, result.Run.Errors)

	// The transaction already discarded the writes; rollback restored the
	// snapshot state on top of that.
	count, err := target.Count(context.Background(), "patients")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLifecycle_FailureWithoutRollbackStaysFailed(t *testing.T) {
	lc, _, _ := newLifecycleFixture(t)
	tr := &fakeTransformer{name: "patient_migration", failAfter: true, collections: []string{"patients"}}

	result, err := lc.Execute(context.Background(), tr, Options{EnableRollback: false})
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, result.Run.Status)
	assert.Nil(t, result.Run.RollbackOK)
}

func TestLifecycle_BatchSizeOverride(t *testing.T) {
	lc, source, _ := newLifecycleFixture(t)
	for i := 5; i < 25; i++ {
		source.Seed("legacy_patients", time.Now(), model.Record{"patient_id": i})
	}
	tr := &fakeTransformer{name: "patient_migration"}

	result, err := lc.Execute(context.Background(), tr, Options{DryRun: true, BatchSize: 7})
	require.NoError(t, err)
	assert.Equal(t, 25, result.Run.Stats["total_extracted"])
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("patient_migration", func() Transformer {
		return &fakeTransformer{name: "patient_migration"}
	}))

	assert.Error(t, reg.Register("patient_migration", func() Transformer { return nil }))
	assert.Error(t, reg.Register("", func() Transformer { return nil }))
	assert.Error(t, reg.Register("nil_factory", nil))

	tr, err := reg.Get("patient_migration")
	require.NoError(t, err)
	assert.Equal(t, "patient_migration", tr.Name())

	_, err = reg.Get("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"patient_migration"}, reg.Names())
}
