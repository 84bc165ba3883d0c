package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobane/migrata/pkg/etl/adapter/store"
	"github.com/kurobane/migrata/pkg/etl/core/config"
	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/infrastructure/repository/outcome"
	"github.com/kurobane/migrata/pkg/etl/transformer"
)

type stubTransformer struct {
	name string
	err  error
}

func (s *stubTransformer) Name() string { return s.name }

func (s *stubTransformer) Run(ctx context.Context, tk *transformer.Toolkit) error { return s.err }

// capturingRepo records saved outcomes, optionally failing every save.
type capturingRepo struct {
	mu      sync.Mutex
	saved   []*outcome.Record
	saveErr error
}

func (r *capturingRepo) Save(ctx context.Context, rec *outcome.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, rec)
	return nil
}

func (r *capturingRepo) ListRecent(ctx context.Context, limit int) ([]outcome.Record, error) {
	return nil, nil
}

func (r *capturingRepo) ListByTransformer(ctx context.Context, name string, limit int) ([]outcome.Record, error) {
	return nil, nil
}

func newOrchestratorFixture(t *testing.T, repo outcome.Repository) (*Orchestrator, *transformer.Registry) {
	t.Helper()
	registry := transformer.NewRegistry()
	lifecycle := transformer.NewLifecycle(
		config.TransformationConfig{BatchSize: 10, ValidationMode: "lenient"},
		config.SnapshotConfig{},
		store.NewMemoryStore("legacy"),
		store.NewMemoryStore("target"),
		nil,
	)
	return NewOrchestrator(registry, lifecycle, repo, nil, nil, 10), registry
}

func register(t *testing.T, registry *transformer.Registry, name string, runErr error) {
	t.Helper()
	require.NoError(t, registry.Register(name, func() transformer.Transformer {
		return &stubTransformer{name: name, err: runErr}
	}))
}

func TestOrchestrator_RunAllSucceeds(t *testing.T) {
	repo := &capturingRepo{}
	o, registry := newOrchestratorFixture(t, repo)
	register(t, registry, "patient_migration", nil)
	register(t, registry, "visit_migration", nil)

	summary, err := o.Run(context.Background(), nil, transformer.Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.ExitCode())
	assert.Len(t, repo.saved, 2)
}

func TestOrchestrator_IsolatesFailures(t *testing.T) {
	repo := &capturingRepo{}
	o, registry := newOrchestratorFixture(t, repo)
	register(t, registry, "a_failing", errors.New("boom"))
	register(t, registry, "b_succeeding", nil)

	summary, err := o.Run(context.Background(), nil, transformer.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.ExitCode())
	require.Len(t, summary.Reports, 2)
	assert.Error(t, summary.Reports[0].Err)
	assert.NoError(t, summary.Reports[1].Err)
	assert.Equal(t, model.RunStatusFailed, summary.Reports[0].Result.Run.Status)

	// Both runs were persisted, the failed one included.
	require.Len(t, repo.saved, 2)
	assert.False(t, repo.saved[0].Success)
	assert.True(t, repo.saved[1].Success)
}

func TestOrchestrator_SelectionFilter(t *testing.T) {
	o, registry := newOrchestratorFixture(t, nil)
	register(t, registry, "patient_migration", nil)
	register(t, registry, "visit_migration", nil)

	summary, err := o.Run(context.Background(), []string{"visit_migration"}, transformer.Options{})
	require.NoError(t, err)
	require.Len(t, summary.Reports, 1)
	assert.Equal(t, "visit_migration", summary.Reports[0].TransformerName)
}

func TestOrchestrator_UnknownTransformerAbortsUpFront(t *testing.T) {
	repo := &capturingRepo{}
	o, registry := newOrchestratorFixture(t, repo)
	register(t, registry, "patient_migration", nil)

	_, err := o.Run(context.Background(), []string{"patient_migration", "typo"}, transformer.Options{})
	require.Error(t, err)
	// Nothing ran.
	assert.Empty(t, repo.saved)
}

func TestOrchestrator_PersistFailureOnlyWarns(t *testing.T) {
	repo := &capturingRepo{saveErr: errors.New("db down")}
	o, registry := newOrchestratorFixture(t, repo)
	register(t, registry, "patient_migration", nil)

	summary, err := o.Run(context.Background(), nil, transformer.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestOrchestrator_ContextCancellationAborts(t *testing.T) {
	o, registry := newOrchestratorFixture(t, nil)
	register(t, registry, "patient_migration", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := o.Run(ctx, nil, transformer.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, summary.Reports)
}

func TestSummary_Duration(t *testing.T) {
	s := &Summary{StartedAt: time.Now().Add(-2 * time.Second), FinishedAt: time.Now()}
	assert.InDelta(t, 2.0, s.Duration().Seconds(), 0.5)
}
