package export

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/profiler"
	"github.com/kurobane/migrata/pkg/etl/session"
	"github.com/kurobane/migrata/pkg/etl/transformer"
)

func sampleSummary(t *testing.T) *session.Summary {
	t.Helper()
	ok := model.NewTransformerRun("patient_migration")
	ok.MarkAsRunning()
	ok.IncrementStat("processed", 100)
	ok.MarkAsCompleted()

	failed := model.NewTransformerRun("visit_migration")
	failed.MarkAsRunning()
	failed.MarkAsFailed(assert.AnError)
	failed.MarkRollbackAttempted(true)

	return &session.Summary{
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Succeeded:  1,
		Failed:     1,
		Reports: []session.RunReport{
			{TransformerName: ok.TransformerName, Result: &transformer.RunResult{Run: ok, Profile: profiler.New().Report()}},
			{TransformerName: failed.TransformerName, Result: &transformer.RunResult{Run: failed, Profile: profiler.New().Report()}, Err: assert.AnError},
		},
	}
}

func TestReporter_ExportWritesFile(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir, "NONE")

	path, err := r.Export(sampleSummary(t))
	require.NoError(t, err)
	require.NotEmpty(t, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Contains(t, path, "session_")
}

func TestReporter_ExportEmptySummaryIsNoop(t *testing.T) {
	r := NewReporter(t.TempDir(), "")
	path, err := r.Export(&session.Summary{})
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestReporter_RejectsUnknownCompression(t *testing.T) {
	r := NewReporter(t.TempDir(), "ZSTD-TURBO")
	_, err := r.Export(sampleSummary(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compression")
}
