package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransformerRun(t *testing.T) {
	run := NewTransformerRun("patient_migration")

	assert.Equal(t, "patient_migration", run.TransformerName)
	assert.Equal(t, RunStatusConfigured, run.Status)
	assert.Contains(t, run.ID, "patient_migration_")
	assert.Empty(t, run.Errors)
	assert.Empty(t, run.Warnings)
	assert.NotNil(t, run.Stats)
	assert.Nil(t, run.EndTime)
	assert.Nil(t, run.RollbackOK)
}

func TestTransformerRun_ValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []RunStatus
	}{
		{
			name: "successful run with snapshot",
			path: []RunStatus{RunStatusSnapshotPending, RunStatusRunning, RunStatusCompleted},
		},
		{
			name: "successful run without snapshot",
			path: []RunStatus{RunStatusRunning, RunStatusCompleted},
		},
		{
			name: "failed run with rollback",
			path: []RunStatus{RunStatusRunning, RunStatusFailed, RunStatusRollbackAttempted, RunStatusFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := NewTransformerRun("tf")
			for _, next := range tt.path {
				require.NoError(t, run.TransitionTo(next))
			}
			assert.Equal(t, tt.path[len(tt.path)-1], run.Status)
		})
	}
}

func TestTransformerRun_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current RunStatus
		next    RunStatus
	}{
		{"configured to completed", RunStatusConfigured, RunStatusCompleted},
		{"configured to failed", RunStatusConfigured, RunStatusFailed},
		{"snapshot pending to completed", RunStatusSnapshotPending, RunStatusCompleted},
		{"running to rollback", RunStatusRunning, RunStatusRollbackAttempted},
		{"completed is terminal", RunStatusCompleted, RunStatusRunning},
		{"rollback cannot complete", RunStatusRollbackAttempted, RunStatusCompleted},
		{"failed cannot restart", RunStatusFailed, RunStatusRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := NewTransformerRun("tf")
			run.Status = tt.current
			err := run.TransitionTo(tt.next)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Invalid state transition")
			assert.Equal(t, tt.current, run.Status)
		})
	}
}

func TestTransformerRun_MarkAsCompleted(t *testing.T) {
	run := NewTransformerRun("tf")
	run.MarkAsRunning()
	run.MarkAsCompleted()

	assert.Equal(t, RunStatusCompleted, run.Status)
	require.NotNil(t, run.EndTime)
	assert.True(t, run.Succeeded())
	assert.True(t, run.Status.IsTerminal())
}

func TestTransformerRun_MarkAsFailed(t *testing.T) {
	run := NewTransformerRun("tf")
	run.MarkAsRunning()
	run.MarkAsFailed(errors.New("bulk insert rejected"))

	assert.Equal(t, RunStatusFailed, run.Status)
	require.NotNil(t, run.EndTime)
	assert.False(t, run.Succeeded())
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "bulk insert rejected")
}

func TestTransformerRun_MarkRollbackAttempted(t *testing.T) {
	run := NewTransformerRun("tf")
	run.MarkAsRunning()
	run.MarkAsFailed(errors.New("boom"))

	run.MarkRollbackAttempted(true)

	assert.Equal(t, RunStatusFailed, run.Status)
	require.NotNil(t, run.RollbackOK)
	assert.True(t, *run.RollbackOK)
	assert.False(t, run.Succeeded())
}

func TestTransformerRun_AddError_SkipsDuplicates(t *testing.T) {
	run := NewTransformerRun("tf")
	run.AddError(errors.New("connection refused"))
	run.AddError(errors.New("connection refused"))
	run.AddError(errors.New("timeout"))
	run.AddError(nil)

	assert.Len(t, run.Errors, 2)
}

func TestTransformerRun_Statistics(t *testing.T) {
	run := NewTransformerRun("tf")

	run.IncrementStat("records_processed", 1000)
	run.IncrementStat("records_processed", 500)
	run.IncrementStat("records_processed", -10) // ignored
	assert.Equal(t, 1500, run.Stats["records_processed"])

	run.SetStat("records_failed", 3)
	run.SetStat("records_failed", 1) // lowering is ignored
	assert.Equal(t, 3, run.Stats["records_failed"])
}

func TestTransformerRun_Duration(t *testing.T) {
	run := NewTransformerRun("tf")
	run.StartTime = time.Now().Add(-2 * time.Second)
	end := run.StartTime.Add(1500 * time.Millisecond)
	run.EndTime = &end

	assert.Equal(t, 1500*time.Millisecond, run.Duration())
}

func TestStatistics_ValueAndScan(t *testing.T) {
	stats := Statistics{"records_processed": 42, "records_failed": 1}

	val, err := stats.Value()
	require.NoError(t, err)

	var decoded Statistics
	require.NoError(t, decoded.Scan(val))
	assert.Equal(t, stats, decoded)

	var empty Statistics
	require.NoError(t, empty.Scan(nil))
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestFailureList_ValueAndScan(t *testing.T) {
	fl := FailureList{"first failure", "second failure"}

	val, err := fl.Value()
	require.NoError(t, err)

	var decoded FailureList
	require.NoError(t, decoded.Scan(val))
	assert.Equal(t, fl, decoded)

	var nilList FailureList
	val, err = nilList.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", val)
}

func TestRecord_Accessors(t *testing.T) {
	rec := Record{"name": "Alice", "age": float64(30), "visits": 4}

	name, ok := rec.GetString("name")
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)

	age, ok := rec.GetInt("age")
	assert.True(t, ok)
	assert.Equal(t, 30, age)

	visits, ok := rec.GetInt("visits")
	assert.True(t, ok)
	assert.Equal(t, 4, visits)

	_, ok = rec.GetString("missing")
	assert.False(t, ok)
	assert.Nil(t, rec.Get("missing"))

	clone := rec.Copy()
	clone["name"] = "Bob"
	assert.Equal(t, "Alice", rec["name"])
}

func TestVerificationReport_Clean(t *testing.T) {
	vr := &VerificationReport{MigrationID: "m1"}
	assert.True(t, vr.Clean())

	vr.Discrepancies = append(vr.Discrepancies, "patients: expected 10, found 8")
	assert.False(t, vr.Clean())
}
