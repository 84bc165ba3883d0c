package healthcare

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobane/migrata/pkg/etl/adapter/store"
	"github.com/kurobane/migrata/pkg/etl/core/config"
	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/transformer"
)

func testConfig() config.TransformationConfig {
	return config.TransformationConfig{
		BatchSize:      10,
		MaxRetries:     1,
		RetryDelayMs:   0,
		ValidationMode: "lenient",
	}
}

func newFixture(t *testing.T) (*transformer.Lifecycle, *store.MemoryStore, *store.MemoryStore) {
	t.Helper()
	source := store.NewMemoryStore("legacy")
	target := store.NewMemoryStore("target")
	return transformer.NewLifecycle(testConfig(), config.SnapshotConfig{}, source, target, nil), source, target
}

func legacyPatient(id, name, gender string) model.Record {
	return model.Record{
		"patient_id": id,
		"mrn":        "123456",
		"name":       name,
		"age":        42,
		"gender":     gender,
		"blood_type": "A+",
		"email":      "  Person@Example.COM ",
	}
}

func TestPatientTransformer_MigratesValidRecords(t *testing.T) {
	lc, source, target := newFixture(t)
	source.Seed(legacyPatientCollection, time.Now(),
		legacyPatient("PAT001", "  Alice Adams ", "F"),
		legacyPatient("PAT002", "Bob Brown", "M"),
		legacyPatient("PAT003", "Carol Clark", "unknown"),
	)

	result, err := lc.Execute(context.Background(), NewPatientTransformer(), transformer.Options{})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, result.Run.Status)
	assert.Equal(t, 3, result.Run.Stats["created"])

	records, err := target.ReadAll(context.Background(), patientCollection)
	require.NoError(t, err)
	require.Len(t, records, 3)

	byID := make(map[string]model.Record)
	for _, rec := range records {
		id, ok := rec.GetString("patient_id")
		require.True(t, ok)
		byID[id] = rec
	}
	alice := byID["PAT001"]
	assert.Equal(t, "Alice Adams", alice.Get("full_name"))
	assert.Equal(t, "female", alice.Get("gender"))
	assert.Equal(t, "person@example.com", alice.Get("email"))
	assert.Equal(t, "male", byID["PAT002"].Get("gender"))
	assert.Equal(t, "unknown", byID["PAT003"].Get("gender"))
}

func TestPatientTransformer_LenientModeSkipsInvalidRecords(t *testing.T) {
	lc, source, target := newFixture(t)
	source.Seed(legacyPatientCollection, time.Now(),
		legacyPatient("PAT001", "Alice Adams", "F"),
		legacyPatient("bad id", "No Body", "F"),
	)

	result, err := lc.Execute(context.Background(), NewPatientTransformer(), transformer.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Run.Stats["created"])
	assert.Equal(t, 1, result.Run.Stats["validation_errors"])
	assert.NotEmpty(t, result.Run.Errors)

	count, err := target.Count(context.Background(), patientCollection)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestPatientTransformer_SkipsExistingPatients(t *testing.T) {
	lc, source, target := newFixture(t)
	source.Seed(legacyPatientCollection, time.Now(),
		legacyPatient("PAT001", "Alice Adams", "F"),
		legacyPatient("PAT002", "Bob Brown", "M"),
	)
	target.Seed(patientCollection, time.Now(), model.Record{"patient_id": "PAT001", "full_name": "Alice Adams"})

	result, err := lc.Execute(context.Background(), NewPatientTransformer(), transformer.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Run.Stats["created"])
	assert.Equal(t, 1, result.Run.Stats["skipped_duplicates"])

	count, err := target.Count(context.Background(), patientCollection)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestAppointmentTransformer_RemapsPatients(t *testing.T) {
	lc, source, target := newFixture(t)
	target.Seed(patientCollection, time.Now(),
		model.Record{"patient_id": "PAT001"},
		model.Record{"patient_id": "PAT002"},
	)
	source.Seed(legacyAppointmentCollection, time.Now(),
		model.Record{"appointment_id": "APT-1", "patient_id": "PAT001", "scheduled_at": "2026-09-01", "status": " Scheduled "},
		model.Record{"appointment_id": "APT-2", "patient_id": "PAT002", "scheduled_at": "2026-09-02", "status": "DONE"},
	)

	result, err := lc.Execute(context.Background(), NewAppointmentTransformer(), transformer.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Run.Stats["created"])

	records, err := target.ReadAll(context.Background(), appointmentCollection)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		status, ok := rec.GetString("status")
		require.True(t, ok)
		assert.Contains(t, []string{"scheduled", "done"}, status)
	}
}

func TestAppointmentTransformer_OrphansAreSkipped(t *testing.T) {
	lc, source, target := newFixture(t)
	target.Seed(patientCollection, time.Now(), model.Record{"patient_id": "PAT001"})
	source.Seed(legacyAppointmentCollection, time.Now(),
		model.Record{"appointment_id": "APT-1", "patient_id": "PAT001", "scheduled_at": "2026-09-01", "status": "scheduled"},
		model.Record{"appointment_id": "APT-2", "patient_id": "PAT999", "scheduled_at": "2026-09-02", "status": "scheduled"},
	)

	result, err := lc.Execute(context.Background(), NewAppointmentTransformer(), transformer.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Run.Stats["created"])
	assert.Equal(t, 1, result.Run.Stats["skipped_orphans"])
	assert.NotEmpty(t, result.Run.Errors)

	count, err := target.Count(context.Background(), appointmentCollection)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
