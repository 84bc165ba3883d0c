// Package healthcare contains example transformers migrating a legacy
// healthcare system into the target schema. They exercise the full toolkit:
// streamed extraction, validation, field transforms, foreign key mapping and
// chunked loading.
package healthcare

import (
	"context"
	"fmt"
	"strings"

	"github.com/kurobane/migrata/pkg/etl/core/model"
	"github.com/kurobane/migrata/pkg/etl/transformer"
	"github.com/kurobane/migrata/pkg/etl/validation"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

const (
	legacyPatientCollection     = "legacy_patients"
	patientCollection           = "patients"
	legacyAppointmentCollection = "legacy_appointments"
	appointmentCollection       = "appointments"
)

// RegisterAll registers the healthcare transformers. The appointment
// transformer resolves patients migrated in the same session, so "patients"
// should run first; the registry's sorted order already does that.
func RegisterAll(reg *transformer.Registry) error {
	if err := reg.Register("patients", NewPatientTransformer); err != nil {
		return err
	}
	return reg.Register("appointments", NewAppointmentTransformer)
}

// processable returns the records a lenient run continues with: those that
// passed every rule plus those with warning-level failures only.
func processable(summary *validation.BatchSummary) []model.Record {
	records := make([]model.Record, 0, len(summary.ValidRecords)+len(summary.WarningRecords))
	records = append(records, summary.ValidRecords...)
	for _, issue := range summary.WarningRecords {
		records = append(records, issue.Record)
	}
	return records
}

func lowercase(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		return strings.ToLower(s), nil
	}
	return v, nil
}

func trimSpace(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return v, nil
}

// normalizeGender maps the legacy single-letter labels onto the target
// vocabulary. Expects a lowercased input.
func normalizeGender(v interface{}) (interface{}, error) {
	switch v {
	case "m", "male":
		return "male", nil
	case "f", "female":
		return "female", nil
	case "other":
		return "other", nil
	case "u", "unknown", "", nil:
		return "unknown", nil
	}
	return nil, fmt.Errorf("unrecognized gender label '%v'", v)
}

// PatientTransformer migrates legacy patient rows into the patients
// collection, skipping records that already exist in the target.
type PatientTransformer struct{}

// NewPatientTransformer is the registry factory for PatientTransformer.
func NewPatientTransformer() transformer.Transformer { return &PatientTransformer{} }

// Name implements transformer.Transformer.
func (t *PatientTransformer) Name() string { return "patients" }

// AffectedCollections implements transformer.CollectionAware.
func (t *PatientTransformer) AffectedCollections() []string {
	return []string{patientCollection}
}

// Run implements transformer.Transformer.
func (t *PatientTransformer) Run(ctx context.Context, tk *transformer.Toolkit) error {
	tk.AddValidationRule(validation.NotEmptyString("patient_id"))
	tk.AddValidationRule(validation.PatientIDFormat("patient_id"))
	tk.AddValidationRule(validation.MedicalRecordNumber("mrn"))
	tk.AddValidationRule(validation.AgeRange("age"))
	tk.AddValidationRule(validation.GenderFormat("gender"))
	tk.AddValidationRule(validation.BloodTypeFormat("blood_type"))

	_, err := tk.ProcessWithRetry(ctx, tk.StreamData(legacyPatientCollection),
		func(ctx context.Context, batch []model.Record) error {
			summary, err := tk.ValidateBatch(batch)
			if err != nil {
				return err
			}

			out := make([]model.Record, 0, len(batch))
			for _, legacy := range processable(summary) {
				patientID := legacy.Get("patient_id")
				if _, exists := tk.CheckDuplicate(ctx, patientCollection, "patient_id", patientID); exists {
					tk.Run().IncrementStat("skipped_duplicates", 1)
					continue
				}
				out = append(out, t.transform(tk, legacy))
			}
			tk.BulkInsertWithLogging(ctx, patientCollection, out)
			return nil
		})
	return err
}

// transform builds one target patient record from its legacy row.
func (t *PatientTransformer) transform(tk *transformer.Toolkit, legacy model.Record) model.Record {
	return model.Record{
		"patient_id":            legacy.Get("patient_id"),
		"medical_record_number": legacy.Get("mrn"),
		"full_name":             tk.TransformField(legacy.Get("name"), trimSpace),
		"age":                   legacy.Get("age"),
		"gender":                tk.TransformField(legacy.Get("gender"), lowercase, normalizeGender),
		"blood_type":            tk.TransformField(legacy.Get("blood_type"), trimSpace),
		"email":                 tk.TransformField(legacy.Get("email"), trimSpace, lowercase),
	}
}

// AppointmentTransformer migrates legacy appointments, remapping each one to
// the patient migrated in the same session.
type AppointmentTransformer struct {
	patientIDs map[interface{}]interface{}
}

// NewAppointmentTransformer is the registry factory for
// AppointmentTransformer.
func NewAppointmentTransformer() transformer.Transformer { return &AppointmentTransformer{} }

// Name implements transformer.Transformer.
func (t *AppointmentTransformer) Name() string { return "appointments" }

// AffectedCollections implements transformer.CollectionAware.
func (t *AppointmentTransformer) AffectedCollections() []string {
	return []string{appointmentCollection}
}

// Run implements transformer.Transformer.
func (t *AppointmentTransformer) Run(ctx context.Context, tk *transformer.Toolkit) error {
	tk.AddValidationRule(validation.NotEmptyString("appointment_id"))
	tk.AddValidationRule(validation.NotEmptyString("patient_id"))
	tk.AddValidationRule(validation.DateFormat("scheduled_at", "2006-01-02"))

	byPatient, err := tk.BuildIDMapping(ctx, patientCollection, "patient_id")
	if err != nil {
		return err
	}
	t.patientIDs = make(map[interface{}]interface{}, len(byPatient))
	for key := range byPatient {
		t.patientIDs[key] = key
	}

	_, err = tk.ProcessWithRetry(ctx, tk.StreamData(legacyAppointmentCollection),
		func(ctx context.Context, batch []model.Record) error {
			summary, err := tk.ValidateBatch(batch)
			if err != nil {
				return err
			}

			out := make([]model.Record, 0, len(batch))
			for _, legacy := range processable(summary) {
				patientID := tk.MapForeignKey(legacy.Get("patient_id"), t.patientIDs, nil)
				if patientID == nil {
					// Orphaned appointment; already recorded as a run error.
					tk.Run().IncrementStat("skipped_orphans", 1)
					continue
				}
				out = append(out, model.Record{
					"appointment_id": legacy.Get("appointment_id"),
					"patient_id":     patientID,
					"scheduled_at":   tk.TransformField(legacy.Get("scheduled_at"), trimSpace),
					"status":         tk.TransformField(legacy.Get("status"), trimSpace, lowercase),
				})
			}
			tk.BulkInsertWithLogging(ctx, appointmentCollection, out)
			return nil
		})
	return err
}

// Cleanup implements transformer.Cleaner.
func (t *AppointmentTransformer) Cleanup(ctx context.Context) error {
	t.patientIDs = nil
	logger.Debugf("Released appointment patient ID mapping.")
	return nil
}
