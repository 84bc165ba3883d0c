package validation

import (
	"math"
	"testing"

	"github.com/kurobane/migrata/pkg/etl/core/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateRecord(t *testing.T) {
	v := NewValidator(
		NotEmptyString("name"),
		EmailFormat("email"),
	)

	results := v.ValidateRecord(model.Record{"name": "Alice", "email": "alice@example.com"})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Valid, "rule %s should pass", r.RuleName)
	}

	results = v.ValidateRecord(model.Record{"name": "  ", "email": "not-an-email"})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Valid, "rule %s should fail", r.RuleName)
	}
}

func TestValidator_MissingFieldReadsAsNil(t *testing.T) {
	v := NewValidator(NotNull("age"))

	results := v.ValidateRecord(model.Record{"name": "Bob"})
	require.Len(t, results, 1)
	assert.False(t, results[0].Valid)
	assert.Nil(t, results[0].Value)
}

func TestValidator_PanickingRuleBecomesErrorResult(t *testing.T) {
	v := NewValidator()
	v.AddRule(Rule{
		Field: "payload",
		Name:  "exploding_rule",
		Check: func(value interface{}) bool {
			panic("bad cast")
		},
	})

	results := v.ValidateRecord(model.Record{"payload": 1})
	require.Len(t, results, 1)
	assert.False(t, results[0].Valid)
	assert.Equal(t, SeverityError, results[0].Severity)
	assert.Contains(t, results[0].Message, "bad cast")
	assert.Equal(t, "exploding_rule", results[0].RuleName)
}

func TestValidator_ValidateBatchPartitionsBySeverity(t *testing.T) {
	ageWarning := AgeRange("age")
	ageWarning.Severity = SeverityWarning

	v := NewValidator(
		NotEmptyString("name"),
		ageWarning,
	)

	records := []model.Record{
		{"name": "Alice", "age": 30},   // valid
		{"name": "Bob", "age": 200},    // warning only
		{"name": "", "age": 200},       // error wins over warning
		{"name": "Carol", "age": 41},   // valid
	}

	summary := v.ValidateBatch(records)

	assert.Equal(t, 4, summary.TotalRecords)
	assert.Len(t, summary.ValidRecords, 2)
	require.Len(t, summary.WarningRecords, 1)
	assert.Equal(t, 1, summary.WarningRecords[0].Index)
	require.Len(t, summary.ErrorRecords, 1)
	assert.Equal(t, 2, summary.ErrorRecords[0].Index)

	assert.NotEmpty(t, summary.ErrorMessages())
	assert.NotEmpty(t, summary.WarningMessages())
}

func TestValidator_EmptyBatch(t *testing.T) {
	v := NewValidator(NotNull("id"))
	summary := v.ValidateBatch(nil)

	assert.Equal(t, 0, summary.TotalRecords)
	assert.Empty(t, summary.ValidRecords)
	assert.Empty(t, summary.ErrorRecords)
	assert.Empty(t, summary.WarningRecords)
}

func TestCommonRules(t *testing.T) {
	tests := []struct {
		name  string
		rule  Rule
		value interface{}
		want  bool
	}{
		{"not_null passes", NotNull("f"), 0, true},
		{"not_null fails on nil", NotNull("f"), nil, false},
		{"not_empty rejects whitespace", NotEmptyString("f"), "   ", false},
		{"email valid", EmailFormat("f"), "user@domain.co", true},
		{"email missing tld", EmailFormat("f"), "user@domain", false},
		{"phone valid", PhoneFormat("f"), "+1 (555) 123-4567", true},
		{"phone too short", PhoneFormat("f"), "555-1234", false},
		{"phone letters", PhoneFormat("f"), "call-me-maybe", false},
		{"date valid", DateFormat("f", ""), "2024-02-29", true},
		{"date invalid", DateFormat("f", ""), "2024-13-01", false},
		{"range inside", NumericRange("f", 0, 10), 5, true},
		{"range above", NumericRange("f", 0, 10), 11, false},
		{"range numeric string", NumericRange("f", 0, 10), "7.5", true},
		{"range open upper bound", NumericRange("f", 0, math.Inf(1)), 1e9, true},
		{"range non-numeric", NumericRange("f", 0, 10), "abc", false},
		{"length within", StringLength("f", 2, 5), "abcd", true},
		{"length too short", StringLength("f", 2, 5), "a", false},
		{"length no upper bound", StringLength("f", 2, 0), "abcdefghij", true},
		{"regex match", RegexMatch("f", `^P\d+$`), "P123", true},
		{"regex mismatch", RegexMatch("f", `^P\d+$`), "X123", false},
		{"choices hit", Choices("f", "a", "b"), "b", true},
		{"choices miss", Choices("f", "a", "b"), "c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Check(tt.value))
		})
	}
}

func TestHealthcareRules(t *testing.T) {
	tests := []struct {
		name  string
		rule  Rule
		value interface{}
		want  bool
	}{
		{"patient id valid", PatientIDFormat("f"), "PAT001A", true},
		{"patient id lowercase", PatientIDFormat("f"), "pat001a", false},
		{"patient id too short", PatientIDFormat("f"), "P1", false},
		{"mrn with separators", MedicalRecordNumber("f"), "123-456-789", true},
		{"mrn too short", MedicalRecordNumber("f"), "12-34", false},
		{"mrn non-numeric", MedicalRecordNumber("f"), "12A456", false},
		{"age zero", AgeRange("f"), 0, true},
		{"age upper bound", AgeRange("f"), 150, true},
		{"age above", AgeRange("f"), 151, false},
		{"age fractional", AgeRange("f"), 30.5, false},
		{"gender short form", GenderFormat("f"), "M", true},
		{"gender long form case-insensitive", GenderFormat("f"), "fEmAlE", true},
		{"gender unknown label", GenderFormat("f"), "X", false},
		{"blood type valid", BloodTypeFormat("f"), "ab+", true},
		{"blood type optional nil", BloodTypeFormat("f"), nil, true},
		{"blood type optional empty", BloodTypeFormat("f"), "", true},
		{"blood type invalid", BloodTypeFormat("f"), "C+", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Check(tt.value))
		})
	}
}
