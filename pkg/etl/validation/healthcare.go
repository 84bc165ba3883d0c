package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Healthcare-specific rules used by the patient and clinical migrations.

var (
	patientIDPattern = regexp.MustCompile(`^[A-Z0-9]{6,12}$`)
	mrnSeparators    = regexp.MustCompile(`[\-\s]`)
	digitsOnly       = regexp.MustCompile(`^\d+$`)
)

// PatientIDFormat checks an uppercase alphanumeric patient identifier of 6 to
// 12 characters.
func PatientIDFormat(field string) Rule {
	return Rule{
		Field:    field,
		Name:     "patient_id_format",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must be a 6-12 character uppercase alphanumeric patient ID", field),
		Check: func(value interface{}) bool {
			if value == nil {
				return false
			}
			return patientIDPattern.MatchString(asString(value))
		},
	}
}

// MedicalRecordNumber checks a numeric medical record number of at least six
// digits, ignoring dash and space separators.
func MedicalRecordNumber(field string) Rule {
	return Rule{
		Field:    field,
		Name:     "medical_record_number",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must be a numeric medical record number of at least 6 digits", field),
		Check: func(value interface{}) bool {
			if value == nil {
				return false
			}
			clean := mrnSeparators.ReplaceAllString(asString(value), "")
			return len(clean) >= 6 && digitsOnly.MatchString(clean)
		},
	}
}

// AgeRange checks that an age field is an integer between 0 and 150.
func AgeRange(field string) Rule {
	return Rule{
		Field:    field,
		Name:     "age_range",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must be between 0 and 150", field),
		Check: func(value interface{}) bool {
			if value == nil {
				return false
			}
			f, ok := asFloat(value)
			if !ok || f != float64(int64(f)) {
				return false
			}
			return f >= 0 && f <= 150
		},
	}
}

// GenderFormat checks the field against the accepted gender labels,
// case-insensitively.
func GenderFormat(field string) Rule {
	valid := map[string]struct{}{
		"m": {}, "f": {}, "male": {}, "female": {}, "other": {}, "u": {}, "unknown": {},
	}
	return Rule{
		Field:    field,
		Name:     "gender_format",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must be a recognized gender label", field),
		Check: func(value interface{}) bool {
			if value == nil {
				return false
			}
			s := strings.ToLower(strings.TrimSpace(asString(value)))
			if s == "" {
				return false
			}
			_, ok := valid[s]
			return ok
		},
	}
}

// BloodTypeFormat checks an ABO blood type. The field is optional: nil or an
// empty string passes.
func BloodTypeFormat(field string) Rule {
	valid := map[string]struct{}{
		"A+": {}, "A-": {}, "B+": {}, "B-": {}, "AB+": {}, "AB-": {}, "O+": {}, "O-": {},
	}
	return Rule{
		Field:    field,
		Name:     "blood_type_format",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must be a valid ABO blood type", field),
		Check: func(value interface{}) bool {
			if value == nil {
				return true
			}
			s := strings.ToUpper(strings.TrimSpace(asString(value)))
			if s == "" {
				return true
			}
			_, ok := valid[s]
			return ok
		},
	}
}
