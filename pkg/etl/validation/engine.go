// Package validation provides a data quality validation framework for
// migration pipelines. Rules are attached to record fields and evaluated per
// record; batch validation partitions records by the severity of their
// failures.
package validation

import (
	"fmt"

	"github.com/kurobane/migrata/pkg/etl/core/model"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

// Severity classifies a validation failure.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rule is a single field-level validation rule. Check receives the field
// value, which is nil when the field is absent from the record.
type Rule struct {
	Field    string
	Name     string
	Severity Severity
	Message  string
	Check    func(value interface{}) bool
}

// Result is the outcome of evaluating one rule against one record.
type Result struct {
	Field    string
	Value    interface{}
	Valid    bool
	Severity Severity
	Message  string
	RuleName string
}

// RecordIssue groups the failed results for one record within a batch.
type RecordIssue struct {
	Index  int
	Record model.Record
	Issues []Result
}

// BatchSummary is the outcome of validating a batch of records. Every record
// lands in exactly one of the three partitions: records with at least one
// error failure, records with only warning failures, and records that passed
// every rule (info failures do not demote a record).
type BatchSummary struct {
	TotalRecords   int
	ValidRecords   []model.Record
	WarningRecords []RecordIssue
	ErrorRecords   []RecordIssue
	Results        []Result
}

// Validator evaluates a fixed set of rules against records. Rules are
// registered once during setup; evaluation does not mutate the validator, so
// a configured Validator may be shared across goroutines.
type Validator struct {
	rules []Rule
}

// NewValidator creates a Validator with the given rules.
func NewValidator(rules ...Rule) *Validator {
	return &Validator{rules: rules}
}

// AddRule registers an additional rule.
func (v *Validator) AddRule(rule Rule) {
	if rule.Severity == "" {
		rule.Severity = SeverityError
	}
	if rule.Name == "" {
		rule.Name = "anonymous_rule"
	}
	v.rules = append(v.rules, rule)
}

// Rules returns the registered rules.
func (v *Validator) Rules() []Rule {
	return v.rules
}

// ValidateRecord evaluates every rule against the record and returns one
// Result per rule. A panicking check function is recovered and reported as a
// failed error-severity result rather than aborting the run.
func (v *Validator) ValidateRecord(record model.Record) []Result {
	results := make([]Result, 0, len(v.rules))
	for _, rule := range v.rules {
		value := record.Get(rule.Field)
		results = append(results, v.evaluate(rule, value))
	}
	return results
}

func (v *Validator) evaluate(rule Rule, value interface{}) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("Validation rule '%s' panicked on field '%s': %v", rule.Name, rule.Field, r)
			result = Result{
				Field:    rule.Field,
				Value:    value,
				Valid:    false,
				Severity: SeverityError,
				Message:  fmt.Sprintf("Validation error: %v", r),
				RuleName: rule.Name,
			}
		}
	}()

	message := rule.Message
	if message == "" {
		message = fmt.Sprintf("Validation failed for %s", rule.Field)
	}
	return Result{
		Field:    rule.Field,
		Value:    value,
		Valid:    rule.Check(value),
		Severity: rule.Severity,
		Message:  message,
		RuleName: rule.Name,
	}
}

// ValidateBatch evaluates the rule set against every record and partitions the
// batch by failure severity.
func (v *Validator) ValidateBatch(records []model.Record) *BatchSummary {
	summary := &BatchSummary{TotalRecords: len(records)}

	for i, record := range records {
		results := v.ValidateRecord(record)
		summary.Results = append(summary.Results, results...)

		var failures []Result
		hasError := false
		hasWarning := false
		for _, r := range results {
			if r.Valid {
				continue
			}
			failures = append(failures, r)
			switch r.Severity {
			case SeverityError:
				hasError = true
			case SeverityWarning:
				hasWarning = true
			}
		}

		switch {
		case hasError:
			summary.ErrorRecords = append(summary.ErrorRecords, RecordIssue{Index: i, Record: record, Issues: failures})
		case hasWarning:
			summary.WarningRecords = append(summary.WarningRecords, RecordIssue{Index: i, Record: record, Issues: failures})
		default:
			summary.ValidRecords = append(summary.ValidRecords, record)
		}
	}
	return summary
}

// ErrorMessages renders the failures of the error partition as one string per
// record, suitable for run bookkeeping.
func (s *BatchSummary) ErrorMessages() []string {
	var out []string
	for _, issue := range s.ErrorRecords {
		for _, r := range issue.Issues {
			if r.Severity != SeverityError {
				continue
			}
			out = append(out, fmt.Sprintf("record %d: %s (%s=%v)", issue.Index, r.Message, r.Field, r.Value))
		}
	}
	return out
}

// WarningMessages renders the failures of the warning partition.
func (s *BatchSummary) WarningMessages() []string {
	var out []string
	for _, issue := range s.WarningRecords {
		for _, r := range issue.Issues {
			out = append(out, fmt.Sprintf("record %d: %s (%s=%v)", issue.Index, r.Message, r.Field, r.Value))
		}
	}
	return out
}
