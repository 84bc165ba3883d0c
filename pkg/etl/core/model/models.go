package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kurobane/migrata/pkg/etl/support/exception"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"

	"github.com/google/uuid"
)

// RunStatus represents the state of a transformer run.
type RunStatus string

const (
	RunStatusConfigured        RunStatus = "CONFIGURED"
	RunStatusSnapshotPending   RunStatus = "SNAPSHOT_PENDING"
	RunStatusRunning           RunStatus = "RUNNING"
	RunStatusCompleted         RunStatus = "COMPLETED"
	RunStatusFailed            RunStatus = "FAILED"
	RunStatusRollbackAttempted RunStatus = "ROLLBACK_ATTEMPTED"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsTerminal checks if the RunStatus represents a finished state.
// ROLLBACK_ATTEMPTED is transitional: a run always settles back to FAILED
// after the rollback outcome is recorded.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// FailureList holds an ordered list of error or warning messages.
type FailureList []string

// Value implements the `driver.Valuer` interface, converting the FailureList
// to a JSON string for persistence.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a
// FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	if value == nil {
		*fl = make(FailureList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}

	if len(b) == 0 {
		*fl = make(FailureList, 0)
		return nil
	}

	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}

// Statistics is a mapping of named counters accumulated during a run.
// Counters are monotonically non-decreasing while the run is in progress.
type Statistics map[string]int

// Value implements the `driver.Valuer` interface, converting Statistics to a
// JSON string.
func (s Statistics) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to
// Statistics.
func (s *Statistics) Scan(value interface{}) error {
	if value == nil {
		*s = make(Statistics)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for Statistics: %T", value)
	}

	if len(b) == 0 {
		*s = make(Statistics)
		return nil
	}

	if err := json.Unmarshal(b, s); err != nil {
		return fmt.Errorf("failed to unmarshal Statistics JSON: %w", err)
	}
	return nil
}

// Record is a single data record flowing through a migration, keyed by field
// name. Missing fields read as nil.
type Record map[string]interface{}

// Get retrieves the value for the specified field. Returns nil when the field
// is absent, which validation rules must handle explicitly.
func (r Record) Get(field string) interface{} {
	return r[field]
}

// GetString retrieves the value for the specified field as a string.
func (r Record) GetString(field string) (string, bool) {
	val, ok := r[field]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt retrieves the value for the specified field as an int.
// Numbers decoded from JSON arrive as float64 and are converted.
func (r Record) GetInt(field string) (int, bool) {
	val, ok := r[field]
	if !ok {
		return 0, false
	}
	if i, ok := val.(int); ok {
		return i, true
	}
	if f, ok := val.(float64); ok {
		return int(f), true
	}
	return 0, false
}

// Copy creates a shallow copy of the Record.
func (r Record) Copy() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// TransformerRun is the mutable bookkeeping record for a single execution of
// one transformer. It is owned exclusively by one lifecycle instance and is
// never shared across concurrent runs; once the run reaches a terminal state
// it must no longer be mutated.
type TransformerRun struct {
	ID              string
	TransformerName string
	Status          RunStatus
	DryRun          bool
	StartTime       time.Time
	EndTime         *time.Time
	Errors          FailureList
	Warnings        FailureList
	Stats           Statistics
	RollbackOK      *bool // Outcome of the rollback attempt, nil when none was made.
}

// NewTransformerRun creates a new TransformerRun in the CONFIGURED state.
// The run ID is derived from the transformer name and the start timestamp.
func NewTransformerRun(transformerName string) *TransformerRun {
	now := time.Now()
	return &TransformerRun{
		ID:              fmt.Sprintf("%s_%d", transformerName, now.Unix()),
		TransformerName: transformerName,
		Status:          RunStatusConfigured,
		StartTime:       now,
		Errors:          make(FailureList, 0),
		Warnings:        make(FailureList, 0),
		Stats:           make(Statistics),
	}
}

// isValidRunTransition checks if the state transition for a TransformerRun is
// valid.
func isValidRunTransition(current, next RunStatus) bool {
	switch current {
	case RunStatusConfigured:
		// A dry run or a run with no affected collections skips SNAPSHOT_PENDING.
		return next == RunStatusSnapshotPending || next == RunStatusRunning
	case RunStatusSnapshotPending:
		return next == RunStatusRunning
	case RunStatusRunning:
		return next == RunStatusCompleted || next == RunStatusFailed
	case RunStatusFailed:
		return next == RunStatusRollbackAttempted
	case RunStatusRollbackAttempted:
		// Rollback outcome never converts a failed run into a successful one.
		return next == RunStatusFailed
	case RunStatusCompleted:
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the state of the TransformerRun.
func (r *TransformerRun) TransitionTo(newStatus RunStatus) error {
	if !isValidRunTransition(r.Status, newStatus) {
		return fmt.Errorf("TransformerRun (ID: %s): Invalid state transition: %s -> %s", r.ID, r.Status, newStatus)
	}
	r.Status = newStatus
	return nil
}

// MarkAsRunning updates the run status to RUNNING.
func (r *TransformerRun) MarkAsRunning() {
	if err := r.TransitionTo(RunStatusRunning); err != nil {
		logger.Warnf("Could not update TransformerRun (ID: %s) status to RUNNING: %v", r.ID, err)
		r.Status = RunStatusRunning
	}
}

// MarkAsCompleted updates the run status to COMPLETED and stamps the end time.
func (r *TransformerRun) MarkAsCompleted() {
	if err := r.TransitionTo(RunStatusCompleted); err != nil {
		logger.Warnf("Could not update TransformerRun (ID: %s) status to COMPLETED: %v", r.ID, err)
		r.Status = RunStatusCompleted
	}
	now := time.Now()
	r.EndTime = &now
}

// MarkAsFailed updates the run status to FAILED, stamps the end time and
// records the error.
func (r *TransformerRun) MarkAsFailed(err error) {
	if terr := r.TransitionTo(RunStatusFailed); terr != nil {
		logger.Warnf("Could not update TransformerRun (ID: %s) status to FAILED: %v", r.ID, terr)
		r.Status = RunStatusFailed
	}
	now := time.Now()
	r.EndTime = &now
	if err != nil {
		r.AddError(err)
	}
}

// MarkRollbackAttempted records the transition through ROLLBACK_ATTEMPTED and
// back to the terminal FAILED state, along with the rollback outcome.
func (r *TransformerRun) MarkRollbackAttempted(ok bool) {
	if err := r.TransitionTo(RunStatusRollbackAttempted); err != nil {
		logger.Warnf("Could not update TransformerRun (ID: %s) status to ROLLBACK_ATTEMPTED: %v", r.ID, err)
	}
	r.RollbackOK = &ok
	if err := r.TransitionTo(RunStatusFailed); err != nil {
		logger.Warnf("Could not settle TransformerRun (ID: %s) back to FAILED after rollback: %v", r.ID, err)
		r.Status = RunStatusFailed
	}
}

// AddError appends error information to the run. Duplicate messages are
// skipped.
func (r *TransformerRun) AddError(err error) {
	if err == nil {
		return
	}
	errMsg := exception.ExtractErrorMessage(err)
	for _, existing := range r.Errors {
		if existing == errMsg {
			logger.Debugf("Skipped adding duplicate error '%s' to TransformerRun (ID: %s).", errMsg, r.ID)
			return
		}
	}
	r.Errors = append(r.Errors, errMsg)
}

// AddWarning appends a warning message to the run.
func (r *TransformerRun) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// IncrementStat increases the named counter by delta. Negative deltas are
// rejected because counters are monotonically non-decreasing during a run.
func (r *TransformerRun) IncrementStat(key string, delta int) {
	if delta < 0 {
		logger.Warnf("TransformerRun (ID: %s): Ignoring negative statistics delta %d for '%s'.", r.ID, delta, key)
		return
	}
	r.Stats[key] += delta
}

// SetStat raises the named counter to value. Attempts to lower an existing
// counter are rejected.
func (r *TransformerRun) SetStat(key string, value int) {
	if current, ok := r.Stats[key]; ok && value < current {
		logger.Warnf("TransformerRun (ID: %s): Ignoring attempt to lower statistic '%s' from %d to %d.", r.ID, key, current, value)
		return
	}
	r.Stats[key] = value
}

// Duration returns the elapsed wall-clock time of the run. For a run still in
// progress it measures up to now.
func (r *TransformerRun) Duration() time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return time.Since(r.StartTime)
}

// Succeeded reports whether the run reached the COMPLETED terminal state.
func (r *TransformerRun) Succeeded() bool {
	return r.Status == RunStatusCompleted
}

// MigrationSnapshot is the point-in-time backup metadata captured before a
// mutating run. The backup artifact referenced by BackupLocation holds the
// serialized contents of every affected collection.
type MigrationSnapshot struct {
	MigrationID     string
	Timestamp       time.Time
	TransformerName string
	Collections     []string
	RecordCounts    map[string]int64
	BackupLocation  string
	Metadata        map[string]interface{}
}

// VerificationReport is the result of comparing current collection counts
// against a snapshot's recorded counts. It reports discrepancies; it never
// corrects state.
type VerificationReport struct {
	MigrationID      string
	VerificationTime time.Time
	CollectionCounts map[string]int64
	Discrepancies    []string
}

// Clean reports whether verification found no discrepancies.
func (vr *VerificationReport) Clean() bool {
	return len(vr.Discrepancies) == 0
}

// NewID generates a new UUID string, used for snapshot backup artifact names
// and outcome record identifiers.
func NewID() string {
	return uuid.New().String()
}
