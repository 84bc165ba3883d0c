// Package exception provides the custom error types and classification
// utilities used by the migration engine. It standardizes errors raised while
// extracting, transforming and loading data so that retry policies and the
// session report can categorize them uniformly.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// errorRegistry maps error names referenced in configuration to concrete Go
// error instances, held as singletons for comparison with errors.Is.
var errorRegistry = make(map[string]error)

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers an error prototype under a unique name.
// Registered prototypes are referenced by retryable/skippable exception lists
// in the configuration and matched through IsErrorOfType.
// Panics if name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}

	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether the given error type name is known.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// MigrationError is the custom error type raised during migration processing.
// It carries the module where the error occurred, a message, the wrapped
// original error and flags indicating whether it is retryable or skippable.
type MigrationError struct {
	// Module indicates where the error occurred (e.g. "lifecycle", "executor", "snapshot").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// isSkippable indicates whether this error is skippable.
	isSkippable bool
	// StackTrace is the stack trace captured when the error was created.
	StackTrace string
}

// NewMigrationError creates a new MigrationError instance.
func NewMigrationError(module, message string, originalErr error, isSkippable, isRetryable bool) *MigrationError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &MigrationError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// NewMigrationErrorf creates a new MigrationError using a format string.
// Optional flags and an error are extracted from the end of the variadic
// arguments in the order: [isSkippable bool], [isRetryable bool],
// [originalErr error]. The remaining arguments feed fmt.Sprintf.
func NewMigrationErrorf(module, format string, a ...interface{}) *MigrationError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	message := fmt.Sprintf(format, args...)

	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &MigrationError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *MigrationError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *MigrationError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *MigrationError) IsSkippable() bool {
	return e.isSkippable
}

// IsMigrationError determines if the given error is of type MigrationError.
func IsMigrationError(err error) bool {
	if err == nil {
		return false
	}
	var me *MigrationError
	return errors.As(err, &me)
}

// IsTemporary determines if an error is temporary (e.g. a network error or a
// transient database failure). The MigrationError retryable flag takes
// precedence when present.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*MigrationError); ok {
		return me.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF")
}

// IsFatal determines if an error is fatal, meaning it can neither be retried
// nor skipped. The MigrationError flags take precedence when present.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*MigrationError); ok {
		return !me.IsRetryable() && !me.IsSkippable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "data corruption")
}

// IsErrorOfType checks if an error matches a specified type name. The name can
// be a registered sentinel name, a Go error type name (e.g. "*net.OpError") or
// a substring of an error message. It walks the full error chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()

	if ok {
		if errors.Is(err, targetError) {
			return true
		}
	}

	currentErr := err
	for currentErr != nil {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}

		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}

		currentErr = errors.Unwrap(currentErr)
	}

	return false
}

// ErrSnapshotNotFound is the sentinel returned when a rollback or verification
// references a run that has no snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrUnknownRollbackStrategy is the sentinel returned when a rollback names a
// strategy that is not registered.
var ErrUnknownRollbackStrategy = errors.New("unknown rollback strategy")

func init() {
	// Register sentinel errors so errors.Is can detect them by constant name.
	RegisterErrorType("migrata.ErrSnapshotNotFound", ErrSnapshotNotFound)
	RegisterErrorType("migrata.ErrUnknownRollbackStrategy", ErrUnknownRollbackStrategy)

	// Common network-related error names.
	RegisterErrorType("io.EOF", errors.New("io.EOF"))
	RegisterErrorType("net.OpError", errors.New("net.OpError"))
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)

	// Common database-related error names.
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}

// ExtractErrorMessage extracts a clean message string from an error.
// For MigrationError it returns the Message field; otherwise Error().
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if me, ok := err.(*MigrationError); ok {
		return me.Message
	}
	return err.Error()
}
