package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/julianstephens/ptlog/internal/logger"
)

// ErrNotFound is returned when an activity log referenced by an edit or
// delete does not exist (or is not visible to the caller).
var ErrNotFound = stderrors.New("activity log not found")

// FieldError names one offending field of a submission using a JSON path
// such as "sets[2].set_number".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed, missing or type-mismatched submission
// fields. Fields keeps the order in which the checks ran.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid submission"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid submission: " + strings.Join(parts, "; ")
}

// Add appends a field failure.
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// HasFields reports whether any failure was recorded.
func (e *ValidationError) HasFields() bool {
	return len(e.Fields) > 0
}

// OrNil returns e when failures were recorded and nil otherwise, so callers
// can return it directly as an error.
func (e *ValidationError) OrNil() error {
	if e == nil || !e.HasFields() {
		return nil
	}
	return e
}

// AuthorizationError reports that the caller has no authorized relationship
// to the target patient (or to the activity log being edited).
type AuthorizationError struct {
	CallerID  string
	PatientID string
	Reason    string
}

func (e *AuthorizationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("caller %s is not authorized for patient %s: %s", e.CallerID, e.PatientID, e.Reason)
	}
	return fmt.Sprintf("caller %s is not authorized for patient %s", e.CallerID, e.PatientID)
}

// ConflictError reports that the idempotency key was already committed. No
// rows from the conflicting attempt exist.
type ConflictError struct {
	IdempotencyKey string
	// LogID is the log that holds the key, set only when the caller
	// submitted it.
	LogID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q already committed", e.IdempotencyKey)
}

// QueuePersistenceError reports that a submission could not be durably
// enqueued on the device. The caller still holds the only copy.
type QueuePersistenceError struct {
	IdempotencyKey string
	Err            error
}

func (e *QueuePersistenceError) Error() string {
	return fmt.Sprintf("failed to persist submission %s to the local queue: %v", e.IdempotencyKey, e.Err)
}

func (e *QueuePersistenceError) Unwrap() error { return e.Err }

// CommitError wraps any failure inside the server transaction. The
// transaction has been rolled back when this is returned.
type CommitError struct {
	Op  string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s: commit failed: %v", e.Op, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Kind returns the wire name of the error class of err.
func Kind(err error) string {
	var (
		ve *ValidationError
		ae *AuthorizationError
		ce *ConflictError
		qe *QueuePersistenceError
	)
	switch {
	case err == nil:
		return ""
	case stderrors.As(err, &ve):
		return "validation"
	case stderrors.As(err, &ae):
		return "authorization"
	case stderrors.As(err, &ce):
		return "conflict"
	case stderrors.Is(err, ErrNotFound):
		return "not_found"
	case stderrors.As(err, &qe):
		return "queue_persistence"
	default:
		return "commit"
	}
}

// Format formats an error message with a consistent "Error: " prefix
func Format(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Error: %v", err)
}

// Formatf formats an error message with a consistent "Error: " prefix using a format string
func Formatf(format string, args ...interface{}) string {
	return fmt.Sprintf("Error: "+format, args...)
}

// Fatal logs an error and exits the program with exit code 1
func Fatal(err error) {
	if err != nil {
		logger.Error("Command execution failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s\n", Format(err))
		os.Exit(1)
	}
}

// Fatalf logs and formats an error message, then exits the program with exit code 1
func Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("Command execution failed", "error", msg)
	fmt.Fprintf(os.Stderr, "%s\n", Formatf(format, args...))
	os.Exit(1)
}
