// Package apperror defines the error taxonomy shared by the conduction engine.
// Callers wrap a sentinel with context via fmt.Errorf("%w: ...") and test for it with errors.Is.
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidExamConfiguration marks structural mismatches an instructor must fix
	// (exercise group counts, empty mandatory groups, non-positive max points).
	ErrInvalidExamConfiguration = errors.New("invalid exam configuration")

	// ErrInvalidArgument marks a missing or malformed parameter of a requested operation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a referenced exam, student exam or grading scale that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrGenerationInProgress is returned when another request holds the per-exam generation lock.
	ErrGenerationInProgress = errors.New("student exam generation already in progress")
)

// InvalidConfig wraps ErrInvalidExamConfiguration with a formatted reason.
func InvalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidExamConfiguration, fmt.Sprintf(format, args...))
}

// InvalidArgument wraps ErrInvalidArgument with a formatted reason.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound naming the missing entity.
func NotFound(entity string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, entity, id)
}
