package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers absent and soft-deleted diagrams alike, scoped to tenant.
	ErrNotFound = errors.New("diagram not found")
	// ErrQuotaExceeded means the tenant's active-diagram count is at its plan limit.
	ErrQuotaExceeded = errors.New("diagram quota exceeded")
	// ErrValidationFailed means the caller must fix its input.
	ErrValidationFailed = errors.New("validation failed")
	// ErrWriteFailed wraps store transaction errors; callers may retry with a
	// fresh expected version.
	ErrWriteFailed = errors.New("write failed")
)

// ConflictError is an optimistic-lock version mismatch. It carries the
// committed state so a reconciliation UI can show the caller what it lost to.
type ConflictError struct {
	CurrentVersion int64
	Summary        ContentSummary
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: current version is %d", e.CurrentVersion)
}

// AsConflict unwraps a ConflictError from an error chain.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidationFailed}, args...)...)
}

// ValidateTitle enforces the 1–200 char title rule.
func ValidateTitle(title string) error {
	if title == "" {
		return validationError("title required")
	}
	if len(title) > TitleMaxLen {
		return validationError("title exceeds %d characters", TitleMaxLen)
	}
	return nil
}
