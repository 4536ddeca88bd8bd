package domain

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/multierr"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("persistence failure")
	// ErrLockUnavailable is returned when the per-user lock cannot be acquired before the context ends.
	ErrLockUnavailable = errors.New("user lock unavailable")
)

// Validation codes surfaced to callers.
const (
	CodeMissingUserID       = "MISSING_USER_ID"
	CodeInvalidDateFormat   = "INVALID_DATE_FORMAT"
	CodeInvalidActivityType = "INVALID_ACTIVITY_TYPE"
	CodeInvalidLimit        = "INVALID_LIMIT"
	CodeInvalidMetric       = "INVALID_METRIC"
	CodeInvalidMetadata     = "INVALID_METADATA"
	CodeInvalidCursor       = "INVALID_CURSOR"
)

// ValidationError rejects caller input before any state is touched.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, code, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps an underlying storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// PartialUnlockError reports unlock writes that failed during an evaluation pass.
// Achievements listed in AchievementIDs were not unlocked; the rest of the pass stands.
type PartialUnlockError struct {
	UserID         string
	AchievementIDs []int64
	Err            error
}

func newPartialUnlockError(userID string, failed map[int64]error) *PartialUnlockError {
	if len(failed) == 0 {
		return nil
	}
	out := &PartialUnlockError{UserID: userID}
	for _, id := range slices.Sorted(maps.Keys(failed)) {
		out.AchievementIDs = append(out.AchievementIDs, id)
		out.Err = multierr.Combine(out.Err, fmt.Errorf("achievement %d: %w", id, failed[id]))
	}
	return out
}

func (e *PartialUnlockError) Error() string {
	ids := make([]string, 0, len(e.AchievementIDs))
	for _, id := range e.AchievementIDs {
		ids = append(ids, fmt.Sprint(id))
	}
	return fmt.Sprintf("unlock failed for user %s (achievements %s): %v", e.UserID, strings.Join(ids, ","), e.Err)
}

func (e *PartialUnlockError) Unwrap() []error {
	return multierr.Errors(e.Err)
}
