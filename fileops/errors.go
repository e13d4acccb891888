package fileops

import (
	"fmt"

	"github.com/pleme-io/typemill/plan"
)

// StalePlanError reports the first checksum mismatch found during apply.
type StalePlanError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *StalePlanError) Error() string {
	return fmt.Sprintf("stale plan: %s changed since planning (expected %s, got %s)", e.Path, e.Expected, e.Actual)
}

// ValidationFailedError reports a failing post-apply validation command. When
// the apply ran with RollbackOnError, the edits have already been rolled back
// by the time this error is returned; otherwise they stay on disk.
type ValidationFailedError struct {
	Result plan.ValidationResult
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("validation failed with exit code %d", e.Result.ExitCode)
}
